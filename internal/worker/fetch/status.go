package fetch

// StatusClass はHTTPステータスコードの分類。ログとメトリクスのラベルに使う。
// 200以外は全てトランスポートエラーとして扱い、分類は失敗の性質を示すだけである。
type StatusClass string

const (
	// StatusOK はフェッチ成功（200）。
	StatusOK StatusClass = "ok"
	// StatusNotModified はコンテンツ未変更（304）。条件付きGETは送らないため通常は発生しない。
	StatusNotModified StatusClass = "not_modified"
	// StatusGone はフィードが存在しないか取得が禁止されている（404/410/401/403）。
	StatusGone StatusClass = "gone"
	// StatusTransient は時間をおけば回復しうる（429/5xx）。
	StatusTransient StatusClass = "transient"
	// StatusUnexpected はその他のステータスコード。
	StatusUnexpected StatusClass = "unexpected"
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode == 200:
		return StatusOK
	case statusCode == 304:
		return StatusNotModified
	case statusCode == 404 || statusCode == 410:
		return StatusGone
	case statusCode == 401 || statusCode == 403:
		return StatusGone
	case statusCode == 429:
		return StatusTransient
	case statusCode >= 500:
		return StatusTransient
	default:
		return StatusUnexpected
	}
}
