// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ドメインエラー。FeedErrorや各種ラップエラーの判定にerrors.Isで使用する。
var (
	// ErrTransportFailure はネットワークエラーまたは200以外のHTTPステータス。
	ErrTransportFailure = errors.New("トランスポートエラー")
	// ErrUnknownFormat はAtomでもRSSでもない文書。
	ErrUnknownFormat = errors.New("未知のフィード形式")
	// ErrParseFailure は形式は判別できたが文書が壊れている。
	ErrParseFailure = errors.New("フィードのパースに失敗")
	// ErrDateParse は日時文字列を解釈できない。番兵値にフォールバックする。
	ErrDateParse = errors.New("日時のパースに失敗")
	// ErrHookFailure は新規エントリフックのエラーまたはパニック。
	ErrHookFailure = errors.New("新規エントリフックの実行に失敗")
	// ErrEntryNotFound は指定されたエントリが存在しない。
	ErrEntryNotFound = errors.New("エントリが見つかりません")
)

// FailureKind はフィード単位の失敗の種別。
type FailureKind string

const (
	FailureTransport     FailureKind = "transport"
	FailureUnknownFormat FailureKind = "unknown_format"
	FailureParse         FailureKind = "parse"
)

// FeedError はフィード1件のフェッチ/パースの失敗を表す。
// 失敗はフィード単位で分離され、他のフィードの処理には影響しない。
type FeedError struct {
	FeedURL string
	Kind    FailureKind
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *FeedError) Error() string {
	return fmt.Sprintf("フィード %s の更新に失敗 (%s): %v", e.FeedURL, e.Kind, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *FeedError) Unwrap() error {
	return e.Err
}

// APIError は統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, entry, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeEntryNotFound  = "ENTRY_NOT_FOUND"
	ErrCodeFeedNotFound   = "FEED_NOT_FOUND"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidOrder   = "INVALID_ORDER"
	ErrCodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewEntryNotFoundError はエントリ未検出エラーを生成する。
func NewEntryNotFoundError(feedURL, id string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("指定されたエントリが見つかりません: %s (%s)", id, feedURL),
		Category: "entry",
		Action:   "フィードURLとエントリIDを確認してください。",
	}
}

// NewFeedNotFoundError は設定されていないフィードを指定した場合のエラーを生成する。
func NewFeedNotFoundError(feedURL string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  fmt.Sprintf("指定されたフィードは登録されていません: %s", feedURL),
		Category: "entry",
		Action:   "設定済みのフィードURLを指定してください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストパラメータを確認してください。",
	}
}

// NewInvalidOrderError は並び順の指定が不正な場合のエラーを生成する。
func NewInvalidOrderError(order string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrder,
		Message:  fmt.Sprintf("無効な並び順です: %s", order),
		Category: "validation",
		Action:   "並び順には desc または asc を指定してください。",
	}
}

// NewRateLimitedError はクライアントごとのレート制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
