package app

import "strings"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTP APIと定期更新ポーラーを起動することを示す。
	CommandServe Command = "serve"
	// CommandFetch は全フィードを1回だけ更新して終了することを示す。
	CommandFetch Command = "fetch"
	// CommandList はフィルタに一致するエントリを一覧表示することを示す。
	CommandList Command = "list"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "fetch":
		return CommandFetch
	case "list":
		return CommandList
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// FilterQuery はlistサブコマンドの残りの引数をフィルタ文字列として連結する。
func FilterQuery(args []string) string {
	if len(args) <= 1 {
		return ""
	}
	return strings.Join(args[1:], " ")
}
