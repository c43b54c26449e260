package app

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はゲートウェイのHTTPサーバーを起動することを示す。
	CommandServe Command = "serve"
	// CommandSweep はPostgresバックエンドの期限切れエントリ削除を定期実行することを示す。
	CommandSweep Command = "sweep"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Options はコマンドライン引数の解析結果。
type Options struct {
	Command Command
	// Port が空でなければSERVER_PORTより優先する。
	Port string
	Help bool
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "sweep":
		return CommandSweep
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseOptions はサブコマンドとフラグを解析する。
// サブコマンドが省略された場合、先頭の引数もフラグとして扱う。
func ParseOptions(args []string) (*Options, error) {
	opts := &Options{Command: ParseCommand(args)}

	rest := args
	if len(args) > 0 && string(opts.Command) == args[0] {
		rest = args[1:]
	}

	flagSet := newFlagSet(opts)
	if err := flagSet.Parse(rest); err != nil {
		if err == pflag.ErrHelp {
			opts.Help = true
			return opts, nil
		}
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", extra[0])
	}
	return opts, nil
}

func newFlagSet(opts *Options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("slashcmd-gateway", pflag.ContinueOnError)
	flagSet.StringVar(&opts.Port, "port", "", "listen port (overrides SERVER_PORT)")
	return flagSet
}

// Usage はヘルプ文字列を返す。
func Usage() string {
	return `slashcmd-gateway - edge gateway for the slashcmd CLI

Usage:
  slashcmd-gateway [serve|sweep|migrate|healthcheck] [flags]

Commands:
  serve        run the HTTP gateway (default)
  sweep        delete expired rows from the Postgres KV backend on an interval
  migrate      apply database migrations
  healthcheck  GET /ping on localhost and exit non-zero on failure

Flags:
` + newFlagSet(&Options{}).FlagUsages()
}
