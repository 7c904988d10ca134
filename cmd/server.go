// Package main は静的ファイルサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"staticserve/internal/config"
	"staticserve/internal/mimetable"
	"staticserve/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		root       = flag.String("root", "", "配信するディレクトリ (デフォルト: 実行ファイルのディレクトリ)")
		configFile = flag.String("config", "", "設定ファイル (.yaml / .toml / .json)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("staticserve")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を組み立てる（既定値 < 設定ファイル < 環境変数 < コマンドラインオプション）
	// -config は CONFIG_FILE より優先する
	cfg, err := config.Prepare(*configFile)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *root != "" {
		cfg.Static.Root = *root
	}

	// すべての上書きを適用した後に一度だけ検証する
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	srv := server.New(cfg, mimetable.Default(), server.DefaultOptions())

	if err := srv.Start(context.Background()); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
