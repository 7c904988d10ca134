package main

import (
	"context"
	"log"

	"staticserve/internal/config"
	"staticserve/internal/mimetable"
	"staticserve/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバーを作成
	srv := server.New(cfg, mimetable.Default(), server.DefaultOptions())

	// サーバーを起動（割り込みで停止するまでブロック）
	if err := srv.Start(context.Background()); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
