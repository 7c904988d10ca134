// Package server は、静的ファイルを配信するHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動と停止、ルーティング、
// ルートディレクトリ以下のファイル配信を担当します。
//
// 責務:
//   - リッスンソケットの確保と解放
//   - ルートディレクトリ以下のファイル・インデックス・ディレクトリ一覧の配信
//   - 拡張子テーブルに基づく Content-Type の決定
//   - 割り込みシグナルによる停止
//
// 仕様:
//   - ルーティングとアクセスログはginを使用
//   - パスの解決は os.Root を使い、ルート外には出ない
//   - 接続は1つずつ到着順に処理する（同時処理なし）
//   - GET / HEAD 以外のメソッドは 501
//   - グレースフルシャットダウンに対応
package server
