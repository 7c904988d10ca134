package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"

	"staticserve/internal/config"
	"staticserve/internal/mimetable"
)

// shutdownTimeout はグレースフルシャットダウンの猶予時間
const shutdownTimeout = 5 * time.Second

// Options はサーバーの出力先などの付帯設定
type Options struct {
	Stdout    io.Writer // 起動・停止メッセージの出力先
	AccessLog io.Writer // アクセスログの出力先
}

// DefaultOptions は標準出力と標準エラーを使う既定のオプションを返す
func DefaultOptions() Options {
	return Options{
		Stdout:    os.Stdout,
		AccessLog: os.Stderr,
	}
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	root       string
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	out        io.Writer

	// まだリクエストを受け取っていない接続（http.StateNew）
	connMu    sync.Mutex
	freshConn map[net.Conn]struct{}

	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// New は新しいServerインスタンスを作成する
// table は起動時に一度だけ構築され、以降ハンドラから読み取り専用で参照される
func New(cfg *config.Config, table mimetable.Table, opts Options) *Server {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.AccessLog == nil {
		opts.AccessLog = io.Discard
	}

	root, err := cfg.AbsRoot()
	if err != nil {
		root = cfg.Static.Root
	}

	static := NewStaticHandler(root, table, cfg.Static)
	engine := newEngine(static, opts.AccessLog)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	// 1接続1リクエストとし、応答後に接続を閉じて次の接続を受け付ける
	httpServer.SetKeepAlivesEnabled(false)

	s := &Server{
		config:     cfg,
		root:       root,
		engine:     engine,
		httpServer: httpServer,
		out:        opts.Stdout,
		freshConn:  make(map[net.Conn]struct{}),
	}
	httpServer.ConnState = s.trackConn
	return s
}

// newEngine はルーティングとミドルウェアを設定したginエンジンを作成する
func newEngine(static *StaticHandler, accessLog io.Writer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	if err := engine.SetTrustedProxies(nil); err != nil {
		log.Printf("信頼するプロキシの設定に失敗しました: %v", err)
	}
	engine.HandleMethodNotAllowed = true
	engine.SetHTMLTemplate(listingTemplate)

	engine.Use(
		requestID(),
		gin.LoggerWithConfig(gin.LoggerConfig{
			Formatter: accessLogFormatter,
			Output:    accessLog,
		}),
		gin.Recovery(),
	)

	// 静的ファイル
	engine.GET("/*filepath", static.Serve)
	engine.HEAD("/*filepath", static.Serve)

	// GET / HEAD 以外は未対応
	engine.NoMethod(handleUnsupportedMethod)
	engine.NoRoute(handleUnsupportedMethod)

	return engine
}

// Handler はリクエストハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// trackConn はリクエストをまだ受け取っていない接続を記録する
func (s *Server) trackConn(conn net.Conn, state http.ConnState) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if state == http.StateNew {
		s.freshConn[conn] = struct{}{}
		return
	}
	delete(s.freshConn, conn)
}

// closeFreshConns はリクエストを受け取っていない接続を閉じる
// http.Server.Shutdown はこれらを待機中とみなさないため、停止前に閉じておく
func (s *Server) closeFreshConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	for conn := range s.freshConn {
		_ = conn.Close()
		delete(s.freshConn, conn)
	}
}

// Listen はリッスンソケットを確保する
// ポートが使用中などで失敗した場合はエラーを返し、配信ループには入らない
func (s *Server) Listen() error {
	if s.listener != nil {
		return errors.New("すでにリッスンしています")
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("リッスンに失敗: %w", err)
	}

	s.listener = newSerialListener(ln)
	return nil
}

// Addr は実際にバインドされたアドレスを返す
// Listen 前は nil
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve は確保済みのリスナーで配信を開始し、割り込みシグナルかコンテキストのキャンセルまでブロックする
// 割り込みによる停止は正常終了として nil を返す
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("リッスンしていません")
	}

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// シャットダウン用のチャンネル
	serveErrCh := make(chan error, 1)

	// 接続は serialListener が1つずつ払い出すため、リクエストは到着順に1件ずつ処理される
	go func() {
		err := s.httpServer.Serve(s.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !s.stopping.Load() {
			serveErrCh <- fmt.Errorf("配信ループが異常終了: %w", err)
		}
		close(serveErrCh)
	}()

	s.printBanner()

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err, ok := <-serveErrCh:
		if ok && err != nil {
			_ = s.listener.Close()
			return err
		}
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// printBanner は起動メッセージを出力する
func (s *Server) printBanner() {
	host := s.config.Server.Host
	port := s.config.Server.Port
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	url := fmt.Sprintf("http://%s/", net.JoinHostPort(host, strconv.Itoa(port)))

	color.New(color.FgGreen).Fprintf(s.out, "サーバーを起動しました: %s (ルート: %s)\n", url, s.root)
	color.New(color.FgHiBlack).Fprintln(s.out, "Ctrl+C で停止します")
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 複数回呼ばれても停止処理は一度だけ行われる
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() {
		log.Println("サーバーをシャットダウンしています...")
		s.stopping.Store(true)

		// 新しい接続の受け付けを止めてから、リクエスト待ちの接続を閉じる
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				s.stopErr = fmt.Errorf("リスナーの解放に失敗: %w", err)
				return
			}
		}
		s.closeFreshConns()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			// 猶予内に終わらない接続は打ち切る。割り込みによる停止なので失敗とはしない
			log.Printf("処理中の接続を打ち切りました: %v", err)
			_ = s.httpServer.Close()
		}

		color.New(color.FgYellow).Fprintln(s.out, "サーバーを停止しました")
	})
	return s.stopErr
}
