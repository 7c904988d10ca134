package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"staticserve/internal/config"
	"staticserve/internal/mimetable"
)

// requestIDKey はリクエストIDをginコンテキストに保存するキー
const requestIDKey = "request_id"

// StaticHandler はルートディレクトリ以下のファイルを配信するハンドラ
type StaticHandler struct {
	root       string
	table      mimetable.Table
	indexFiles []string
	sniff      bool
}

// listingEntry はディレクトリ一覧の1行
type listingEntry struct {
	Href string
	Name string
}

// NewStaticHandler は root 以下を配信するハンドラを作成する
// root 以外のパスは参照しないため、プロセスのカレントディレクトリには依存しない
func NewStaticHandler(root string, table mimetable.Table, cfg config.StaticConfig) *StaticHandler {
	return &StaticHandler{
		root:       root,
		table:      table,
		indexFiles: slices.Clone(cfg.IndexFiles),
		sniff:      cfg.Sniff,
	}
}

// Serve はリクエストパスに対応するファイル、インデックスファイル、またはディレクトリ一覧を返す
func (h *StaticHandler) Serve(c *gin.Context) {
	urlPath := c.Request.URL.Path
	name := path.Clean("/" + urlPath)
	rel := strings.TrimPrefix(name, "/")
	if rel == "" {
		rel = "."
	}

	// os.Root 経由で開くため、".." やルート外を指すシンボリックリンクでは外に出られない
	root, err := os.OpenRoot(h.root)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, fmt.Errorf("ルートディレクトリを開けません: %w", err))
		return
	}
	defer root.Close()

	f, err := root.Open(rel)
	if err != nil {
		h.failOpen(c, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	if info.IsDir() {
		// 末尾スラッシュなしのディレクトリはスラッシュ付きへリダイレクト
		if !strings.HasSuffix(urlPath, "/") {
			target := c.Request.URL.EscapedPath() + "/"
			if q := c.Request.URL.RawQuery; q != "" {
				target += "?" + q
			}
			c.Redirect(http.StatusMovedPermanently, target)
			return
		}

		if h.serveIndex(c, root, rel) {
			return
		}
		h.serveListing(c, root, rel, f)
		return
	}

	// ファイルをディレクトリとして要求した場合は見つからない扱い
	if strings.HasSuffix(urlPath, "/") {
		h.fail(c, http.StatusNotFound, nil)
		return
	}

	h.serveFile(c, f, info)
}

// serveIndex はディレクトリ内のインデックスファイルを探して配信する
// 配信した場合は true を返す
func (h *StaticHandler) serveIndex(c *gin.Context, root *os.Root, dir string) bool {
	for _, index := range h.indexFiles {
		f, err := root.Open(path.Join(dir, index))
		if err != nil {
			continue
		}

		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			f.Close()
			continue
		}

		h.serveFile(c, f, info)
		f.Close()
		return true
	}
	return false
}

// serveFile はファイルの内容を返す
// Content-Type は拡張子テーブルから決定する
func (h *StaticHandler) serveFile(c *gin.Context, f *os.File, info fs.FileInfo) {
	ctype, err := h.contentType(info.Name(), f)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Type", ctype)
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

// contentType はファイル名から Content-Type を決定する
// テーブルで判定できず sniff が有効な場合は先頭バイトから推定する
func (h *StaticHandler) contentType(name string, f io.ReadSeeker) (string, error) {
	if !h.sniff {
		return h.table.ContentType(name), nil
	}
	if ctype, ok := h.table.Resolve(name); ok {
		return ctype, nil
	}

	mtype, err := mimetype.DetectReader(f)
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return "", fmt.Errorf("ファイル位置を戻せません: %w", serr)
	}
	if err != nil {
		return mimetable.Fallback, nil
	}
	return mtype.String(), nil
}

// serveListing はディレクトリ一覧のHTMLを返す
func (h *StaticHandler) serveListing(c *gin.Context, root *os.Root, dir string, f *os.File) {
	entries, err := f.ReadDir(-1)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, fmt.Errorf("ディレクトリを一覧できません: %w", err))
		return
	}

	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	items := make([]listingEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		display := name
		href := url.PathEscape(name)

		isDir := entry.IsDir()
		isLink := entry.Type()&fs.ModeSymlink != 0
		if isLink {
			// リンク先がルート内のディレクトリであればディレクトリとして扱う
			if target, err := root.Stat(path.Join(dir, name)); err == nil && target.IsDir() {
				isDir = true
			}
		}

		if isDir {
			display += "/"
			href += "/"
		}
		if isLink {
			display = name + "@"
		}
		// "a:b" のような名前がスキームとして解釈されないようにする
		if strings.Contains(name, ":") {
			href = "./" + href
		}

		items = append(items, listingEntry{Href: href, Name: display})
	}

	c.HTML(http.StatusOK, "listing.html", gin.H{
		"Path":    c.Request.URL.Path,
		"Entries": items,
	})
}

// failOpen はファイルを開けなかった理由に応じたエラーを返す
// 権限エラーはサーバー側の問題として扱い、それ以外（存在しない、ルート外など）は 404 とする
func (h *StaticHandler) failOpen(c *gin.Context, err error) {
	if errors.Is(err, fs.ErrPermission) {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	h.fail(c, http.StatusNotFound, nil)
}

// fail はエラーレスポンスを返す
func (h *StaticHandler) fail(c *gin.Context, status int, err error) {
	if err != nil {
		log.Printf("リクエストの処理に失敗しました (%s %s): %v", c.Request.Method, c.Request.URL.Path, err)
		_ = c.Error(err)
	}
	writeError(c, status)
}

// handleUnsupportedMethod は GET / HEAD 以外のメソッドに 501 を返す
func handleUnsupportedMethod(c *gin.Context) {
	writeError(c, http.StatusNotImplemented)
}

// writeError はステータスコードと理由句をテキストで返す
func writeError(c *gin.Context, status int) {
	c.String(status, "%d %s\n", status, http.StatusText(status))
}

// requestID は各リクエストにIDを割り当て、レスポンスヘッダーとログに載せる
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// accessLogFormatter はアクセスログの1行を整形する
func accessLogFormatter(p gin.LogFormatterParams) string {
	id, _ := p.Keys[requestIDKey].(string)
	return fmt.Sprintf("%s - [%s] \"%s %s\" %d %d %s id=%s\n",
		p.ClientIP,
		p.TimeStamp.Format(time.RFC3339),
		p.Method,
		p.Path,
		p.StatusCode,
		p.BodySize,
		p.Latency,
		id,
	)
}
