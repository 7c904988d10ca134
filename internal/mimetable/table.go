// Package mimetable は拡張子から Content-Type を決定する不変テーブルを提供します。
//
// テーブルは起動時に一度だけ構築され、以降は読み取り専用です。
// 参照はロック不要で、複数のハンドラから共有できます。
package mimetable

import (
	"mime"
	"path"
	"strings"
)

// Fallback は拡張子から型を決定できなかった場合の Content-Type
const Fallback = "application/octet-stream"

// Table は拡張子と Content-Type の対応表
// ゼロ値は空のテーブルとして振る舞う
type Table struct {
	entries map[string]string
}

// Defaults は標準で登録されている拡張子の対応を返す
func Defaults() map[string]string {
	return map[string]string{
		".gz":  "application/gzip",
		".Z":   "application/octet-stream",
		".bz2": "application/x-bzip2",
		".xz":  "application/x-xz",
	}
}

// Overrides はプラットフォームの既定値より優先させる固定の対応を返す
func Overrides() map[string]string {
	return map[string]string{
		".js":   "text/javascript",
		".css":  "text/css",
		".html": "text/html",
	}
}

// New は base に overrides を重ねたテーブルを作成する
// 引数のマップはコピーされるため、呼び出し後に変更してもテーブルには影響しない
func New(base map[string]string, overrides ...map[string]string) Table {
	entries := make(map[string]string, len(base))
	for ext, ctype := range base {
		entries[ext] = ctype
	}
	for _, o := range overrides {
		for ext, ctype := range o {
			entries[ext] = ctype
		}
	}
	return Table{entries: entries}
}

// Default は Defaults に Overrides を適用したテーブルを返す
func Default() Table {
	return New(Defaults(), Overrides())
}

// Lookup はテーブルに登録された拡張子のみを参照する
// 完全一致を優先し、見つからなければ小文字化した拡張子で再検索する
func (t Table) Lookup(ext string) (string, bool) {
	if ctype, ok := t.entries[ext]; ok {
		return ctype, true
	}
	if ctype, ok := t.entries[strings.ToLower(ext)]; ok {
		return ctype, true
	}
	return "", false
}

// Resolve はファイル名から Content-Type を決定する
// テーブル、プラットフォームの MIME 登録の順に参照し、どちらにも無ければ ok=false を返す
func (t Table) Resolve(name string) (string, bool) {
	ext := path.Ext(name)
	if ext == "" {
		return "", false
	}
	if ctype, ok := t.Lookup(ext); ok {
		return ctype, true
	}
	if ctype := mime.TypeByExtension(ext); ctype != "" {
		return ctype, true
	}
	return "", false
}

// ContentType はファイル名に対応する Content-Type を返す
// 判定できない場合は Fallback を返す
func (t Table) ContentType(name string) string {
	if ctype, ok := t.Resolve(name); ok {
		return ctype
	}
	return Fallback
}
