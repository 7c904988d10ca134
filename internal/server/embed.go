package server

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// listingTemplate はディレクトリ一覧のHTMLテンプレート
// テンプレート名はファイル名（listing.html）
var listingTemplate = template.Must(template.ParseFS(templateFS, "templates/*.html"))
