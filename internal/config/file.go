package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// MergeFile は設定ファイルを読み込み、現在の値に重ねる
// ファイルに書かれていない項目は現在の値のまま残る
// 形式は拡張子（.yaml / .yml / .toml / .json）で判断する
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".json":
		err = json.Unmarshal(data, c)
	default:
		return fmt.Errorf("未対応の設定ファイル形式: %q", ext)
	}
	if err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}

	// 相対パスのルートは設定ファイルの場所を基準にする
	if c.Static.Root != "" && !filepath.IsAbs(c.Static.Root) {
		root, err := filepath.Abs(filepath.Join(filepath.Dir(path), c.Static.Root))
		if err != nil {
			return fmt.Errorf("ルートディレクトリの解決に失敗: %w", err)
		}
		c.Static.Root = root
	}

	return nil
}
