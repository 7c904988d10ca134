package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// 既定値
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8080
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server" json:"server"`
	Static StaticConfig `yaml:"static" toml:"static" json:"static"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" toml:"host" json:"host" validate:"required"`                // リッスンするホスト
	Port int    `yaml:"port" toml:"port" json:"port" validate:"required,min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定（0 は無効）
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout" json:"read_timeout" validate:"gte=0"`    // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" json:"write_timeout" validate:"gte=0"` // 書き込みタイムアウト
}

// StaticConfig は静的ファイル配信の設定
type StaticConfig struct {
	Root       string   `yaml:"root" toml:"root" json:"root" validate:"required"`                      // 配信するルートディレクトリ
	IndexFiles []string `yaml:"index_files" toml:"index_files" json:"index_files" validate:"dive,required"` // ディレクトリ要求時に探すファイル名
	Sniff      bool     `yaml:"sniff" toml:"sniff" json:"sniff"`                                       // 未知の拡張子で内容から型を推定するか
}

var validate = validator.New()

// Load は設定を読み込み、検証する
// 既定値、設定ファイル（CONFIG_FILE）、環境変数の順に適用する
func Load() (*Config, error) {
	cfg, err := Prepare("")
	if err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Prepare は検証前の設定を組み立てる
// 既定値、設定ファイル、環境変数の順に重ねる。configFile が空の場合は CONFIG_FILE を使う
// 呼び出し側でさらに上書きしたうえで Validate を呼ぶ
func Prepare(configFile string) (*Config, error) {
	root, err := ExecutableDir()
	if err != nil {
		return nil, fmt.Errorf("ルートディレクトリの決定に失敗: %w", err)
	}

	// デフォルト設定を作成
	cfg := Default(root)

	// 設定ファイルがあれば重ねる
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		if err := cfg.MergeFile(configFile); err != nil {
			return nil, err
		}
	}

	// 環境変数で上書き
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Static.Root = getEnvOrDefault("STATIC_ROOT", cfg.Static.Root)
	cfg.Static.Sniff = getEnvAsBoolOrDefault("STATIC_SNIFF", cfg.Static.Sniff)

	return cfg, nil
}

// Default は root を配信ディレクトリとする既定の設定を返す
func Default(root string) *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  0,
			WriteTimeout: 0,
		},
		Static: StaticConfig{
			Root:       root,
			IndexFiles: []string{"index.html", "index.htm"},
		},
	}
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	// ルートディレクトリは実在するディレクトリでなければならない
	info, err := os.Stat(c.Static.Root)
	if err != nil {
		return fmt.Errorf("ルートディレクトリを参照できません: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("ルートがディレクトリではありません: %s", c.Static.Root)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AbsRoot はルートディレクトリの絶対パスを返す
func (c *Config) AbsRoot() (string, error) {
	return filepath.Abs(c.Static.Root)
}

// ExecutableDir は実行中のプログラムが置かれたディレクトリの絶対パスを返す
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	// シンボリックリンク経由で起動された場合は実体の場所を使う
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得する
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
