package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"muffin/internal/handle"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Camera CameraConfig `yaml:"camera" toml:"camera"`
	Render RenderConfig `yaml:"render" toml:"render"`
	Sensor SensorConfig `yaml:"sensor" toml:"sensor"`
	Log    LogConfig    `yaml:"log" toml:"log"`

	// debug では二重解放で panic する
	HandleMode string `yaml:"handle_mode" toml:"handle_mode" validate:"oneof=production debug"`
}

// ServerConfig は管理用HTTPサーバーの設定
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Host    string `yaml:"host" toml:"host" validate:"required"`       // リッスンするホスト
	Port    int    `yaml:"port" toml:"port" validate:"min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout"`   // 読み込みタイムアウト
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=v4l2 mock"`

	// mock バックエンドのデバイス（向きの一覧）
	MockFacings []string `yaml:"mock_facings" toml:"mock_facings" validate:"dive,oneof=front back external"`

	// プレビューのデフォルト設定
	DefaultFormat string `yaml:"default_format" toml:"default_format" validate:"required"`
	DefaultWidth  int    `yaml:"default_width" toml:"default_width" validate:"min=1"`
	DefaultHeight int    `yaml:"default_height" toml:"default_height" validate:"min=1"`
}

// RenderConfig は描画コンテキストの設定
type RenderConfig struct {
	Driver string `yaml:"driver" toml:"driver" validate:"oneof=software"`

	// 空の場合はドライバの既定値
	Extensions []string `yaml:"extensions" toml:"extensions"`
}

// SensorConfig はコンパスの設定
type SensorConfig struct {
	Source string `yaml:"source" toml:"source" validate:"oneof=simulated iio"`
	Owner  string `yaml:"owner" toml:"owner" validate:"required"` // ログ用の識別子

	// 0 の場合は定期更新しない
	UpdateInterval Duration `yaml:"update_interval" toml:"update_interval"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Verbose bool `yaml:"verbose" toml:"verbose"`
}

// Duration は "10s" 形式で読み書きする time.Duration
type Duration time.Duration

// UnmarshalText は time.ParseDuration の形式を受け付ける
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("無効な時間: %w", err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText は "10s" 形式で返す
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std は time.Duration を返す
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
		},
		Camera: CameraConfig{
			Backend:       "v4l2",
			DefaultFormat: "YUV_420_888",
			DefaultWidth:  1280,
			DefaultHeight: 720,
		},
		Render: RenderConfig{
			Driver: "software",
		},
		Sensor: SensorConfig{
			Source:         "simulated",
			Owner:          "dev.muffin",
			UpdateInterval: Duration(100 * time.Millisecond),
		},
		HandleMode: "production",
	}
}

// Load は設定を読み込む
// path が空の場合はデフォルト値に環境変数を適用する
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("未対応の設定ファイル形式: %s", path)
	}
	if err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("MUFFIN_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Backend = getEnvOrDefault("MUFFIN_CAMERA_BACKEND", c.Camera.Backend)
	c.Sensor.Source = getEnvOrDefault("MUFFIN_SENSOR_SOURCE", c.Sensor.Source)
	c.HandleMode = getEnvOrDefault("MUFFIN_HANDLE_MODE", c.HandleMode)
	c.Log.Verbose = getEnvAsBoolOrDefault("MUFFIN_VERBOSE", c.Log.Verbose)
}

var validate = validator.New()

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("無効な設定値 %s (%s): %w", verrs[0].Namespace(), verrs[0].Tag(), err)
		}
		return err
	}

	// mock バックエンドにはデバイスが必要
	if c.Camera.Backend == "mock" && len(c.Camera.MockFacings) == 0 {
		return fmt.Errorf("mock バックエンドには mock_facings が必要です")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("タイムアウトが負の値です")
	}

	return nil
}

// Mode はハンドルテーブルのモードを返す
func (c *Config) Mode() handle.Mode {
	if c.HandleMode == "debug" {
		return handle.ModeDebug
	}
	return handle.ModeProduction
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
