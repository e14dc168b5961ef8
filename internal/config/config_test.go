package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"muffin/internal/handle"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	// 設定を読み込む
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}

	// デフォルト値の検証
	if cfg.Camera.Backend != "v4l2" {
		t.Errorf("デフォルトのバックエンドが違います: %s", cfg.Camera.Backend)
	}
	if cfg.Sensor.Owner == "" {
		t.Error("センサーの識別子が設定されていません")
	}
	if cfg.Mode() != handle.ModeProduction {
		t.Error("デフォルトは production モードであるべきです")
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "ホストなし",
			modify:    func(c *Config) { c.Server.Host = "" },
			expectErr: true,
		},
		{
			name:      "未知のバックエンド",
			modify:    func(c *Config) { c.Camera.Backend = "ndk" },
			expectErr: true,
		},
		{
			name:      "mockバックエンドでデバイスなし",
			modify:    func(c *Config) { c.Camera.Backend = "mock" },
			expectErr: true,
		},
		{
			name: "mockバックエンド",
			modify: func(c *Config) {
				c.Camera.Backend = "mock"
				c.Camera.MockFacings = []string{"back", "front"}
			},
			expectErr: false,
		},
		{
			name: "無効な向き",
			modify: func(c *Config) {
				c.Camera.Backend = "mock"
				c.Camera.MockFacings = []string{"up"}
			},
			expectErr: true,
		},
		{
			name:      "未知のセンサーソース",
			modify:    func(c *Config) { c.Sensor.Source = "gps" },
			expectErr: true,
		},
		{
			name:      "無効なハンドルモード",
			modify:    func(c *Config) { c.HandleMode = "strict" },
			expectErr: true,
		},
		{
			name:      "負のタイムアウト",
			modify:    func(c *Config) { c.Server.ReadTimeout = Duration(-time.Second) },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestLoadFile は設定ファイルの読み込みをテストする
func TestLoadFile(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "YAML",
			file: "muffin.yaml",
			content: `
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 3s
camera:
  backend: mock
  mock_facings: [back, front]
sensor:
  owner: dev.muffin.test
  update_interval: 250ms
handle_mode: debug
`,
		},
		{
			name: "TOML",
			file: "muffin.toml",
			content: `
handle_mode = "debug"

[server]
host = "127.0.0.1"
port = 9090
read_timeout = "3s"

[camera]
backend = "mock"
mock_facings = ["back", "front"]

[sensor]
owner = "dev.muffin.test"
update_interval = "250ms"
`,
		},
	}

	// 環境変数による上書きを無効にする
	for _, key := range []string{"MUFFIN_HOST", "PORT", "MUFFIN_CAMERA_BACKEND", "MUFFIN_SENSOR_SOURCE", "MUFFIN_HANDLE_MODE", "MUFFIN_VERBOSE"} {
		t.Setenv(key, "")
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("設定の読み込みに失敗しました: %v", err)
			}

			want := Default()
			want.Server.Host = "127.0.0.1"
			want.Server.Port = 9090
			want.Server.ReadTimeout = Duration(3 * time.Second)
			want.Camera.Backend = "mock"
			want.Camera.MockFacings = []string{"back", "front"}
			want.Sensor.Owner = "dev.muffin.test"
			want.Sensor.UpdateInterval = Duration(250 * time.Millisecond)
			want.HandleMode = "debug"

			if diff := cmp.Diff(want, cfg); diff != "" {
				t.Errorf("設定が一致しません (-want +got):\n%s", diff)
			}
			if cfg.Mode() != handle.ModeDebug {
				t.Error("debug モードが反映されていません")
			}
		})
	}
}

// TestLoadFileErrors は読み込めない設定ファイルをテストする
func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	invalid := filepath.Join(dir, "invalid.yaml")
	_ = os.WriteFile(invalid, []byte("server: [unclosed"), 0o644)
	ini := filepath.Join(dir, "muffin.ini")
	_ = os.WriteFile(ini, []byte("port=1"), 0o644)
	badPort := filepath.Join(dir, "port.yaml")
	_ = os.WriteFile(badPort, []byte("server:\n  port: 0\n"), 0o644)

	for _, path := range []string{filepath.Join(dir, "missing.yaml"), invalid, ini, badPort} {
		if _, err := Load(path); err == nil {
			t.Errorf("%s: エラーが期待されましたが、エラーが発生しませんでした", filepath.Base(path))
		}
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("MUFFIN_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("MUFFIN_VERBOSE", "true")
	t.Setenv("MUFFIN_SENSOR_SOURCE", "iio")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if !cfg.Log.Verbose {
		t.Error("環境変数の詳細ログ設定が反映されていません")
	}
	if cfg.Sensor.Source != "iio" {
		t.Errorf("環境変数のセンサーソースが反映されていません: got %s", cfg.Sensor.Source)
	}
}

// TestDurationText は時間の文字列変換をテストする
func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("変換に失敗しました: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("got %s, want 1m30s", d.Std())
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("エラーが期待されましたが、エラーが発生しませんでした")
	}
}
