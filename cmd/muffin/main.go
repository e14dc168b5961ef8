// Package main はmuffinコマンドの実装です
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"muffin/internal/config"
	"muffin/internal/platform"
	"muffin/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("muffin: %v", err)
	}
}

type options struct {
	configPath  string
	host        string
	port        int
	backend     string
	mockFacings []string
	debug       bool
	verbose     bool
	probe       bool
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var o options

	fs := flag.NewFlagSet("muffin", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&o.configPath, "config", "c", "", "設定ファイル (.yaml / .toml)")
	fs.StringVar(&o.host, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	fs.IntVarP(&o.port, "port", "p", 0, "サーバーのポート (デフォルト: 8080)")
	fs.StringVar(&o.backend, "camera-backend", "", "カメラバックエンド (v4l2 / mock)")
	fs.StringSliceVar(&o.mockFacings, "mock-facings", nil, "mock バックエンドのレンズの向き (例: back,front)")
	fs.BoolVar(&o.debug, "debug", false, "二重解放で panic する")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "詳細ログを出力")
	fs.BoolVar(&o.probe, "probe", false, "デバイスと拡張機能を表示して終了")
	fs.Usage = func() {
		fmt.Fprintln(out, "muffin")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "使用方法:")
		fmt.Fprintln(out, "  muffin [オプション]")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "オプション:")
		fs.PrintDefaults()
	}

	err := fs.Parse(args)
	return o, err
}

// apply はコマンドラインオプションで設定を上書きする
func (o options) apply(cfg *config.Config) {
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if o.backend != "" {
		cfg.Camera.Backend = o.backend
	}
	if len(o.mockFacings) > 0 {
		cfg.Camera.MockFacings = o.mockFacings
	}
	if o.debug {
		cfg.HandleMode = "debug"
	}
	if o.verbose {
		cfg.Log.Verbose = true
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	o, err := parseFlags(args, out)
	if err != nil {
		return err
	}

	// 設定を読み込む
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("設定の検証に失敗: %w", err)
	}

	p, err := platform.New(ctx, cfg, platform.Options{})
	if err != nil {
		return fmt.Errorf("プラットフォームの初期化に失敗: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Shutdown(shutdownCtx); err != nil {
			log.Printf("終了処理に失敗しました: %v", err)
		}
	}()

	if o.probe {
		return probe(ctx, p, out)
	}

	if err := p.StartCompass(ctx); err != nil {
		log.Printf("コンパスを開始できません: %v", err)
	}

	if !cfg.Server.Enabled {
		log.Println("サーバーは無効です。終了シグナルを待機します")
		<-ctx.Done()
		return nil
	}

	// サーバーを起動
	srv := server.New(p)
	log.Printf("muffin を起動します: %s", cfg.ServerAddress())
	return srv.Start(ctx)
}

// probe はデバイスと描画環境の情報を表示する
func probe(ctx context.Context, p *platform.Platform, out io.Writer) error {
	devices := p.Cameras.GetDevices(ctx)
	fmt.Fprintf(out, "cameras: %d\n", len(devices))
	for _, d := range devices {
		facing, err := d.Facing()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %d: %s\n", d.Index(), facing)
	}

	fmt.Fprintf(out, "display: %s\n", p.Display)
	for _, ext := range p.Display.Extensions() {
		fmt.Fprintf(out, "  %s\n", ext)
	}
	fmt.Fprintf(out, "compass: %s\n", p.Compass.Name())
	return nil
}
