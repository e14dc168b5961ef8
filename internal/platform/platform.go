// Package platform はプロセス単位で共有するリソースを組み立てて保持する
//
// カメラの列挙、ディスプレイ、コンパス、タスクのテーブルは New で一度だけ作成され、
// Shutdown で並行に破棄される。破棄中の失敗はログに記録して続行し、まとめて返す。
package platform

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"muffin/internal/camera"
	"muffin/internal/config"
	"muffin/internal/executor"
	"muffin/internal/handle"
	"muffin/internal/render"
	"muffin/internal/sensor"
	"muffin/internal/status"
	"muffin/internal/task"
)

// Options は設定より優先する依存関係。テストで差し替える
type Options struct {
	Backend camera.Backend
	Driver  render.Driver
	Source  sensor.Source
}

// Platform はプロセスで共有するリソース
type Platform struct {
	cfg *config.Config

	Cameras *camera.Query
	Display *render.Display
	Sensors *sensor.Registry
	Compass *sensor.Stream
	Tasks   *task.Registry

	driver      render.Driver
	renderQueue *executor.Queue

	mu        sync.Mutex
	renderers map[handle.Handle]*render.Context
	closed    bool

	stopCompass context.CancelFunc
	compassDone chan struct{}
}

// New はプラットフォームを初期化する
func New(ctx context.Context, cfg *config.Config, opts Options) (*Platform, error) {
	backend := opts.Backend
	if backend == nil {
		facings := make([]camera.Facing, 0, len(cfg.Camera.MockFacings))
		for _, s := range cfg.Camera.MockFacings {
			f, err := camera.ParseFacing(s)
			if err != nil {
				return nil, err
			}
			facings = append(facings, f)
		}

		b, err := camera.NewBackend(cfg.Camera.Backend, facings)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	driver := opts.Driver
	if driver == nil {
		d, err := render.NewDriver(cfg.Render.Driver, cfg.Render.Extensions)
		if err != nil {
			return nil, err
		}
		driver = d
	}

	source := opts.Source
	if source == nil {
		switch cfg.Sensor.Source {
		case "iio":
			source = sensor.NewIIOSource()
		default:
			source = sensor.NewSimulatedSource()
		}
	}

	mode := cfg.Mode()
	display, err := render.AcquireDisplay(driver, mode)
	if err != nil {
		return nil, err
	}

	sensors := sensor.NewRegistry(mode)
	compass, err := sensor.New(sensors, cfg.Sensor.Owner, source)
	if err != nil {
		return nil, fmt.Errorf("コンパスの作成に失敗: %w", err)
	}

	p := &Platform{
		cfg:         cfg,
		Cameras:     camera.NewQuery(backend, mode),
		Display:     display,
		Sensors:     sensors,
		Compass:     compass,
		Tasks:       task.NewRegistry(mode),
		driver:      driver,
		renderQueue: executor.New("render"),
		renderers:   make(map[handle.Handle]*render.Context),
	}

	p.Cameras.Init(ctx)
	log.Printf("プラットフォームを初期化しました: カメラ %d 台, %s", p.Cameras.GetDeviceCount(ctx), display)
	return p, nil
}

// Config は設定を返す
func (p *Platform) Config() *config.Config { return p.cfg }

// Driver は描画ドライバを返す
func (p *Platform) Driver() render.Driver { return p.driver }

// NewRenderer は共有の描画キューに結び付いた描画コンテキストを作成する
func (p *Platform) NewRenderer(ctx context.Context, shared *render.Context) (*render.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("プラットフォームは終了しています: %w", status.ErrClosed)
	}

	rc, err := render.New(ctx, p.Display, shared, render.WithQueue(p.renderQueue))
	if err != nil {
		return nil, err
	}
	p.renderers[rc.ID()] = rc
	p.debugf("描画コンテキストを作成しました: %s", rc)
	return rc, nil
}

// Renderer はハンドルから描画コンテキストを返す
func (p *Platform) Renderer(id handle.Handle) (*render.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rc, ok := p.renderers[id]
	return rc, ok
}

// Renderers は生存している描画コンテキストを作成順に返す
func (p *Platform) Renderers() []*render.Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*render.Context, 0, len(p.renderers))
	for _, rc := range p.renderers {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// CloseRenderer は描画コンテキストを破棄する
func (p *Platform) CloseRenderer(ctx context.Context, rc *render.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("プラットフォームは終了しています: %w", status.ErrClosed)
	}
	delete(p.renderers, rc.ID())
	p.mu.Unlock()

	return rc.Close(ctx)
}

// StartCompass はコンパスを再開し、設定された間隔で値を更新する
// 間隔が 0 の場合は再開のみ行う
func (p *Platform) StartCompass(ctx context.Context) error {
	if code := p.Compass.Resume(); !code.OK() {
		return fmt.Errorf("コンパスの再開に失敗: %w", code.Err())
	}

	interval := p.cfg.Sensor.UpdateInterval.Std()
	if interval <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCompass != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.stopCompass = cancel
	p.compassDone = make(chan struct{})

	go func() {
		defer close(p.compassDone)
		_, err := task.Schedule(ctx, compassUpdater{p}, interval)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("コンパスの更新が停止しました: %v", err)
		}
	}()
	return nil
}

// StopCompass は定期更新を止めてコンパスを一時停止する
func (p *Platform) StopCompass() error {
	p.mu.Lock()
	cancel, done := p.stopCompass, p.compassDone
	p.stopCompass, p.compassDone = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if code := p.Compass.Pause(); !code.OK() {
		return fmt.Errorf("コンパスの停止に失敗: %w", code.Err())
	}
	return nil
}

// compassUpdater は停止されるまで続くタスク
type compassUpdater struct {
	p *Platform
}

func (u compassUpdater) Tick() task.Status {
	if code := u.p.Compass.Update(); !code.OK() {
		u.p.debugf("コンパスの更新に失敗: %s", code)
	}
	return task.Continue
}

// Shutdown は全リソースを並行に破棄する
// 失敗があっても残りの破棄は続行し、すべてのエラーをまとめて返す
func (p *Platform) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	renderers := make([]*render.Context, 0, len(p.renderers))
	for _, rc := range p.renderers {
		renderers = append(renderers, rc)
	}
	p.renderers = make(map[handle.Handle]*render.Context)
	p.mu.Unlock()

	start := time.Now()
	var (
		mu   sync.Mutex
		errs error
	)
	collect := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	var eg errgroup.Group
	eg.Go(func() error {
		collect(p.Cameras.Teardown(ctx))
		return nil
	})
	eg.Go(func() error {
		for _, rc := range renderers {
			if err := rc.Close(ctx); err != nil {
				collect(fmt.Errorf("%s のクローズに失敗: %w", rc, err))
			}
		}
		p.renderQueue.Close()
		return nil
	})
	eg.Go(func() error {
		if err := p.StopCompass(); err != nil {
			log.Printf("%v", err)
		}
		collect(p.Compass.Close())
		return nil
	})
	_ = eg.Wait()

	if errs != nil {
		log.Printf("終了処理でエラーが発生しました: %v", errs)
	} else {
		p.debugf("終了処理が完了しました (%s)", time.Since(start))
	}
	return errs
}

func (p *Platform) debugf(format string, args ...any) {
	if p.cfg.Log.Verbose {
		log.Printf(format, args...)
	}
}
