package render

import (
	"context"
	"fmt"
	"log"

	"muffin/internal/executor"
	"muffin/internal/handle"
	"muffin/internal/status"
	"muffin/internal/surface"
)

// State は描画コンテキストの状態
type State string

const (
	StateCreated   State = "created"
	StateResumed   State = "resumed"
	StateSuspended State = "suspended"
	StateDestroyed State = "destroyed"
)

// Info は描画コンテキストの状態のスナップショット
type Info struct {
	State  State
	Bound  surface.Surface // 結び付いている描画先（なければゼロ値）
	Frames int             // 現在の描画先に提出したフレーム数
}

// contextState はキュー上でのみ変更される
type contextState struct {
	driver Driver
	native NativeContext
	config Config

	// 最初に結び付けた描画先のコンフィグ（以降変更しない）
	surfaceConfig *Config

	state  State
	bound  NativeSurface
	target surface.Surface
	frames int
}

type options struct {
	queue *executor.Queue
}

// Option はコンテキスト作成時の設定
type Option func(*options)

// WithQueue は変更操作を実行するキューを指定する。指定しない場合は専用のキューを作成する
func WithQueue(q *executor.Queue) Option {
	return func(o *options) { o.queue = q }
}

// Context は描画コンテキストへの参照
type Context struct {
	id        handle.Handle
	display   *Display
	queue     *executor.Queue
	ownsQueue bool
}

// New は描画コンテキストを作成する。shared が nil でなければリソースを共有する
// 作成に失敗した場合は status.ErrCreationFailure を返す
func New(ctx context.Context, display *Display, shared *Context, opts ...Option) (*Context, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	owns := o.queue == nil
	q := o.queue
	if owns {
		q = executor.New("render")
	}

	sharedNative := NoContext
	if shared != nil {
		native, err := shared.native(ctx)
		if err != nil {
			if owns {
				q.Close()
			}
			return nil, fmt.Errorf("共有コンテキストが無効です: %w: %w", status.ErrCreationFailure, err)
		}
		sharedNative = native
	}

	st, err := executor.Do(ctx, q, func() (*contextState, error) {
		return createContext(display.driver, sharedNative)
	})
	if err != nil {
		if owns {
			q.Close()
		}
		return nil, err
	}

	id := display.contexts.Allocate(handle.KindContext, st)
	return &Context{id: id, display: display, queue: q, ownsQueue: owns}, nil
}

func createContext(driver Driver, shared NativeContext) (*contextState, error) {
	// OpenGL ES 3.0 向けの既定コンフィグ
	attrs := Attributes{Red: 8, Green: 8, Blue: 8, Alpha: 8, Depth: 16, Window: true, Pbuffer: true}
	config, code := driver.ChooseConfig(attrs)
	if code != status.OK {
		return nil, status.New("chooseConfig", code, status.ErrCreationFailure)
	}

	native, code := driver.CreateContext(config, shared)
	if code != status.OK || native == NoContext {
		if code == status.OK {
			code = status.Failure
		}
		return nil, status.New("createContext", code, status.ErrCreationFailure)
	}

	return &contextState{
		driver: driver,
		native: native,
		config: config,
		state:  StateCreated,
	}, nil
}

// native は共有元のネイティブコンテキストをキュー上で読み出す
// 失われたコンテキストとは共有できない
func (c *Context) native(ctx context.Context) (NativeContext, error) {
	st, err := c.display.contexts.Resolve(c.id)
	if err != nil {
		return NoContext, err
	}
	native, err := executor.Do(ctx, c.queue, func() (NativeContext, error) { return st.native, nil })
	if err != nil {
		return NoContext, err
	}
	if native == NoContext {
		return NoContext, fmt.Errorf("%s は失われています", c)
	}
	return native, nil
}

// ID はコンテキストのハンドルを返す
func (c *Context) ID() handle.Handle { return c.id }

// Resume は target への描画を開始する。以前の結び付けは先に解除される
// 0 は成功、それ以外はプラットフォームのエラーコード
func (c *Context) Resume(ctx context.Context, target surface.Surface) status.Code {
	return c.submit(ctx, func(st *contextState) status.Code { return st.resume(target) })
}

// Suspend は描画先の結び付けを解除する。コンテキストは維持される
func (c *Context) Suspend(ctx context.Context) status.Code {
	return c.submit(ctx, func(st *contextState) status.Code { return st.suspend() })
}

// Present は現在のフレームを提出する
func (c *Context) Present(ctx context.Context) status.Code {
	return c.submit(ctx, func(st *contextState) status.Code { return st.present() })
}

// Info は現在の状態を返す
func (c *Context) Info(ctx context.Context) (Info, error) {
	st, err := c.display.contexts.Resolve(c.id)
	if err != nil {
		return Info{State: StateDestroyed}, err
	}
	return executor.Do(ctx, c.queue, func() (Info, error) {
		return Info{State: st.state, Bound: st.target, Frames: st.frames}, nil
	})
}

// Config は最初に結び付けた描画先のコンフィグを返す
func (c *Context) Config(ctx context.Context) (Config, bool) {
	st, err := c.display.contexts.Resolve(c.id)
	if err != nil {
		return Config{}, false
	}
	cfg, err := executor.Do(ctx, c.queue, func() (*Config, error) { return st.surfaceConfig, nil })
	if err != nil || cfg == nil {
		return Config{}, false
	}
	return *cfg, true
}

// Close は描画先を解除してからコンテキストを破棄する
// suspend の失敗はログに記録して破棄を続行する。二回目以降は status.ErrDoubleRelease を返す
func (c *Context) Close(ctx context.Context) error {
	st, err := c.display.contexts.Release(c.id)
	if err != nil {
		return err
	}

	// ハンドルは解放済みのため、キャンセルされてもキューが閉じていても破棄は最後まで行う
	err = c.queue.Finish(ctx, func() error {
		if code := st.suspend(); code != status.OK {
			log.Printf("%s の一時停止に失敗: %s", c, code)
		}
		st.destroy()
		return nil
	})

	if c.ownsQueue {
		c.queue.Close()
	}
	return err
}

func (c *Context) String() string {
	return fmt.Sprintf("Renderer{%x}", uint64(c.id))
}

func (c *Context) submit(ctx context.Context, fn func(*contextState) status.Code) status.Code {
	st, err := c.display.contexts.Resolve(c.id)
	if err != nil {
		return status.NotInitialized
	}

	code, err := executor.Do(ctx, c.queue, func() (status.Code, error) { return fn(st), nil })
	if err != nil {
		return status.Of(err)
	}
	return code
}

func (st *contextState) resume(target surface.Surface) status.Code {
	if st.native == NoContext {
		return status.NotInitialized
	}

	// 新しい描画先を結び付ける前に古い結び付けを解除する
	if st.bound != NoSurface {
		if code := st.suspend(); code != status.OK {
			return code
		}
	}

	attrs, code := attributesFor(target)
	if code != status.OK {
		return code
	}
	config, code := st.driver.ChooseConfig(attrs)
	if code != status.OK {
		return code
	}

	var native NativeSurface
	if target.Kind == surface.KindOffscreen {
		native, code = st.driver.CreatePbufferSurface(config, target.Width, target.Height)
	} else {
		native, code = st.driver.CreateWindowSurface(config, target)
	}
	if code != status.OK {
		return code
	}

	if code := st.driver.MakeCurrent(native, st.native); code != status.OK {
		// 中途半端な結び付けを残さない
		st.driver.DestroySurface(native)
		return code
	}

	if st.surfaceConfig == nil {
		cfg := config
		st.surfaceConfig = &cfg
	}
	st.bound = native
	st.target = target
	st.frames = 0
	st.state = StateResumed
	return status.OK
}

func (st *contextState) suspend() status.Code {
	if st.bound == NoSurface {
		return status.OK
	}

	if code := st.driver.MakeCurrent(NoSurface, NoContext); code != status.OK {
		log.Printf("描画先の解除に失敗: %s", code)
	}
	code := st.driver.DestroySurface(st.bound)

	st.bound = NoSurface
	st.target = surface.Surface{}
	st.frames = 0
	if st.state == StateResumed {
		st.state = StateSuspended
	}
	return code
}

func (st *contextState) present() status.Code {
	if st.native == NoContext {
		return status.NotInitialized
	}
	if st.bound == NoSurface {
		return status.BadSurface
	}

	code := st.driver.SwapBuffers(st.bound)
	switch code {
	case status.OK:
		st.frames++
	case status.BadContext, status.ContextLost:
		// コンテキストは使用できないため破棄する
		log.Printf("描画コンテキストを喪失しました: %s", code)
		st.suspend()
		st.destroy()
	}
	return code
}

func (st *contextState) destroy() {
	if st.native == NoContext {
		return
	}
	if code := st.driver.DestroyContext(st.native); code != status.OK {
		log.Printf("描画コンテキストの破棄に失敗: %s", code)
	}
	st.native = NoContext
	st.state = StateDestroyed
}

// attributesFor は描画先のフォーマットに合うコンフィグ条件を返す
// 32bit以外のフォーマットは status.NotSupported
func attributesFor(target surface.Surface) (Attributes, status.Code) {
	if !target.Valid() {
		return Attributes{}, status.BadSurface
	}

	attrs := Attributes{Red: 8, Green: 8, Blue: 8}
	if target.Kind == surface.KindOffscreen {
		attrs.Alpha = 8
		attrs.Pbuffer = true
		return attrs, status.OK
	}

	attrs.Window = true
	switch target.Format {
	case surface.FormatRGBA8888:
		attrs.Alpha = 8
	case surface.FormatRGBX8888:
		attrs.Alpha = 0
	default:
		log.Printf("未対応の描画先フォーマット: %s", target.Format)
		return Attributes{}, status.NotSupported
	}
	return attrs, status.OK
}
