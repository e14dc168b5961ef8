package render

import (
	"fmt"
	"sync"

	"muffin/internal/status"
	"muffin/internal/surface"
)

// NativeContext はドライバが発行する描画コンテキストの識別子
type NativeContext uint64

// NativeSurface はドライバが発行する描画サーフェスの識別子
type NativeSurface uint64

const (
	NoContext NativeContext = 0
	NoSurface NativeSurface = 0
)

// Attributes はコンフィグ選択の条件
type Attributes struct {
	Red, Green, Blue, Alpha int
	Depth                   int
	Window                  bool
	Pbuffer                 bool
}

// Config はドライバが選択したフレームバッファ構成
type Config struct {
	ID         uint32
	Attributes Attributes
}

// Driver はEGL相当のネイティブ描画APIを抽象化する
//
// ドライバはスレッドセーフではない前提で、呼び出しはコンテキストのキューで直列化される。
type Driver interface {
	// Initialize はディスプレイを初期化してバージョンを返す
	Initialize() (major, minor int, code status.Code)

	// Extensions は対応する拡張機能の一覧を返す
	Extensions() []string

	// ChooseConfig は条件に合うコンフィグを選択する
	ChooseConfig(attrs Attributes) (Config, status.Code)

	// CreateContext は描画コンテキストを作成する。shared が NoContext 以外ならリソースを共有する
	CreateContext(config Config, shared NativeContext) (NativeContext, status.Code)

	// DestroyContext は描画コンテキストを破棄する
	DestroyContext(c NativeContext) status.Code

	// CreateWindowSurface は外部所有のSurfaceに対する描画サーフェスを作成する
	CreateWindowSurface(config Config, target surface.Surface) (NativeSurface, status.Code)

	// CreatePbufferSurface はオフスクリーンの描画サーフェスを作成する
	CreatePbufferSurface(config Config, width, height int) (NativeSurface, status.Code)

	// DestroySurface は描画サーフェスを破棄する
	DestroySurface(s NativeSurface) status.Code

	// MakeCurrent はサーフェスとコンテキストを現在のスレッドに結び付ける
	// NoSurface と NoContext を渡すと結び付けを解除する
	MakeCurrent(s NativeSurface, c NativeContext) status.Code

	// SwapBuffers は現在のフレームを提出する
	SwapBuffers(s NativeSurface) status.Code
}

// DefaultExtensions はSoftwareDriverが報告する拡張機能
var DefaultExtensions = []string{
	"EGL_KHR_create_context",
	"EGL_KHR_surfaceless_context",
	"EGL_KHR_fence_sync",
	"EGL_ANDROID_blob_cache",
	"EGL_ANDROID_framebuffer_target",
	"EGL_ANDROID_get_frame_timestamps",
	"EGL_ANDROID_native_fence_sync",
	"EGL_ANDROID_presentation_time",
	"EGL_ANDROID_recordable",
}

type softSurface struct {
	config    Config
	target    surface.Surface
	presented int
}

// SoftwareDriver はメモリ上で動作するDriver実装
// 生存しているネイティブオブジェクト数を数えるためテストでリーク検出に使う
type SoftwareDriver struct {
	mu         sync.Mutex
	extensions []string
	next       uint64
	contexts   map[NativeContext]Config
	surfaces   map[NativeSurface]*softSurface
	current    NativeSurface

	failContext bool
	lost        bool
}

// NewDriver は名前からDriverを作成する。extensions が空の場合は既定の拡張機能
//
//   - "software": メモリ上で動作するドライバ
func NewDriver(name string, extensions []string) (Driver, error) {
	switch name {
	case "software":
		return NewSoftwareDriver(extensions...), nil
	default:
		return nil, fmt.Errorf("不明な描画ドライバ: %s", name)
	}
}

// NewSoftwareDriver は新しいSoftwareDriverを作成する
func NewSoftwareDriver(extensions ...string) *SoftwareDriver {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &SoftwareDriver{
		extensions: append([]string(nil), extensions...),
		contexts:   make(map[NativeContext]Config),
		surfaces:   make(map[NativeSurface]*softSurface),
	}
}

// Initialize はバージョン1.5を返す
func (d *SoftwareDriver) Initialize() (int, int, status.Code) {
	return 1, 5, status.OK
}

// Extensions は拡張機能の一覧を返す
func (d *SoftwareDriver) Extensions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.extensions...)
}

// ChooseConfig は8bitカラーのみ対応する
func (d *SoftwareDriver) ChooseConfig(attrs Attributes) (Config, status.Code) {
	for _, bits := range []int{attrs.Red, attrs.Green, attrs.Blue} {
		if bits != 8 {
			return Config{}, status.BadConfig
		}
	}
	if attrs.Alpha != 0 && attrs.Alpha != 8 {
		return Config{}, status.BadConfig
	}

	// 同じ条件には同じIDを返す
	id := uint32(attrs.Alpha)<<8 | uint32(attrs.Depth)
	if attrs.Window {
		id |= 1 << 16
	}
	if attrs.Pbuffer {
		id |= 1 << 17
	}
	return Config{ID: id, Attributes: attrs}, status.OK
}

// CreateContext は描画コンテキストを作成する
func (d *SoftwareDriver) CreateContext(config Config, shared NativeContext) (NativeContext, status.Code) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failContext {
		return NoContext, status.BadAlloc
	}
	if shared != NoContext {
		if _, ok := d.contexts[shared]; !ok {
			return NoContext, status.BadContext
		}
	}

	d.next++
	c := NativeContext(d.next)
	d.contexts[c] = config
	return c, status.OK
}

// DestroyContext は描画コンテキストを破棄する
func (d *SoftwareDriver) DestroyContext(c NativeContext) status.Code {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.contexts[c]; !ok {
		return status.BadContext
	}
	delete(d.contexts, c)
	return status.OK
}

// CreateWindowSurface はウィンドウサーフェスを作成する
func (d *SoftwareDriver) CreateWindowSurface(config Config, target surface.Surface) (NativeSurface, status.Code) {
	if !target.Valid() {
		return NoSurface, status.BadSurface
	}
	// 32bitアラインメントが必要
	if target.Format.BytesPerPixel() != 4 {
		return NoSurface, status.BadConfig
	}
	return d.createSurface(config, target)
}

// CreatePbufferSurface はオフスクリーンサーフェスを作成する
func (d *SoftwareDriver) CreatePbufferSurface(config Config, width, height int) (NativeSurface, status.Code) {
	if width <= 0 || height <= 0 {
		return NoSurface, status.BadSurface
	}
	return d.createSurface(config, surface.Surface{Kind: surface.KindOffscreen, Format: surface.FormatRGBA8888, Width: width, Height: height})
}

func (d *SoftwareDriver) createSurface(config Config, target surface.Surface) (NativeSurface, status.Code) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	s := NativeSurface(d.next)
	d.surfaces[s] = &softSurface{config: config, target: target}
	return s, status.OK
}

// DestroySurface は描画サーフェスを破棄する
func (d *SoftwareDriver) DestroySurface(s NativeSurface) status.Code {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.surfaces[s]; !ok {
		return status.BadSurface
	}
	if d.current == s {
		d.current = NoSurface
	}
	delete(d.surfaces, s)
	return status.OK
}

// MakeCurrent はサーフェスとコンテキストを結び付ける
func (d *SoftwareDriver) MakeCurrent(s NativeSurface, c NativeContext) status.Code {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s == NoSurface && c == NoContext {
		d.current = NoSurface
		return status.OK
	}
	if _, ok := d.contexts[c]; !ok {
		return status.BadContext
	}
	if _, ok := d.surfaces[s]; !ok {
		return status.BadSurface
	}
	d.current = s
	return status.OK
}

// SwapBuffers はフレームを提出する
func (d *SoftwareDriver) SwapBuffers(s NativeSurface) status.Code {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		d.lost = false
		return status.ContextLost
	}
	surf, ok := d.surfaces[s]
	if !ok {
		return status.BadSurface
	}
	surf.presented++
	return status.OK
}

// LiveContexts は破棄されていないコンテキスト数を返す
func (d *SoftwareDriver) LiveContexts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts)
}

// LiveSurfaces は破棄されていないサーフェス数を返す
func (d *SoftwareDriver) LiveSurfaces() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.surfaces)
}

// Presented は target に提出されたフレーム数を返す
func (d *SoftwareDriver) Presented(target surface.Surface) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := 0
	for _, s := range d.surfaces {
		if s.target.ID == target.ID {
			total += s.presented
		}
	}
	return total
}

// BoundTo は現在結び付けられているサーフェスの描画先を返す
func (d *SoftwareDriver) BoundTo() (surface.Surface, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.surfaces[d.current]
	if !ok {
		return surface.Surface{}, false
	}
	return s.target, true
}

// SetFailContext はテスト用にコンテキスト作成を失敗させる
func (d *SoftwareDriver) SetFailContext(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failContext = fail
}

// LoseContext はテスト用に次のSwapBuffersでコンテキストの喪失を発生させる
func (d *SoftwareDriver) LoseContext() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}
