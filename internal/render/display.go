// Package render はEGL相当の描画コンテキストと描画先の結び付けを管理する
//
// # 責務
// - プロセス共有のディスプレイ（初回取得後は読み取り専用）
// - 描画コンテキストの作成・破棄とハンドルテーブルによる寿命管理
// - resume / suspend / present による描画先の付け替え
//
// # 仕様
//   - 状態遷移: CREATED → RESUMED(surface) ⇄ SUSPENDED → DESTROYED
//   - 生成の失敗は ErrCreationFailure として即座に返す
//   - resume / suspend / present の結果はステータスコードで返す
//   - RGB_888 / RGB_565 の描画先は status.NotSupported (95) で拒否する
//   - 変更操作はコンテキストに結び付いたキューで直列化される
package render

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"muffin/internal/handle"
	"muffin/internal/status"
)

// Features はAndroid向け拡張機能の対応状況
type Features struct {
	BlobCache              bool `json:"blob_cache"`
	CreateNativeClientBuf  bool `json:"create_native_client_buffer"`
	FramebufferTarget      bool `json:"framebuffer_target"`
	FrontBufferAutoRefresh bool `json:"front_buffer_auto_refresh"`
	GetFrameTimestamps     bool `json:"get_frame_timestamps"`
	GetNativeClientBuffer  bool `json:"get_native_client_buffer"`
	GLESLayers             bool `json:"gles_layers"`
	ImageNativeBuffer      bool `json:"image_native_buffer"`
	NativeFenceSync        bool `json:"native_fence_sync"`
	PresentationTime       bool `json:"presentation_time"`
	Recordable             bool `json:"recordable"`
}

// Display はプロセスで共有されるディスプレイ
type Display struct {
	driver     Driver
	major      int
	minor      int
	extensions []string
	contexts   *handle.Table[*contextState]
}

// AcquireDisplay はディスプレイを初期化する
func AcquireDisplay(driver Driver, mode handle.Mode) (*Display, error) {
	major, minor, code := driver.Initialize()
	if code != status.OK {
		return nil, fmt.Errorf("ディスプレイの初期化に失敗: %w", status.New("initialize", code, status.ErrCreationFailure))
	}

	exts := driver.Extensions()
	sort.Strings(exts)
	log.Printf("ディスプレイを初期化しました: EGL %d.%d (拡張機能 %d 個)", major, minor, len(exts))

	return &Display{
		driver:     driver,
		major:      major,
		minor:      minor,
		extensions: exts,
		contexts:   handle.NewTable[*contextState]("render", mode),
	}, nil
}

// Version はドライバのバージョンを返す
func (d *Display) Version() (int, int) {
	return d.major, d.minor
}

// HasExtension は拡張機能に対応しているかを返す。副作用はない
func (d *Display) HasExtension(name string) bool {
	i := sort.SearchStrings(d.extensions, name)
	return i < len(d.extensions) && d.extensions[i] == name
}

// Extensions は拡張機能の一覧を返す
func (d *Display) Extensions() []string {
	return append([]string(nil), d.extensions...)
}

// Features はAndroid向け拡張機能の対応状況を返す
func (d *Display) Features() Features {
	has := func(suffix string) bool { return d.HasExtension("EGL_ANDROID_" + suffix) }
	return Features{
		BlobCache:              has("blob_cache"),
		CreateNativeClientBuf:  has("create_native_client_buffer"),
		FramebufferTarget:      has("framebuffer_target"),
		FrontBufferAutoRefresh: has("front_buffer_auto_refresh"),
		GetFrameTimestamps:     has("get_frame_timestamps"),
		GetNativeClientBuffer:  has("get_native_client_buffer"),
		GLESLayers:             has("GLES_layers"),
		ImageNativeBuffer:      has("image_native_buffer"),
		NativeFenceSync:        has("native_fence_sync"),
		PresentationTime:       has("presentation_time"),
		Recordable:             has("recordable"),
	}
}

// Live は破棄されていないコンテキスト数を返す
func (d *Display) Live() int {
	return d.contexts.Live()
}

func (d *Display) String() string {
	return fmt.Sprintf("Display{EGL %d.%d [%s]}", d.major, d.minor, strings.Join(d.extensions, " "))
}
