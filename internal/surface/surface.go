// Package surface は外部が所有する描画先（Surface）への参照を表す
//
// Surface は値渡しで借用されるだけで、このモジュールが解放することはない。
package surface

import (
	"fmt"
	"sync/atomic"
)

// Format はピクセルフォーマット（Android の PixelFormat / ImageFormat と同じ値）
type Format int32

const (
	FormatUnknown  Format = 0
	FormatRGBA8888 Format = 1
	FormatRGBX8888 Format = 2
	FormatRGB888   Format = 3
	FormatRGB565   Format = 4
	FormatPrivate  Format = 0x22
	FormatYUV420   Format = 0x23
	FormatJPEG     Format = 0x100
)

var formatNames = map[Format]string{
	FormatUnknown:  "UNKNOWN",
	FormatRGBA8888: "RGBA_8888",
	FormatRGBX8888: "RGBX_8888",
	FormatRGB888:   "RGB_888",
	FormatRGB565:   "RGB_565",
	FormatPrivate:  "PRIVATE",
	FormatYUV420:   "YUV_420_888",
	FormatJPEG:     "JPEG",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FORMAT_%#x", int32(f))
}

// ParseFormat は名前からフォーマットを取得する
func ParseFormat(name string) (Format, error) {
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("不明なピクセルフォーマット: %s", name)
}

// BytesPerPixel は1ピクセルあたりのバイト数を返す。可変長フォーマットは0
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888, FormatRGBX8888:
		return 4
	case FormatRGB888:
		return 3
	case FormatRGB565:
		return 2
	default:
		return 0
	}
}

// Kind は描画先の種類
type Kind int

const (
	KindWindow    Kind = iota // ウィンドウ（ImageReader 等）
	KindOffscreen             // オフスクリーン（pbuffer）
)

// Surface は外部所有の描画先への参照
type Surface struct {
	ID     uint64
	Kind   Kind
	Format Format
	Width  int
	Height int
}

var lastID atomic.Uint64

// New はウィンドウ型のSurface参照を作成する
func New(format Format, width, height int) Surface {
	return Surface{
		ID:     lastID.Add(1),
		Kind:   KindWindow,
		Format: format,
		Width:  width,
		Height: height,
	}
}

// Offscreen はオフスクリーン描画先を作成する
func Offscreen(width, height int) Surface {
	return Surface{
		ID:     lastID.Add(1),
		Kind:   KindOffscreen,
		Format: FormatRGBA8888,
		Width:  width,
		Height: height,
	}
}

// Valid は参照が有効かどうかを返す
func (s Surface) Valid() bool {
	return s.ID != 0 && s.Width > 0 && s.Height > 0
}

func (s Surface) String() string {
	return fmt.Sprintf("Surface{%d %s %dx%d}", s.ID, s.Format, s.Width, s.Height)
}
