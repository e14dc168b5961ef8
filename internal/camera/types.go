package camera

import (
	"context"
	"fmt"

	"muffin/internal/surface"
)

// Facing はレンズの向き（CameraCharacteristics.LENS_FACING_* と同じ値）
type Facing int

const (
	FacingFront    Facing = 0 // 前面カメラ
	FacingBack     Facing = 1 // 背面カメラ
	FacingExternal Facing = 2 // 外部カメラ
)

func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingBack:
		return "back"
	case FacingExternal:
		return "external"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// State はカメラデバイスの状態
type State string

const (
	StateClosed State = "closed" // デバイスは閉じている
	StateOpen   State = "open"   // デバイスは開いている
)

// Mode はキャプチャセッションの動作モード
type Mode string

const (
	ModeNone      Mode = "none"      // セッションなし
	ModeRepeating Mode = "repeating" // 連続キャプチャ中
	ModeCapturing Mode = "capturing" // 単発キャプチャ中
)

// Info はデバイスの状態のスナップショット
type Info struct {
	Index  int
	Facing Facing
	State  State
	Mode   Mode
	Target surface.Surface // 借用中の出力先（ModeNone の場合はゼロ値）
}

// Size は解像度
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Backend はネイティブのカメラマネージャーを抽象化するインターフェース
//
// 呼び出しはデバイスごとのキューで直列化されるため、実装は同一デバイスに対する
// 並行呼び出しを考慮しなくてよい。
type Backend interface {
	// Count は利用可能なデバイス数を返す
	Count(ctx context.Context) (int, error)

	// Facing は指定デバイスのレンズの向きを返す
	Facing(index int) (Facing, error)

	// Supports は指定デバイスが出力フォーマットに対応しているかを返す
	Supports(index int, format surface.Format) bool

	// PreferredSize はデバイスが推奨する最大の解像度を返す。不明な場合は 0, 0
	PreferredSize(index int) (width, height int)

	// OpenDevice はデバイスを開く。他で使用中の場合は status.Busy を返す
	OpenDevice(index int) error

	// CloseDevice はデバイスを閉じる
	CloseDevice(index int) error

	// StartRepeat は連続キャプチャリクエストでセッションを開始する
	StartRepeat(index int, target surface.Surface) error

	// StartCapture は単発キャプチャリクエストでセッションを開始する
	StartCapture(index int, target surface.Surface) error

	// StopSession はアクティブなセッションを停止する
	StopSession(index int) error
}
