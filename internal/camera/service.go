package camera

import (
	"errors"
	"fmt"
	"log"

	"muffin/internal/executor"
	"muffin/internal/status"
	"muffin/internal/surface"
)

// device は1台のカメラデバイスとキャプチャセッションの状態機械
// すべてのメソッドはデバイスのキュー上で呼び出される
type device struct {
	index   int
	facing  Facing
	state   State
	mode    Mode
	target  surface.Surface
	backend Backend
	queue   *executor.Queue
}

func newDevice(index int, facing Facing, backend Backend) *device {
	return &device{
		index:   index,
		facing:  facing,
		state:   StateClosed,
		mode:    ModeNone,
		backend: backend,
		queue:   executor.New(fmt.Sprintf("camera-%d", index)),
	}
}

// open はデバイスを開く。既に開いている場合は何もしない
func (d *device) open() error {
	if d.state == StateOpen {
		return nil
	}

	if err := d.backend.OpenDevice(d.index); err != nil {
		return classify("open", err)
	}

	d.state = StateOpen
	return nil
}

// startStream はセッションを開始する。別のセッションが動作中の場合は置き換える
func (d *device) startStream(mode Mode, target surface.Surface) error {
	op := "startRepeat"
	if mode == ModeCapturing {
		op = "startCapture"
	}

	if !target.Valid() {
		return status.New(op, status.Invalid, fmt.Errorf("無効なSurface: %s", target))
	}

	if err := d.open(); err != nil {
		return err
	}

	// フォーマットの拒否は既存のセッションに影響させない
	if !d.backend.Supports(d.index, target.Format) {
		return status.New(op, status.NotSupported,
			fmt.Errorf("カメラ %d は %s に対応していません: %w", d.index, target.Format, status.ErrInvalidSurface))
	}

	if d.mode != ModeNone {
		if err := d.backend.StopSession(d.index); err != nil {
			return classify(op, fmt.Errorf("既存セッション(%s)の停止に失敗: %w", d.mode, err))
		}
		d.mode = ModeNone
		d.target = surface.Surface{}
	}

	var err error
	if mode == ModeRepeating {
		err = d.backend.StartRepeat(d.index, target)
	} else {
		err = d.backend.StartCapture(d.index, target)
	}
	if err != nil {
		return classify(op, err)
	}

	d.mode = mode
	d.target = target
	return nil
}

// stopStream は指定モードのセッションを停止する。モードが一致しない場合は何もしない
func (d *device) stopStream(mode Mode) error {
	if d.mode != mode {
		return nil
	}

	if err := d.backend.StopSession(d.index); err != nil {
		return classify("stop", err)
	}

	d.mode = ModeNone
	d.target = surface.Surface{}
	return nil
}

// close はセッションを停止してからデバイスを解放する
func (d *device) close() error {
	if d.state == StateClosed {
		return nil
	}

	if d.mode != ModeNone {
		if err := d.backend.StopSession(d.index); err != nil {
			// デバイスの解放を優先する
			log.Printf("カメラ %d のセッション停止に失敗: %v", d.index, err)
		}
		d.mode = ModeNone
		d.target = surface.Surface{}
	}

	err := d.backend.CloseDevice(d.index)
	d.state = StateClosed
	if err != nil {
		log.Printf("カメラ %d のクローズに失敗: %v", d.index, err)
		return classify("close", err)
	}
	return nil
}

func (d *device) info() Info {
	return Info{
		Index:  d.index,
		Facing: d.facing,
		State:  d.state,
		Mode:   d.mode,
		Target: d.target,
	}
}

// classify はバックエンドのエラーに操作名とコードを付与する
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *status.Error
	if errors.As(err, &se) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return status.New(op, status.Of(err), err)
}
