package camera

import (
	"context"
	"fmt"
	"log"
	"sync"

	"go.uber.org/multierr"

	"muffin/internal/executor"
	"muffin/internal/handle"
	"muffin/internal/surface"
)

// Query はプロセス単位のデバイス列挙とハンドル管理を担う
//
// 列挙は最初の Init で一度だけ行われ、デバイス数と DeviceHandle の配列は
// Teardown されるまで固定される。
type Query struct {
	backend Backend
	table   *handle.Table[*device]

	mu      sync.Mutex
	once    *sync.Once
	count   int
	devices []*DeviceHandle
}

// NewQuery は新しいQueryを作成する
func NewQuery(backend Backend, mode handle.Mode) *Query {
	return &Query{
		backend: backend,
		table:   handle.NewTable[*device]("camera", mode),
		once:    new(sync.Once),
	}
}

// Init はデバイスを列挙する。複数回呼んでも最初の呼び出しのみ有効
func (q *Query) Init(ctx context.Context) {
	q.mu.Lock()
	once := q.once
	q.mu.Unlock()

	once.Do(func() {
		count, err := q.backend.Count(ctx)
		if err != nil {
			log.Printf("カメラの列挙に失敗: %v", err)
			count = 0
		}

		q.mu.Lock()
		q.count = count
		q.mu.Unlock()
	})
}

// GetDeviceCount はデバイス数を返す。失敗した場合やデバイスがない場合は0
func (q *Query) GetDeviceCount(ctx context.Context) int {
	q.Init(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// GetDevices は利用可能なデバイスの配列を返す。常に同じ配列を返す
func (q *Query) GetDevices(ctx context.Context) []*DeviceHandle {
	count := q.GetDeviceCount(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.devices != nil {
		return q.devices
	}

	q.devices = make([]*DeviceHandle, 0, count)
	for i := 0; i < count; i++ {
		facing, err := q.backend.Facing(i)
		if err != nil {
			log.Printf("カメラ %d の向きを取得できません: %v", i, err)
			facing = FacingExternal
		}

		dev := newDevice(i, facing, q.backend)
		id := q.table.Allocate(handle.KindCamera, dev)
		q.devices = append(q.devices, &DeviceHandle{id: id, index: i, query: q})
	}

	return q.devices
}

// Live は有効なデバイスハンドル数を返す
func (q *Query) Live() int {
	return q.table.Live()
}

// Teardown は全デバイスを閉じてハンドルを解放する
// 以降の Init で再度列挙できる
func (q *Query) Teardown(ctx context.Context) error {
	q.mu.Lock()
	devices := q.devices
	q.devices = nil
	q.count = 0
	q.once = new(sync.Once)
	q.mu.Unlock()

	var errs error
	for _, h := range devices {
		dev, err := q.table.Resolve(h.id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		// デバイスを閉じてからハンドルを解放する
		if err := dev.queue.Finish(ctx, dev.close); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s のクローズに失敗: %w", h, err))
		}

		if _, err := q.table.Release(h.id); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		dev.queue.Close()
	}

	return errs
}

// DeviceHandle はカメラデバイスとキャプチャセッションへの参照
//
// DeviceHandle は識別子のみを保持し、操作はデバイスのキューへ転送される。
type DeviceHandle struct {
	id    handle.Handle
	index int
	query *Query
}

// ID はデバイスのハンドルを返す
func (h *DeviceHandle) ID() handle.Handle { return h.id }

// Index はデバイス番号を返す
func (h *DeviceHandle) Index() int { return h.index }

// Facing はレンズの向きを返す
func (h *DeviceHandle) Facing() (Facing, error) {
	dev, err := h.query.table.Resolve(h.id)
	if err != nil {
		return FacingExternal, err
	}
	return dev.facing, nil
}

// PreferredSize はデバイスが推奨する最大の解像度を返す。不明な場合は幅と高さが 0
func (h *DeviceHandle) PreferredSize() (Size, error) {
	dev, err := h.query.table.Resolve(h.id)
	if err != nil {
		return Size{}, err
	}
	width, height := dev.backend.PreferredSize(dev.index)
	return Size{Width: width, Height: height}, nil
}

// Open はデバイスを開く。既に開いている場合は何もしない
func (h *DeviceHandle) Open(ctx context.Context) error {
	return h.submit(ctx, func(d *device) error { return d.open() })
}

// Repeat はデバイスを開き、連続キャプチャを target へ開始する
func (h *DeviceHandle) Repeat(ctx context.Context, target surface.Surface) error {
	return h.submit(ctx, func(d *device) error {
		if err := d.open(); err != nil {
			return err
		}
		return d.startStream(ModeRepeating, target)
	})
}

// StopRepeat は連続キャプチャを停止する。デバイスは開いたまま
func (h *DeviceHandle) StopRepeat(ctx context.Context) error {
	return h.submit(ctx, func(d *device) error { return d.stopStream(ModeRepeating) })
}

// Capture はデバイスを開き、単発キャプチャを target へ開始する
func (h *DeviceHandle) Capture(ctx context.Context, target surface.Surface) error {
	return h.submit(ctx, func(d *device) error {
		if err := d.open(); err != nil {
			return err
		}
		return d.startStream(ModeCapturing, target)
	})
}

// StopCapture は単発キャプチャを中止する。デバイスは開いたまま
func (h *DeviceHandle) StopCapture(ctx context.Context) error {
	return h.submit(ctx, func(d *device) error { return d.stopStream(ModeCapturing) })
}

// Close はセッションとデバイスの両方を閉じ、他のデバイスを開けるようにする
func (h *DeviceHandle) Close(ctx context.Context) error {
	return h.submit(ctx, func(d *device) error { return d.close() })
}

// Info は現在の状態を返す
func (h *DeviceHandle) Info(ctx context.Context) (Info, error) {
	dev, err := h.query.table.Resolve(h.id)
	if err != nil {
		return Info{}, err
	}
	return executor.Do(ctx, dev.queue, func() (Info, error) { return dev.info(), nil })
}

func (h *DeviceHandle) String() string {
	return fmt.Sprintf("DeviceHandle{%x}", uint64(h.id))
}

func (h *DeviceHandle) submit(ctx context.Context, fn func(*device) error) error {
	dev, err := h.query.table.Resolve(h.id)
	if err != nil {
		return err
	}
	return dev.queue.Submit(ctx, func() error { return fn(dev) })
}
