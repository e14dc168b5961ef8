package camera

import (
	"context"
	"errors"
	"testing"

	"muffin/internal/handle"
	"muffin/internal/status"
	"muffin/internal/surface"
)

func testSurface() surface.Surface {
	return surface.New(surface.FormatYUV420, 640, 480)
}

func newTestDevice(t *testing.T, facings ...Facing) (*DeviceHandle, *MockBackend) {
	t.Helper()

	if len(facings) == 0 {
		facings = []Facing{FacingBack}
	}
	backend := NewMockBackend(facings...)
	query := NewQuery(backend, handle.ModeDebug)
	devices := query.GetDevices(context.Background())
	if len(devices) == 0 {
		t.Fatal("no devices")
	}
	t.Cleanup(func() { _ = query.Teardown(context.Background()) })
	return devices[0], backend
}

func mustInfo(t *testing.T, dev *DeviceHandle) Info {
	t.Helper()
	info, err := dev.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	return info
}

func TestDevice_InitialState(t *testing.T) {
	dev, _ := newTestDevice(t, FacingFront)

	info := mustInfo(t, dev)
	if info.State != StateClosed {
		t.Errorf("Expected closed, got %s", info.State)
	}
	if info.Mode != ModeNone {
		t.Errorf("Expected no session, got %s", info.Mode)
	}
	if info.Facing != FacingFront {
		t.Errorf("Expected front, got %s", info.Facing)
	}
}

func TestDevice_OpenIdempotent(t *testing.T) {
	ctx := context.Background()
	dev, backend := newTestDevice(t)

	for i := 0; i < 3; i++ {
		if err := dev.Open(ctx); err != nil {
			t.Fatalf("Open #%d failed: %v", i+1, err)
		}
	}

	if backend.Opens != 1 {
		t.Errorf("Expected 1 native open, got %d", backend.Opens)
	}
	if mustInfo(t, dev).State != StateOpen {
		t.Error("Expected device to be open")
	}
}

func TestDevice_CloseThenReopen(t *testing.T) {
	ctx := context.Background()
	dev, backend := newTestDevice(t)

	tests := []struct {
		name  string
		start func() error
	}{
		{"Open", func() error { return dev.Open(ctx) }},
		{"Repeat", func() error { return dev.Repeat(ctx, testSurface()) }},
		{"Capture", func() error { return dev.Capture(ctx, testSurface()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.start(); err != nil {
				t.Fatalf("start failed: %v", err)
			}
			if err := dev.Close(ctx); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			info := mustInfo(t, dev)
			if info.State != StateClosed || info.Mode != ModeNone {
				t.Errorf("Expected closed/none after close, got %s/%s", info.State, info.Mode)
			}
			if backend.OpenDevices() != 0 {
				t.Error("native device still open")
			}

			// 再利用できる
			if err := dev.Open(ctx); err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			if err := dev.Close(ctx); err != nil {
				t.Fatalf("second Close failed: %v", err)
			}
		})
	}

	// Close は冪等
	if err := dev.Close(ctx); err != nil {
		t.Errorf("Close on closed device failed: %v", err)
	}
}

func TestDevice_RepeatAndStop(t *testing.T) {
	ctx := context.Background()
	dev, backend := newTestDevice(t)
	target := testSurface()

	if err := dev.Repeat(ctx, target); err != nil {
		t.Fatalf("Repeat failed: %v", err)
	}

	info := mustInfo(t, dev)
	if info.State != StateOpen || info.Mode != ModeRepeating {
		t.Fatalf("Expected open/repeating, got %s/%s", info.State, info.Mode)
	}
	if info.Target.ID != target.ID {
		t.Errorf("Expected target %d, got %d", target.ID, info.Target.ID)
	}

	// モードが一致しない停止は何もしない
	if err := dev.StopCapture(ctx); err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if backend.ActiveSession(0) != ModeRepeating {
		t.Error("StopCapture must not stop a repeating session")
	}

	if err := dev.StopRepeat(ctx); err != nil {
		t.Fatalf("StopRepeat failed: %v", err)
	}
	info = mustInfo(t, dev)
	if info.Mode != ModeNone {
		t.Errorf("Expected no session after StopRepeat, got %s", info.Mode)
	}
	// デバイスは開いたまま
	if info.State != StateOpen {
		t.Errorf("Expected device to stay open, got %s", info.State)
	}

	// 二回目の停止も安全
	if err := dev.StopRepeat(ctx); err != nil {
		t.Errorf("second StopRepeat failed: %v", err)
	}
}

func TestDevice_StopWithoutStart(t *testing.T) {
	ctx := context.Background()
	dev, backend := newTestDevice(t)

	if err := dev.StopRepeat(ctx); err != nil {
		t.Errorf("StopRepeat failed: %v", err)
	}
	if err := dev.StopCapture(ctx); err != nil {
		t.Errorf("StopCapture failed: %v", err)
	}
	if backend.Opens != 0 {
		t.Error("stop must not open the device")
	}
}

func TestDevice_Supersede(t *testing.T) {
	ctx := context.Background()
	dev, backend := newTestDevice(t)

	if err := dev.Repeat(ctx, testSurface()); err != nil {
		t.Fatalf("Repeat failed: %v", err)
	}

	// 連続キャプチャ中の単発キャプチャは置き換え
	still := surface.New(surface.FormatJPEG, 1920, 1080)
	if err := dev.Capture(ctx, still); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	info := mustInfo(t, dev)
	if info.Mode != ModeCapturing || info.Target.ID != still.ID {
		t.Errorf("Expected capturing to %d, got %s to %d", still.ID, info.Mode, info.Target.ID)
	}
	if backend.ActiveSession(0) != ModeCapturing {
		t.Errorf("Expected native session to be capturing, got %s", backend.ActiveSession(0))
	}
	if backend.Opens != 1 {
		t.Errorf("Expected the device to be opened once, got %d", backend.Opens)
	}

	// 逆方向も同様
	if err := dev.Repeat(ctx, testSurface()); err != nil {
		t.Fatalf("Repeat after capture failed: %v", err)
	}
	if mustInfo(t, dev).Mode != ModeRepeating {
		t.Error("Expected repeating after supersede")
	}
}

func TestDevice_UnsupportedFormat(t *testing.T) {
	ctx := context.Background()
	dev, backend := newTestDevice(t)

	if err := dev.Repeat(ctx, testSurface()); err != nil {
		t.Fatalf("Repeat failed: %v", err)
	}

	err := dev.Capture(ctx, surface.New(surface.FormatRGB565, 400, 400))
	if err == nil {
		t.Fatal("Expected error for unsupported format")
	}
	if status.Of(err) != status.NotSupported {
		t.Errorf("Expected NotSupported (95), got %v", status.Of(err))
	}
	if !errors.Is(err, status.ErrInvalidSurface) {
		t.Errorf("Expected ErrInvalidSurface, got %v", err)
	}
	if errors.Is(err, status.ErrResourceUnavailable) {
		t.Error("format rejection must not look like a busy device")
	}

	// 既存のセッションは維持される
	if backend.ActiveSession(0) != ModeRepeating {
		t.Error("rejected format must not tear down the active session")
	}
}

func TestDevice_Busy(t *testing.T) {
	ctx := context.Background()
	dev, backend := newTestDevice(t)
	backend.Claim(0)

	err := dev.Repeat(ctx, testSurface())
	if !errors.Is(err, status.ErrResourceUnavailable) {
		t.Fatalf("Expected ErrResourceUnavailable, got %v", err)
	}
	if status.Of(err) != status.Busy {
		t.Errorf("Expected Busy, got %v", status.Of(err))
	}
	if status.IsExpected(err) {
		t.Error("busy device is not a format rejection")
	}
	if mustInfo(t, dev).State != StateClosed {
		t.Error("device must stay closed when open fails")
	}

	backend.Unclaim(0)
	if err := dev.Repeat(ctx, testSurface()); err != nil {
		t.Errorf("Repeat after unclaim failed: %v", err)
	}
}

func TestDevice_InvalidSurface(t *testing.T) {
	ctx := context.Background()
	dev, _ := newTestDevice(t)

	err := dev.Repeat(ctx, surface.Surface{})
	if status.Of(err) != status.Invalid {
		t.Errorf("Expected Invalid, got %v (%v)", status.Of(err), err)
	}
}

func TestDevice_CloseContinuesWhenStopFails(t *testing.T) {
	ctx := context.Background()
	dev, backend := newTestDevice(t)

	if err := dev.Repeat(ctx, testSurface()); err != nil {
		t.Fatalf("Repeat failed: %v", err)
	}
	backend.SetStopError(errors.New("hardware timeout"))

	if err := dev.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if backend.OpenDevices() != 0 {
		t.Error("device must be released even if stopping the session fails")
	}
}

func TestDeviceHandle_String(t *testing.T) {
	dev, _ := newTestDevice(t)
	if dev.String() == "" {
		t.Error("Expected non-empty string")
	}
}
