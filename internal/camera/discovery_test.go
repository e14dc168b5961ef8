package camera

import (
	"context"
	"errors"
	"os"
	"testing"

	"muffin/internal/status"
	"muffin/internal/surface"
)

func TestV4L2Backend_Count(t *testing.T) {
	ctx := context.Background()
	backend := NewV4L2Backend()

	count, err := backend.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	// デバイスが見つからない場合もあるため、エラーがないことを確認
	t.Logf("Found %d video devices", count)
	for i := 0; i < count; i++ {
		t.Logf("Device %d: %s", i, backend.DeviceName(i))
	}
}

func TestV4L2Backend_UnknownIndex(t *testing.T) {
	backend := NewV4L2Backend()
	backend.pattern = "/nonexistent/video*"

	count, err := backend.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected 0 devices, got %d", count)
	}

	err = backend.OpenDevice(99)
	if !errors.Is(err, status.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
	if _, err := backend.Facing(0); err == nil {
		t.Error("Expected error for unknown index")
	}
	if w, h := backend.PreferredSize(0); w != 0 || h != 0 {
		t.Errorf("Expected unknown size, got %dx%d", w, h)
	}
}

func TestV4L2Backend_Supports(t *testing.T) {
	backend := NewV4L2Backend()

	tests := []struct {
		format surface.Format
		want   bool
	}{
		{surface.FormatYUV420, true},
		{surface.FormatJPEG, true},
		{surface.FormatRGB565, false},
		{surface.FormatRGB888, false},
	}
	for _, tt := range tests {
		if got := backend.Supports(0, tt.format); got != tt.want {
			t.Errorf("Supports(%s) = %v, want %v", tt.format, got, tt.want)
		}
	}
}

func TestMapOpenError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want status.Code
	}{
		{"存在しない", os.ErrNotExist, status.NoDevice},
		{"権限なし", os.ErrPermission, status.NotPermitted},
		{"その他", errors.New("ioctl failed"), status.IO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Of(mapOpenError("/dev/video0", tt.err)); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractDeviceNumber(t *testing.T) {
	tests := []struct {
		device string
		want   int
	}{
		{"/dev/video0", 0},
		{"/dev/video12", 12},
		{"/dev/null", 0},
	}
	for _, tt := range tests {
		if got := extractDeviceNumber(tt.device); got != tt.want {
			t.Errorf("extractDeviceNumber(%s) = %d, want %d", tt.device, got, tt.want)
		}
	}

	if !isV4L2Device("/dev/video3") || isV4L2Device("/dev/video3a") {
		t.Error("isV4L2Device mismatch")
	}
}

func TestMockBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewMockBackend(FacingBack, FacingFront)

	count, err := backend.Count(ctx)
	if err != nil || count != 2 {
		t.Fatalf("Count = %d, %v", count, err)
	}

	// 開く前のセッション開始は失敗
	if err := backend.StartRepeat(0, testSurface()); err == nil {
		t.Error("Expected error when starting a session on a closed device")
	}

	if err := backend.OpenDevice(0); err != nil {
		t.Fatalf("OpenDevice failed: %v", err)
	}
	if err := backend.OpenDevice(0); status.Of(err) != status.Busy {
		t.Errorf("Expected Busy on second open, got %v", err)
	}

	if err := backend.StartRepeat(0, testSurface()); err != nil {
		t.Fatalf("StartRepeat failed: %v", err)
	}
	if err := backend.StartCapture(0, testSurface()); status.Of(err) != status.Busy {
		t.Errorf("Expected Busy while a session is active, got %v", err)
	}

	if err := backend.CloseDevice(0); err != nil {
		t.Fatalf("CloseDevice failed: %v", err)
	}
	if backend.ActiveSession(0) != ModeNone {
		t.Error("Expected session to end with the device")
	}

	if err := backend.OpenDevice(5); !errors.Is(err, status.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestNewBackend(t *testing.T) {
	if _, err := NewBackend("mock", []Facing{FacingBack}); err != nil {
		t.Errorf("mock backend: %v", err)
	}
	if _, err := NewBackend("v4l2", nil); err != nil {
		t.Errorf("v4l2 backend: %v", err)
	}
	if _, err := NewBackend("ndk", nil); err == nil {
		t.Error("Expected error for unknown backend")
	}

	for _, s := range []string{"front", "back", "external"} {
		f, err := ParseFacing(s)
		if err != nil || f.String() != s {
			t.Errorf("ParseFacing(%s) = %v, %v", s, f, err)
		}
	}
}
