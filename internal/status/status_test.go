package status

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil は成功", nil, OK},
		{"コード付きエラー", New("resume", BadSurface, nil), BadSurface},
		{"ラップされたコード", fmt.Errorf("外側: %w", New("open", Busy, nil)), Busy},
		{"未対応フォーマット", ErrInvalidSurface, NotSupported},
		{"デバイスなし", ErrDeviceNotFound, NoDevice},
		{"使用中", ErrResourceUnavailable, Busy},
		{"二重解放", ErrDoubleRelease, Invalid},
		{"不明なエラー", errors.New("boom"), Failure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Of(tt.err); got != tt.want {
				t.Errorf("Of() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeErr(t *testing.T) {
	if err := OK.Err(); err != nil {
		t.Fatalf("OK.Err() = %v, want nil", err)
	}

	err := NotSupported.Err()
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if !IsExpected(err) {
		t.Error("NotSupported should be an expected failure")
	}
	if IsExpected(BadContext.Err()) {
		t.Error("BadContext should not be an expected failure")
	}
}

func TestDistinguishFormatFromBusy(t *testing.T) {
	format := New("startRepeat", NotSupported, ErrInvalidSurface)
	busy := New("open", Busy, ErrResourceUnavailable)

	if !errors.Is(format, ErrUnsupportedFormat) || errors.Is(format, ErrResourceUnavailable) {
		t.Errorf("format rejection misclassified: %v", format)
	}
	if !errors.Is(busy, ErrResourceUnavailable) || errors.Is(busy, ErrUnsupportedFormat) {
		t.Errorf("busy misclassified: %v", busy)
	}
}

func TestCodeString(t *testing.T) {
	if NotSupported.String() != "not_supported" {
		t.Errorf("unexpected name: %s", NotSupported)
	}
	if Code(1234).String() != "code(0x4d2)" {
		t.Errorf("unexpected name for unknown code: %s", Code(1234))
	}
}
