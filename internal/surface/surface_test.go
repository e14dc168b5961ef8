package surface

import "testing"

func TestParseFormat(t *testing.T) {
	for f, name := range formatNames {
		got, err := ParseFormat(name)
		if err != nil {
			t.Fatalf("ParseFormat(%s) failed: %v", name, err)
		}
		if got != f {
			t.Errorf("ParseFormat(%s) = %v, want %v", name, got, f)
		}
	}

	if _, err := ParseFormat("BGRA_1010102"); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestNew(t *testing.T) {
	a := New(FormatRGBA8888, 400, 400)
	b := New(FormatRGBA8888, 400, 400)

	if a.ID == b.ID {
		t.Errorf("Expected distinct IDs, got %d twice", a.ID)
	}
	if !a.Valid() {
		t.Errorf("Expected %s to be valid", a)
	}
	if (Surface{}).Valid() {
		t.Error("zero Surface should be invalid")
	}

	off := Offscreen(64, 32)
	if off.Kind != KindOffscreen || off.Format != FormatRGBA8888 {
		t.Errorf("unexpected offscreen surface: %+v", off)
	}
}

func TestBytesPerPixel(t *testing.T) {
	tests := []struct {
		format Format
		want   int
	}{
		{FormatRGBA8888, 4},
		{FormatRGBX8888, 4},
		{FormatRGB888, 3},
		{FormatRGB565, 2},
		{FormatYUV420, 0},
	}
	for _, tt := range tests {
		if got := tt.format.BytesPerPixel(); got != tt.want {
			t.Errorf("%s.BytesPerPixel() = %d, want %d", tt.format, got, tt.want)
		}
	}
}
