package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"muffin/internal/status"
)

// IIOSource はLinuxのIndustrial I/Oサブシステムから値を読み取るSource実装
//
// /sys/bus/iio/devices/iio:device* のうち in_accel_* / in_anglvel_* を持つデバイスを
// 使用する。Poll のたびに現在値を一件のイベントとして返す。
type IIOSource struct {
	root string

	mu      sync.Mutex
	devices map[Kind]string
	started time.Time
}

var channelPrefix = map[Kind]string{
	Accelerometer: "in_accel",
	Gyroscope:     "in_anglvel",
}

// NewIIOSource は新しいIIOSourceを作成する
func NewIIOSource() *IIOSource {
	return &IIOSource{
		root:    "/sys/bus/iio/devices",
		devices: make(map[Kind]string),
	}
}

// Enable は kind に対応するIIOデバイスを探して有効にする
func (s *IIOSource) Enable(kind Kind) error {
	dir, err := s.find(kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.devices) == 0 {
		s.started = time.Now()
	}
	s.devices[kind] = dir
	return nil
}

// Disable は kind の読み取りを止める
func (s *IIOSource) Disable(kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[kind]; !ok {
		return status.New("disable", status.Invalid, fmt.Errorf("%s は有効ではありません", kind))
	}
	delete(s.devices, kind)
	return nil
}

// Poll は有効なセンサーの現在値を返す
func (s *IIOSource) Poll() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]Event, 0, len(s.devices))
	for _, kind := range Kinds {
		dir, ok := s.devices[kind]
		if !ok {
			continue
		}
		ev, err := readEvent(dir, kind)
		if err != nil {
			return events, status.New("poll", status.IO, err)
		}
		ev.Timestamp = time.Since(s.started)
		events = append(events, ev)
	}
	return events, nil
}

func (s *IIOSource) find(kind Kind) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "iio:device*"))
	if err != nil {
		return "", fmt.Errorf("IIOデバイスのスキャンに失敗: %w", err)
	}
	sort.Strings(matches)

	prefix := channelPrefix[kind]
	for _, dir := range matches {
		if _, err := os.Stat(filepath.Join(dir, prefix+"_x_raw")); err == nil {
			return dir, nil
		}
	}
	return "", status.New("enable", status.NoDevice, fmt.Errorf("%s が見つかりません: %w", kind, status.ErrDeviceNotFound))
}

func readEvent(dir string, kind Kind) (Event, error) {
	prefix := channelPrefix[kind]

	// scale は省略されることがある
	scale := 1.0
	if v, err := readFloat(filepath.Join(dir, prefix+"_scale")); err == nil {
		scale = v
	} else if !errors.Is(err, os.ErrNotExist) {
		return Event{}, err
	}

	var axes [3]float64
	for i, axis := range []string{"x", "y", "z"} {
		v, err := readFloat(filepath.Join(dir, fmt.Sprintf("%s_%s_raw", prefix, axis)))
		if err != nil {
			return Event{}, err
		}
		axes[i] = v * scale
	}
	return Event{Kind: kind, X: axes[0], Y: axes[1], Z: axes[2]}, nil
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("%s の値が不正です: %w", path, err)
	}
	return v, nil
}
