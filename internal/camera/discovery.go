package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"muffin/internal/status"
	"muffin/internal/surface"
)

// V4L2Backend はLinuxのV4L2デバイスをカメラとして扱うBackend実装
//
// /dev/video* をデバイス番号順に列挙し、すべて外部カメラとして扱う。
// フレームの転送は外部のパイプラインが担当し、ここではデバイスの占有と
// セッションの状態のみを管理する。
type V4L2Backend struct {
	pattern string

	mu       sync.Mutex
	scanned  []string
	files    map[int]*os.File
	sessions map[int]surface.Surface
	caps     map[int]capabilities
}

// NewV4L2Backend は新しいV4L2Backendを作成する
func NewV4L2Backend() *V4L2Backend {
	return &V4L2Backend{
		pattern:  "/dev/video*",
		files:    make(map[int]*os.File),
		sessions: make(map[int]surface.Surface),
		caps:     make(map[int]capabilities),
	}
}

// Count はシステム内のV4L2デバイス数を返す
func (b *V4L2Backend) Count(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(b.pattern)
	if err != nil {
		return 0, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	devices := make([]string, 0, len(matches))
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		if isV4L2Device(match) {
			devices = append(devices, match)
		}
	}

	b.mu.Lock()
	b.scanned = devices
	b.caps = make(map[int]capabilities)
	b.mu.Unlock()

	return len(devices), nil
}

// Facing はV4L2デバイスの向きを返す。常に外部カメラ
func (b *V4L2Backend) Facing(index int) (Facing, error) {
	if _, err := b.path(index); err != nil {
		return FacingExternal, err
	}
	return FacingExternal, nil
}

// Supports はデバイスが出力できるフォーマットかどうかを返す
// v4l2-ctl で一覧を取得できない場合はV4L2で一般的なフォーマットのみ受け付ける
func (b *V4L2Backend) Supports(index int, format surface.Format) bool {
	if format == surface.FormatPrivate {
		return true
	}

	caps, ok := b.capabilities(index)
	if !ok {
		return format == surface.FormatYUV420 || format == surface.FormatJPEG
	}
	for _, f := range caps.formats {
		if f == format {
			return true
		}
	}
	return false
}

// PreferredSize はデバイスが出力できる最大の解像度を返す。不明な場合は 0, 0
func (b *V4L2Backend) PreferredSize(index int) (int, int) {
	caps, ok := b.capabilities(index)
	if !ok {
		return 0, 0
	}
	return caps.width, caps.height
}

func (b *V4L2Backend) capabilities(index int) (capabilities, bool) {
	path, err := b.path(index)
	if err != nil {
		return capabilities{}, false
	}

	b.mu.Lock()
	cached, ok := b.caps[index]
	b.mu.Unlock()
	if ok {
		return cached, true
	}

	caps, err := listCapabilities(context.Background(), path)
	if err != nil || len(caps.formats) == 0 {
		return capabilities{}, false
	}

	b.mu.Lock()
	b.caps[index] = caps
	b.mu.Unlock()
	return caps, true
}

// OpenDevice はデバイスファイルを開いて占有する
func (b *V4L2Backend) OpenDevice(index int) error {
	path, err := b.path(index)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.files[index]; exists {
		return status.New("open", status.Busy, fmt.Errorf("デバイス %s は既に開かれています", path))
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return mapOpenError(path, err)
	}

	b.files[index] = file
	return nil
}

// CloseDevice はデバイスファイルを閉じる
func (b *V4L2Backend) CloseDevice(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	file, exists := b.files[index]
	if !exists {
		return nil
	}
	delete(b.files, index)
	delete(b.sessions, index)
	return file.Close()
}

// StartRepeat は連続キャプチャセッションを記録する
func (b *V4L2Backend) StartRepeat(index int, target surface.Surface) error {
	return b.start(index, target)
}

// StartCapture は単発キャプチャセッションを記録する
func (b *V4L2Backend) StartCapture(index int, target surface.Surface) error {
	return b.start(index, target)
}

// StopSession はセッションを停止する
func (b *V4L2Backend) StopSession(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, index)
	return nil
}

// DeviceName はv4l2-ctlを使ってデバイス名を取得する
func (b *V4L2Backend) DeviceName(index int) string {
	path, err := b.path(index)
	if err != nil {
		return ""
	}
	if name := getV4L2DeviceName(path); name != "" {
		return name
	}
	// フォールバック: デバイス番号から生成
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(path))
}

func (b *V4L2Backend) start(index int, target surface.Surface) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, open := b.files[index]; !open {
		return status.New("start", status.Invalid, fmt.Errorf("カメラ %d は開かれていません", index))
	}
	if _, active := b.sessions[index]; active {
		return status.New("start", status.Busy, fmt.Errorf("カメラ %d のセッションは動作中です", index))
	}
	b.sessions[index] = target
	return nil
}

func (b *V4L2Backend) path(index int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= len(b.scanned) {
		return "", status.New("resolve", status.NoDevice, fmt.Errorf("カメラ %d: %w", index, status.ErrDeviceNotFound))
	}
	return b.scanned[index], nil
}

// mapOpenError はOSのエラーをステータスに変換する
func mapOpenError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return status.New("open", status.NoDevice, fmt.Errorf("%s: %w", path, status.ErrDeviceNotFound))
	case errors.Is(err, syscall.EBUSY):
		return status.New("open", status.Busy, fmt.Errorf("%s: %w", path, status.ErrResourceUnavailable))
	case errors.Is(err, os.ErrPermission):
		return status.New("open", status.NotPermitted, err)
	default:
		return status.New("open", status.IO, err)
	}
}

// isV4L2Device はデバイスがV4L2デバイスかチェックする
func isV4L2Device(device string) bool {
	matched, _ := regexp.MatchString(`^/dev/video\d+$`, device)
	return matched
}

// getV4L2DeviceName はv4l2-ctlを使って実際のデバイス名を取得する
func getV4L2DeviceName(device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	// "Card type" の行からカメラ名を抽出
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
			if cardType := strings.TrimSpace(parts[1]); cardType != "" {
				return cardType
			}
		}
	}

	return ""
}

var deviceNumberPattern = regexp.MustCompile(`video(\d+)`)

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// MockBackend はテスト用のモックBackend実装
type MockBackend struct {
	mu       sync.Mutex
	facings  []Facing
	formats  map[surface.Format]bool
	open     map[int]bool
	claimed  map[int]bool
	sessions map[int]Mode
	sizes    map[int][2]int
	countErr error
	stopErr  error

	// 呼び出し回数
	CountCalls int
	Opens      int
	Closes     int
}

// NewMockBackend は指定された向きのデバイスを持つMockBackendを作成する
func NewMockBackend(facings ...Facing) *MockBackend {
	return &MockBackend{
		facings: facings,
		formats: map[surface.Format]bool{
			surface.FormatPrivate: true,
			surface.FormatYUV420:  true,
			surface.FormatJPEG:    true,
		},
		sizes:    make(map[int][2]int),
		open:     make(map[int]bool),
		claimed:  make(map[int]bool),
		sessions: make(map[int]Mode),
	}
}

// Count はモックデバイス数を返す
func (m *MockBackend) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CountCalls++
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.facings), nil
}

// Facing はモックデバイスの向きを返す
func (m *MockBackend) Facing(index int) (Facing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(index); err != nil {
		return FacingExternal, err
	}
	return m.facings[index], nil
}

// Supports は対応フォーマットかどうかを返す
func (m *MockBackend) Supports(_ int, format surface.Format) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formats[format]
}

// PreferredSize は設定された解像度を返す。未設定の場合は 0, 0
func (m *MockBackend) PreferredSize(index int) (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := m.sizes[index]
	return size[0], size[1]
}

// OpenDevice はモックデバイスを開く
func (m *MockBackend) OpenDevice(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(index); err != nil {
		return err
	}
	if m.claimed[index] || m.open[index] {
		return status.New("open", status.Busy, fmt.Errorf("カメラ %d: %w", index, status.ErrResourceUnavailable))
	}

	m.open[index] = true
	m.Opens++
	return nil
}

// CloseDevice はモックデバイスを閉じる
func (m *MockBackend) CloseDevice(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open[index] {
		return nil
	}
	delete(m.open, index)
	delete(m.sessions, index)
	m.Closes++
	return nil
}

// StartRepeat は連続キャプチャを開始する
func (m *MockBackend) StartRepeat(index int, _ surface.Surface) error {
	return m.start(index, ModeRepeating)
}

// StartCapture は単発キャプチャを開始する
func (m *MockBackend) StartCapture(index int, _ surface.Surface) error {
	return m.start(index, ModeCapturing)
}

// StopSession はセッションを停止する
func (m *MockBackend) StopSession(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopErr != nil {
		return m.stopErr
	}
	delete(m.sessions, index)
	return nil
}

func (m *MockBackend) start(index int, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open[index] {
		return status.New("start", status.Invalid, fmt.Errorf("カメラ %d は開かれていません", index))
	}
	if _, active := m.sessions[index]; active {
		return status.New("start", status.Busy, fmt.Errorf("カメラ %d のセッションは動作中です", index))
	}
	m.sessions[index] = mode
	return nil
}

func (m *MockBackend) check(index int) error {
	if index < 0 || index >= len(m.facings) {
		return status.New("resolve", status.NoDevice, fmt.Errorf("カメラ %d: %w", index, status.ErrDeviceNotFound))
	}
	return nil
}

// Claim はテスト用に他プロセスがデバイスを占有している状態にする
func (m *MockBackend) Claim(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimed[index] = true
}

// Unclaim はテスト用に占有を解除する
func (m *MockBackend) Unclaim(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, index)
}

// SetFormat はテスト用に対応フォーマットを設定する
func (m *MockBackend) SetFormat(format surface.Format, supported bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formats[format] = supported
}

// SetPreferredSize はテスト用にデバイスの解像度を設定する
func (m *MockBackend) SetPreferredSize(index, width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes[index] = [2]int{width, height}
}

// SetCountError はテスト用に列挙の失敗を設定する
func (m *MockBackend) SetCountError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countErr = err
}

// SetStopError はテスト用にセッション停止の失敗を設定する
func (m *MockBackend) SetStopError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopErr = err
}

// OpenDevices は開いているデバイス数を返す
func (m *MockBackend) OpenDevices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// ActiveSession は指定デバイスのセッションのモードを返す
func (m *MockBackend) ActiveSession(index int) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()

	mode, active := m.sessions[index]
	if !active {
		return ModeNone
	}
	return mode
}
