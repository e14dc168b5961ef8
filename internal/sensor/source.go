package sensor

import (
	"fmt"
	"sync"
	"time"

	"muffin/internal/status"
)

// Kind はセンサーの種類
type Kind int

const (
	Accelerometer Kind = iota
	Gyroscope
)

// Kinds はストリームが購読するセンサー
var Kinds = []Kind{Accelerometer, Gyroscope}

func (k Kind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	default:
		return fmt.Sprintf("sensor(%d)", int(k))
	}
}

// Event はセンサーのサンプル
// 加速度は m/s^2、角速度は rad/s
type Event struct {
	Kind      Kind
	X, Y, Z   float64
	Timestamp time.Duration
}

// Source はセンサーマネージャーを抽象化する
type Source interface {
	// Enable はセンサーのイベントキューを有効にする
	Enable(kind Kind) error

	// Disable はセンサーのイベントキューを無効にする
	Disable(kind Kind) error

	// Poll は溜まっているイベントを取り出す。有効なセンサーのイベントのみ返す
	Poll() ([]Event, error)
}

// SimulatedSource はメモリ上のイベントを返すSource実装
type SimulatedSource struct {
	mu       sync.Mutex
	enabled  map[Kind]bool
	pending  []Event
	enables  map[Kind]int
	disables map[Kind]int
	failOn   map[Kind]error
}

// NewSimulatedSource は新しいSimulatedSourceを作成する
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{
		enabled:  make(map[Kind]bool),
		enables:  make(map[Kind]int),
		disables: make(map[Kind]int),
		failOn:   make(map[Kind]error),
	}
}

// Enable はセンサーを有効にする
func (s *SimulatedSource) Enable(kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failOn[kind]; err != nil {
		return err
	}
	s.enabled[kind] = true
	s.enables[kind]++
	return nil
}

// Disable はセンサーを無効にする
func (s *SimulatedSource) Disable(kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled[kind] {
		return status.New("disable", status.Invalid, fmt.Errorf("%s は有効ではありません", kind))
	}
	s.enabled[kind] = false
	s.disables[kind]++
	return nil
}

// Poll は有効なセンサーのイベントを返す。無効なセンサーのイベントは破棄する
func (s *SimulatedSource) Poll() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, ev := range s.pending {
		if s.enabled[ev.Kind] {
			out = append(out, ev)
		}
	}
	s.pending = nil
	return out, nil
}

// Push はイベントを追加する
func (s *SimulatedSource) Push(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, events...)
}

// Rotate は z 軸まわりに rate (rad/s) で回転するジャイロイベントを step 間隔で追加する
func (s *SimulatedSource) Rotate(rate float64, d, step time.Duration) {
	var events []Event
	for t := time.Duration(0); t <= d; t += step {
		events = append(events, Event{Kind: Gyroscope, Z: rate, Timestamp: t})
	}
	s.Push(events...)
}

// Enabled はセンサーが有効かを返す
func (s *SimulatedSource) Enabled(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[kind]
}

// Subscriptions はEnableとDisableの呼び出し回数を返す
func (s *SimulatedSource) Subscriptions(kind Kind) (enables, disables int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enables[kind], s.disables[kind]
}

// FailEnable はテスト用に kind の有効化を失敗させる。nil で解除
func (s *SimulatedSource) FailEnable(kind Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, kind)
		return
	}
	s.failOn[kind] = err
}
