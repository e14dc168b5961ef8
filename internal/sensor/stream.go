// Package sensor は加速度・ジャイロセンサーの購読（コンパス）のライフサイクルを管理する
//
// ストリームは PAUSED で作成され、Resume / Pause で購読を切り替える。
// どちらも冪等で、同じ状態への遷移はセンサーに触れずに 0 を返す。
// Update は停止中でも呼び出せ、その場合はキャッシュされた値を維持する。
package sensor

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"muffin/internal/handle"
	"muffin/internal/status"
)

// State はストリームの状態
type State string

const (
	StatePaused  State = "paused"
	StateResumed State = "resumed"
)

// Reading は最後に取り込んだセンサー値
type Reading struct {
	Accel   [3]float64 `json:"accel"`
	Gyro    [3]float64 `json:"gyro"`
	Heading float64    `json:"heading"` // 度 [0, 360)
	Samples int        `json:"samples"`
}

type stream struct {
	mu      sync.Mutex
	source  Source
	state   State
	reading Reading

	lastGyro time.Duration
	hasGyro  bool
}

// Registry は生存しているストリームを管理する
type Registry struct {
	table *handle.Table[*stream]
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(mode handle.Mode) *Registry {
	return &Registry{table: handle.NewTable[*stream]("sensor", mode)}
}

// Live は閉じられていないストリーム数を返す
func (r *Registry) Live() int {
	return r.table.Live()
}

// Stream はセンサーストリームへの参照
type Stream struct {
	id       handle.Handle
	registry *Registry
	owner    string
	name     string
}

// New はストリームを作成する。owner はログ用の識別子（パッケージ名など）
func New(r *Registry, owner string, source Source) (*Stream, error) {
	if source == nil {
		return nil, fmt.Errorf("センサーソースがありません: %w", status.ErrCreationFailure)
	}

	name := "compass-" + uuid.NewString()[:8]
	id := r.table.Allocate(handle.KindSensor, &stream{source: source, state: StatePaused})
	log.Printf("センサーストリームを作成しました: %s (%s)", name, owner)

	return &Stream{id: id, registry: r, owner: owner, name: name}, nil
}

// ID はストリームのハンドルを返す
func (s *Stream) ID() handle.Handle { return s.id }

// Name はストリームの名前を返す。状態によらず空にはならない
func (s *Stream) Name() string { return s.name }

// Owner は作成時の識別子を返す
func (s *Stream) Owner() string { return s.owner }

// Resume はセンサーの購読を開始する
func (s *Stream) Resume() status.Code {
	st, err := s.registry.table.Resolve(s.id)
	if err != nil {
		return status.Of(err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state == StateResumed {
		return status.OK
	}

	enabled := make([]Kind, 0, len(Kinds))
	for _, kind := range Kinds {
		if err := st.source.Enable(kind); err != nil {
			log.Printf("%s: %s の有効化に失敗: %v", s.name, kind, err)
			// 一部だけ購読した状態を残さない
			for _, k := range enabled {
				if err := st.source.Disable(k); err != nil {
					log.Printf("%s: %s の無効化に失敗: %v", s.name, k, err)
				}
			}
			return status.Of(err)
		}
		enabled = append(enabled, kind)
	}

	st.state = StateResumed
	st.hasGyro = false
	return status.OK
}

// Pause はセンサーの購読を停止する
func (s *Stream) Pause() status.Code {
	st, err := s.registry.table.Resolve(s.id)
	if err != nil {
		return status.Of(err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pause(s.name)
}

func (st *stream) pause(name string) status.Code {
	if st.state == StatePaused {
		return status.OK
	}

	// 失敗しても残りのセンサーは無効にする
	code := status.OK
	for _, kind := range Kinds {
		if err := st.source.Disable(kind); err != nil {
			log.Printf("%s: %s の無効化に失敗: %v", name, kind, err)
			if code == status.OK {
				code = status.Of(err)
			}
		}
	}
	st.state = StatePaused
	return code
}

// Update は溜まっているイベントを取り込む。停止中はキャッシュを維持して 0 を返す
func (s *Stream) Update() status.Code {
	st, err := s.registry.table.Resolve(s.id)
	if err != nil {
		return status.Of(err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state == StatePaused {
		return status.OK
	}

	events, err := st.source.Poll()
	for _, ev := range events {
		st.apply(ev)
	}
	if err != nil {
		log.Printf("%s: イベントの取得に失敗: %v", s.name, err)
		return status.Of(err)
	}
	return status.OK
}

func (st *stream) apply(ev Event) {
	switch ev.Kind {
	case Accelerometer:
		st.reading.Accel = [3]float64{ev.X, ev.Y, ev.Z}
	case Gyroscope:
		st.reading.Gyro = [3]float64{ev.X, ev.Y, ev.Z}
		// z軸の角速度を積分して方位とする
		if st.hasGyro && ev.Timestamp > st.lastGyro {
			dt := (ev.Timestamp - st.lastGyro).Seconds()
			st.reading.Heading = normalizeDegrees(st.reading.Heading + ev.Z*dt*180/math.Pi)
		}
		st.lastGyro = ev.Timestamp
		st.hasGyro = true
	default:
		return
	}
	st.reading.Samples++
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Reading は最後に取り込んだ値を返す
func (s *Stream) Reading() (Reading, error) {
	st, err := s.registry.table.Resolve(s.id)
	if err != nil {
		return Reading{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.reading, nil
}

// Heading は現在の方位（度）を返す
func (s *Stream) Heading() float64 {
	r, err := s.Reading()
	if err != nil {
		return 0
	}
	return r.Heading
}

// State は現在の状態を返す
func (s *Stream) State() (State, error) {
	st, err := s.registry.table.Resolve(s.id)
	if err != nil {
		return StatePaused, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state, nil
}

// Close は購読を停止してからストリームを解放する
// 二回目以降は status.ErrDoubleRelease を返す
func (s *Stream) Close() error {
	st, err := s.registry.table.Release(s.id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if code := st.pause(s.name); code != status.OK {
		log.Printf("%s の停止に失敗: %s", s, code)
	}
	return nil
}

func (s *Stream) String() string {
	return fmt.Sprintf("Compass{%s %x}", s.name, uint64(s.id))
}
