// Package task は外部からのtickで進む周期タスクを提供する
//
// Task は残り時間とtick間隔を保持する状態機械で、Tick ごとに Continue か Done を返す。
// Done は完了したtickで一度だけ報告され、以降のTickは何もせずに Done を返す。
package task

import (
	"fmt"
	"sync"
	"time"

	"muffin/internal/status"
)

// Status はtickの結果
type Status int

const (
	Continue Status = iota
	Done
)

func (s Status) String() string {
	if s == Done {
		return "done"
	}
	return "continue"
}

// Stepper はtickで進む処理
type Stepper interface {
	Tick() Status
}

// Task は duration 経過で完了する周期タスク
type Task struct {
	mu       sync.Mutex
	duration time.Duration
	interval time.Duration
	elapsed  time.Duration
	ticks    int
	done     bool
}

// New は新しいTaskを作成する
func New(duration, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		return nil, status.New("task", status.Invalid, fmt.Errorf("間隔は正の値が必要です: %s", interval))
	}
	if duration < 0 {
		return nil, status.New("task", status.Invalid, fmt.Errorf("期間が負の値です: %s", duration))
	}
	return &Task{duration: duration, interval: interval}, nil
}

// Tick は interval 分だけ経過時間を進める
func (t *Task) Tick() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return Done
	}
	t.ticks++
	t.elapsed += t.interval
	if t.elapsed >= t.duration {
		t.done = true
		return Done
	}
	return Continue
}

// Interval はtick間隔を返す
func (t *Task) Interval() time.Duration { return t.interval }

// Elapsed は経過時間を返す
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// Ticks は完了までに処理したtick数を返す
func (t *Task) Ticks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// Done は完了しているかを返す
func (t *Task) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
