package task

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"muffin/internal/handle"
	"muffin/internal/status"
)

type entry struct {
	mu      sync.Mutex
	stepper Stepper
}

// Registry はハンドルでタスクを管理する
type Registry struct {
	table *handle.Table[*entry]
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(mode handle.Mode) *Registry {
	return &Registry{table: handle.NewTable[*entry]("task", mode)}
}

// Register はタスクを登録してハンドルを返す
func (r *Registry) Register(s Stepper) handle.Handle {
	return r.table.Allocate(handle.KindRunnable, &entry{stepper: s})
}

// Resume はタスクを一回進める。完了したタスクはテーブルから取り除かれる
// Nil や未知のハンドルに対しては何もせずに Done を返す
func (r *Registry) Resume(h handle.Handle) Status {
	if h == handle.Nil {
		return Done
	}
	e, err := r.table.Resolve(h)
	if err != nil {
		return Done
	}

	e.mu.Lock()
	st := e.stepper.Tick()
	e.mu.Unlock()

	if st == Done {
		// 同時に完了した呼び出しがあれば解放済み
		if _, err := r.table.Release(h); err != nil {
			log.Printf("タスク %s は既に解放されています", h)
		}
	}
	return st
}

// Live は完了していないタスク数を返す
func (r *Registry) Live() int {
	return r.table.Live()
}

// Runnable はタスクのハンドルを保持し、完了時にハンドルを消去する
type Runnable struct {
	Handle   handle.Handle
	registry *Registry
}

// NewRunnable はタスクを登録したRunnableを返す
func (r *Registry) NewRunnable(s Stepper) *Runnable {
	return &Runnable{Handle: r.Register(s), registry: r}
}

// Run はタスクを一回進める。ハンドルが Nil の場合は何もしない
func (r *Runnable) Run() {
	if r.Handle == handle.Nil {
		return
	}
	if r.registry.Resume(r.Handle) == Done {
		r.Handle = handle.Nil
	}
}

// Finished は完了しているかを返す
func (r *Runnable) Finished() bool {
	return r.Handle == handle.Nil
}

// Schedule は interval ごとに s を進め、完了までに Continue を返した回数を返す
// ctx がキャンセルされた場合はそれまでの回数とエラーを返す
func Schedule(ctx context.Context, s Stepper, interval time.Duration) (int, error) {
	if interval <= 0 {
		return 0, status.New("schedule", status.Invalid, fmt.Errorf("間隔は正の値が必要です: %s", interval))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case <-ticker.C:
			if s.Tick() == Done {
				return count, nil
			}
			count++
		}
	}
}
