// Package executor はリソースごとの単一所有者キューを提供する
//
// ネイティブAPIはスレッドセーフではないため、あるリソースに対する変更操作は
// 必ず同じゴルーチン上で順番に実行する。異なるリソースのキューは並行に動作する。
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"muffin/internal/status"
)

type job struct {
	fn   func() error
	done chan error
}

// Queue は投入された処理を専用ゴルーチンで逐次実行する
type Queue struct {
	name string
	jobs chan job

	mu     sync.RWMutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New は新しいQueueを作成し、実行ゴルーチンを開始する
func New(name string) *Queue {
	q := &Queue{
		name:   name,
		jobs:   make(chan job),
		stopCh: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// Name はキューの名前を返す
func (q *Queue) Name() string { return q.name }

// Submit は処理を投入し、完了まで待機する
// 投入した処理の中から同じキューへ Submit してはならない
func (q *Queue) Submit(ctx context.Context, fn func() error) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("キュー %s: %w", q.name, status.ErrClosed)
	}
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case q.jobs <- j:
		q.mu.RUnlock()
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}

	// 開始済みの処理は中断しない
	return <-j.done
}

// Close はキューを停止する。実行中の処理の完了を待つ
// 既に閉じている場合も実行ゴルーチンの終了を待ってから返る
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.stopCh)
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// Finish は破棄処理を必ず一度実行する
// ctx のキャンセルでは中断せず、キューが閉じている場合は実行ゴルーチンの
// 終了を待ってから呼び出し元のゴルーチンで実行する
func (q *Queue) Finish(ctx context.Context, fn func() error) error {
	ran := false
	err := q.Submit(context.WithoutCancel(ctx), func() error {
		ran = true
		return fn()
	})
	if ran || !errors.Is(err, status.ErrClosed) {
		return err
	}

	q.Close()
	return q.run(fn)
}

// Do は値を返す処理をキュー上で実行する
func Do[T any](ctx context.Context, q *Queue, fn func() (T, error)) (T, error) {
	var result T
	err := q.Submit(ctx, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

func (q *Queue) loop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case j := <-q.jobs:
			j.done <- q.run(j.fn)
		}
	}
}

func (q *Queue) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("キュー %s で panic が発生: %v\n%s", q.name, r, debug.Stack())
		}
	}()
	return fn()
}
