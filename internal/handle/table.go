// Package handle はネイティブリソースを不透明な整数ハンドルで管理するテーブルを提供する
//
// ハンドルはスロット番号と世代番号の組で表され、解放済みハンドルの再利用や
// 二重解放を検出できる。0 (Nil) は「リソースなし」を意味する。
package handle

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"muffin/internal/status"
)

// Handle はリソースを指す不透明な識別子
type Handle uint64

// Nil はリソースが存在しないことを示す
const Nil Handle = 0

func makeHandle(index int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() int { return int(uint32(h)) - 1 }

func (h Handle) generation() uint32 { return uint32(h >> 32) }

// String は "#<index>.<generation>" 形式で返す
func (h Handle) String() string {
	if h == Nil {
		return "#nil"
	}
	return fmt.Sprintf("#%d.%d", h.index(), h.generation())
}

// Kind はリソースの種類
type Kind string

const (
	KindCamera   Kind = "camera"
	KindDisplay  Kind = "display"
	KindContext  Kind = "context"
	KindSurface  Kind = "surface"
	KindSensor   Kind = "sensor"
	KindRunnable Kind = "runnable"
)

// Mode は二重解放時の振る舞い
type Mode int

const (
	// ModeProduction はログを出力してエラーを返す
	ModeProduction Mode = iota
	// ModeDebug は panic する
	ModeDebug
)

type slot[T any] struct {
	gen   uint32
	kind  Kind
	value T
	live  bool
}

// Table はハンドルとリソースの対応を保持する
type Table[T any] struct {
	mu     sync.RWMutex
	slots  []slot[T]
	free   []int
	serial uint32
	live   int
	mode   Mode
	name   string
}

// NewTable は新しいTableを作成する
func NewTable[T any](name string, mode Mode) *Table[T] {
	return &Table[T]{name: name, mode: mode}
}

// Allocate はリソースを登録して新しいハンドルを発行する
func (t *Table[T]) Allocate(kind Kind, v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.serial++
	gen := t.serial

	var index int
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		index = len(t.slots)
		t.slots = append(t.slots, slot[T]{})
	}

	t.slots[index] = slot[T]{gen: gen, kind: kind, value: v, live: true}
	t.live++
	return makeHandle(index, gen)
}

// Resolve はハンドルに対応するリソースを取得する
func (t *Table[T]) Resolve(h Handle) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", t.name, h, status.ErrNotFound)
	}
	return s.value, nil
}

// Kind はハンドルが指すリソースの種類を返す
func (t *Table[T]) Kind(h Handle) (Kind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.lookup(h)
	if !ok {
		return "", false
	}
	return s.kind, true
}

// Release はハンドルを無効化し、登録されていたリソースを返す
// 解放済みのハンドルに対しては ErrDoubleRelease を返す（ModeDebug では panic）
func (t *Table[T]) Release(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, ok := t.lookup(h)
	if !ok {
		err := fmt.Errorf("%s %s: %w", t.name, h, status.ErrDoubleRelease)
		if t.mode == ModeDebug {
			panic(err)
		}
		log.Printf("ハンドルの二重解放を検出しました: %v", err)
		return zero, err
	}

	index := h.index()
	value := s.value
	t.slots[index] = slot[T]{gen: s.gen}
	t.free = append(t.free, index)
	t.live--
	return value, nil
}

// Live は現在有効なハンドル数を返す
func (t *Table[T]) Live() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Handles は有効なハンドルを発行順に返す
func (t *Table[T]) Handles() []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	handles := make([]Handle, 0, t.live)
	for i, s := range t.slots {
		if s.live {
			handles = append(handles, makeHandle(i, s.gen))
		}
	}
	sortHandles(handles)
	return handles
}

// lookup はハンドルに対応する有効なスロットを返す（ロック済み前提）
func (t *Table[T]) lookup(h Handle) (slot[T], bool) {
	if h == Nil {
		return slot[T]{}, false
	}
	index := h.index()
	if index < 0 || index >= len(t.slots) {
		return slot[T]{}, false
	}
	s := t.slots[index]
	if !s.live || s.gen != h.generation() {
		return slot[T]{}, false
	}
	return s, true
}

// sortHandles は発行順に並べ替える。世代番号は発行ごとに単調増加する
func sortHandles(hs []Handle) {
	sort.Slice(hs, func(i, j int) bool {
		return hs[i].generation() < hs[j].generation()
	})
}
