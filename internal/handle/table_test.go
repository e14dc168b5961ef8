package handle

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"muffin/internal/status"
)

func TestTable_AllocateResolveRelease(t *testing.T) {
	table := NewTable[string]("test", ModeProduction)

	h := table.Allocate(KindCamera, "camera-0")
	if h == Nil {
		t.Fatal("Allocate returned Nil handle")
	}
	if table.Live() != 1 {
		t.Fatalf("Expected 1 live handle, got %d", table.Live())
	}

	v, err := table.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if v != "camera-0" {
		t.Errorf("Expected camera-0, got %s", v)
	}

	kind, ok := table.Kind(h)
	if !ok || kind != KindCamera {
		t.Errorf("Expected kind camera, got %q (%v)", kind, ok)
	}

	released, err := table.Release(h)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released != "camera-0" {
		t.Errorf("Expected released value camera-0, got %s", released)
	}
	if table.Live() != 0 {
		t.Errorf("Expected 0 live handles, got %d", table.Live())
	}

	// 解放後は解決できない
	if _, err := table.Resolve(h); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after release, got %v", err)
	}
}

func TestTable_NilHandle(t *testing.T) {
	table := NewTable[int]("test", ModeProduction)

	if _, err := table.Resolve(Nil); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for Nil, got %v", err)
	}
	if Nil.String() != "#nil" {
		t.Errorf("unexpected Nil string: %s", Nil)
	}
}

func TestTable_DoubleRelease(t *testing.T) {
	table := NewTable[int]("test", ModeProduction)
	h := table.Allocate(KindContext, 1)

	if _, err := table.Release(h); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if _, err := table.Release(h); !errors.Is(err, status.ErrDoubleRelease) {
		t.Errorf("Expected ErrDoubleRelease, got %v", err)
	}
	if table.Live() != 0 {
		t.Errorf("Expected 0 live handles, got %d", table.Live())
	}
}

func TestTable_DoubleReleasePanicsInDebug(t *testing.T) {
	table := NewTable[int]("test", ModeDebug)
	h := table.Allocate(KindContext, 1)
	if _, err := table.Release(h); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on double release in debug mode")
		}
	}()
	table.Release(h)
}

func TestTable_StaleHandleAfterReuse(t *testing.T) {
	table := NewTable[string]("test", ModeProduction)

	old := table.Allocate(KindSurface, "a")
	if _, err := table.Release(old); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// 同じスロットが再利用されるが世代が異なる
	fresh := table.Allocate(KindSurface, "b")
	if fresh.index() != old.index() {
		t.Fatalf("Expected slot reuse, got %d and %d", old.index(), fresh.index())
	}
	if fresh <= old {
		t.Errorf("Expected monotonically increasing handles: %s then %s", old, fresh)
	}

	if _, err := table.Resolve(old); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("Expected stale handle to be rejected, got %v", err)
	}
	if _, err := table.Release(old); !errors.Is(err, status.ErrDoubleRelease) {
		t.Errorf("Expected stale release to be rejected, got %v", err)
	}

	v, err := table.Resolve(fresh)
	if err != nil || v != "b" {
		t.Errorf("Expected fresh handle to resolve to b, got %q (%v)", v, err)
	}
}

func TestTable_Handles(t *testing.T) {
	table := NewTable[int]("test", ModeProduction)
	a := table.Allocate(KindSensor, 1)
	b := table.Allocate(KindSensor, 2)
	c := table.Allocate(KindSensor, 3)
	table.Release(b)
	d := table.Allocate(KindSensor, 4)

	want := []Handle{a, c, d}
	if diff := cmp.Diff(want, table.Handles()); diff != "" {
		t.Errorf("Handles mismatch (-want +got):\n%s", diff)
	}
}

func TestTable_ConcurrentAccess(t *testing.T) {
	table := NewTable[int]("test", ModeProduction)

	var wg sync.WaitGroup
	handles := make(chan Handle, 100)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h := table.Allocate(KindRunnable, n*10+j)
				if _, err := table.Resolve(h); err != nil {
					t.Errorf("Resolve failed: %v", err)
				}
				handles <- h
			}
		}(i)
	}
	wg.Wait()
	close(handles)

	seen := make(map[Handle]bool)
	for h := range handles {
		if seen[h] {
			t.Fatalf("duplicate handle issued: %s", h)
		}
		seen[h] = true
	}
	if table.Live() != 100 {
		t.Errorf("Expected 100 live handles, got %d", table.Live())
	}
}
