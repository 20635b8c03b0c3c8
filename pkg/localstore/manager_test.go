package localstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vango-dev/localstore/internal/errors"
	"github.com/vango-dev/localstore/pkg/broadcast"
	"github.com/vango-dev/localstore/pkg/reactive"
	"github.com/vango-dev/localstore/pkg/storage"
)

// numberOrThrow accepts JSON numbers only.
func numberOrThrow(raw any) (float64, error) {
	n, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("not a number: %v", raw)
	}
	return n, nil
}

// newMemoryHost returns a host over a fresh memory origin.
func newMemoryHost(t *testing.T) (*storage.Memory, *Host) {
	t.Helper()
	origin := storage.NewMemory()
	t.Cleanup(func() { origin.Close() })
	return origin, NewHost(origin.Context())
}

// recorder collects watcher calls.
type recorder[T any] struct {
	mu    sync.Mutex
	calls []Slot[T]
}

func (r *recorder[T]) listen(v T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Slot[T]{Value: v, Present: ok})
}

func (r *recorder[T]) snapshot() []Slot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Slot[T](nil), r.calls...)
}

func TestReadWithoutEntry(t *testing.T) {
	_, host := newMemoryHost(t)

	t.Run("no default", func(t *testing.T) {
		m := New("k", numberOrThrow, WithHost(host))
		defer m.Destroy()

		if v, ok := m.Read(); ok || v != 0 {
			t.Errorf("Read() = %v, %v, want undefined", v, ok)
		}
		if v, ok := m.Get(); ok || v != 0 {
			t.Errorf("Get() = %v, %v, want undefined", v, ok)
		}
	})

	t.Run("with default", func(t *testing.T) {
		m := NewWithDefault("k", numberOrThrow, 123, WithHost(host))
		defer m.Destroy()

		if v, ok := m.Read(); !ok || v != 123 {
			t.Errorf("Read() = %v, %v, want 123", v, ok)
		}
		if v, ok := m.Get(); !ok || v != 123 {
			t.Errorf("Get() = %v, %v, want 123", v, ok)
		}
	})
}

func TestSetScenario(t *testing.T) {
	origin, host := newMemoryHost(t)
	m := New("k", numberOrThrow, WithHost(host))
	defer m.Destroy()

	if _, ok := m.Read(); ok {
		t.Fatal("Read() on empty storage should be undefined")
	}

	var rec recorder[float64]
	m.Watch(rec.listen)

	reads := origin.Reads()
	if err := m.Set(5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := m.Get(); !ok || v != 5 {
		t.Errorf("Get() = %v, %v, want 5", v, ok)
	}
	if n := origin.Reads() - reads; n != 0 {
		t.Errorf("Set and Get performed %d reads, want 0", n)
	}

	raw, found, _ := origin.GetItem(context.Background(), "k")
	if !found || raw != "5" {
		t.Errorf("stored %q, %v, want \"5\"", raw, found)
	}

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != (Slot[float64]{Value: 5, Present: true}) {
		t.Errorf("watcher calls = %v, want [{5 true}]", calls)
	}
}

func TestInvalidValueFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{"non-numeric JSON", `"abc"`},
		{"not JSON", `abc`},
		{"JSON object", `{"n":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin, host := newMemoryHost(t)
			origin.SetItem(context.Background(), "k", tt.stored)

			m := NewWithDefault("k", numberOrThrow, 123, WithHost(host))
			defer m.Destroy()

			if v, ok := m.Read(); !ok || v != 123 {
				t.Errorf("Read() = %v, %v, want 123", v, ok)
			}
			if v, ok := m.Get(); !ok || v != 123 {
				t.Errorf("Get() = %v, %v, want 123", v, ok)
			}
		})
	}
}

func TestGetReadsOnce(t *testing.T) {
	origin, host := newMemoryHost(t)
	origin.SetItem(context.Background(), "k", "7")

	m := New("k", numberOrThrow, WithHost(host))
	defer m.Destroy()

	m.Get()
	m.Get()
	if n := origin.Reads(); n != 1 {
		t.Errorf("reads = %d, want 1", n)
	}
}

func TestGetCachesConfirmedUndefined(t *testing.T) {
	origin, host := newMemoryHost(t)
	m := New("missing", numberOrThrow, WithHost(host))
	defer m.Destroy()

	m.Get()
	m.Get()
	m.Get()
	if n := origin.Reads(); n != 1 {
		t.Errorf("reads = %d, want 1", n)
	}
}

func TestConcurrentGetReadsOnce(t *testing.T) {
	origin, host := newMemoryHost(t)
	origin.SetItem(context.Background(), "k", "1")

	m := New("k", numberOrThrow, WithHost(host))
	defer m.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, ok := m.Get(); !ok || v != 1 {
				t.Errorf("Get() = %v, %v", v, ok)
			}
		}()
	}
	wg.Wait()

	if n := origin.Reads(); n != 1 {
		t.Errorf("reads = %d, want 1", n)
	}
}

func TestRemove(t *testing.T) {
	t.Run("with default", func(t *testing.T) {
		origin, host := newMemoryHost(t)
		m := NewWithDefault("k", numberOrThrow, 123, WithHost(host))
		defer m.Destroy()

		m.Set(5)
		var rec recorder[float64]
		m.Watch(rec.listen)

		if err := m.Remove(); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, found, _ := origin.GetItem(context.Background(), "k"); found {
			t.Error("entry should be deleted")
		}

		reads := origin.Reads()
		if v, ok := m.Get(); !ok || v != 123 {
			t.Errorf("Get() = %v, %v, want 123", v, ok)
		}
		if origin.Reads() != reads {
			t.Error("Get after Remove should not read")
		}

		calls := rec.snapshot()
		if len(calls) != 1 || calls[0] != (Slot[float64]{Value: 123, Present: true}) {
			t.Errorf("watcher calls = %v, want [{123 true}]", calls)
		}
	})

	t.Run("no default", func(t *testing.T) {
		_, host := newMemoryHost(t)
		m := New("k", numberOrThrow, WithHost(host))
		defer m.Destroy()

		m.Set(5)
		var rec recorder[float64]
		m.Watch(rec.listen)
		m.Remove()

		if _, ok := m.Get(); ok {
			t.Error("Get() after Remove should be undefined")
		}
		calls := rec.snapshot()
		if len(calls) != 1 || calls[0].Present {
			t.Errorf("watcher calls = %v, want one undefined", calls)
		}
	})
}

func TestUpdateUsesCachedValue(t *testing.T) {
	origin := storage.NewMemory()
	defer origin.Close()
	// No change source: out-of-band writes go unnoticed
	host := &Host{Storage: origin.Context(), Bus: broadcast.New()}

	m := New("counter", numberOrThrow, WithHost(host))
	defer m.Destroy()

	m.Set(1)
	origin.SetItem(context.Background(), "counter", "100")

	var calls int
	err := m.Update(func(current float64, ok bool) float64 {
		calls++
		if !ok {
			t.Error("updater should see a present value")
		}
		return current + 1
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if calls != 1 {
		t.Errorf("updater called %d times, want 1", calls)
	}
	if v, _ := m.Get(); v != 2 {
		t.Errorf("Get() = %v, want 2", v)
	}
	if raw, _, _ := origin.GetItem(context.Background(), "counter"); raw != "2" {
		t.Errorf("stored %q, want \"2\"", raw)
	}
}

func TestUpdateOnUndefined(t *testing.T) {
	_, host := newMemoryHost(t)
	m := New("k", As[[]string](), WithHost(host))
	defer m.Destroy()

	m.Update(func(current []string, ok bool) []string {
		if ok {
			t.Error("expected undefined current value")
		}
		return append(current, "a")
	})
	if v, ok := m.Get(); !ok || len(v) != 1 || v[0] != "a" {
		t.Errorf("Get() = %v, %v", v, ok)
	}
}

func TestTwoManagersSameContext(t *testing.T) {
	origin, host := newMemoryHost(t)
	a := New("k", numberOrThrow, WithHost(host))
	b := New("k", numberOrThrow, WithHost(host))
	defer a.Destroy()
	defer b.Destroy()

	var rec recorder[float64]
	b.Watch(rec.listen)

	reads := origin.Reads()
	a.Set(42)

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].Value != 42 {
		t.Errorf("b watcher calls = %v, want [{42 true}]", calls)
	}
	if origin.Reads() != reads {
		t.Error("b should adopt the pushed value without reading")
	}
	if v, _ := b.Get(); v != 42 {
		t.Errorf("b.Get() = %v, want 42", v)
	}
}

func TestLocalChangeForOtherKeyIgnored(t *testing.T) {
	_, host := newMemoryHost(t)
	a := New("a", numberOrThrow, WithHost(host))
	b := NewWithDefault("b", numberOrThrow, 9, WithHost(host))
	defer a.Destroy()
	defer b.Destroy()

	var rec recorder[float64]
	b.Watch(rec.listen)
	a.Set(1)

	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("b watcher calls = %v, want none", calls)
	}
	if v, _ := b.Get(); v != 9 {
		t.Errorf("b.Get() = %v, want 9", v)
	}
}

func TestLocalChangeWithOtherTypeInvalidates(t *testing.T) {
	origin, host := newMemoryHost(t)
	num := NewWithDefault("k", numberOrThrow, 123, WithHost(host))
	str := New("k", As[string](), WithHost(host))
	defer num.Destroy()
	defer str.Destroy()

	num.Set(1)
	reads := origin.Reads()

	str.Set("x")
	if v, _ := num.Get(); v != 123 {
		t.Errorf("num.Get() = %v, want 123 after a string was stored", v)
	}
	if origin.Reads() != reads+1 {
		t.Errorf("num should re-read once, reads = %d", origin.Reads()-reads)
	}
}

func TestCrossContextInvalidation(t *testing.T) {
	origin := storage.NewMemory()
	defer origin.Close()

	here := New("k", numberOrThrow, WithHost(NewHost(origin.Context())))
	there := New("k", numberOrThrow, WithHost(NewHost(origin.Context())))
	defer here.Destroy()
	defer there.Destroy()

	here.Get()
	reads := origin.Reads()

	if err := there.Set(8); err != nil {
		t.Fatal(err)
	}
	if origin.Reads() != reads {
		t.Error("invalidation alone should not read")
	}

	if v, ok := here.Get(); !ok || v != 8 {
		t.Errorf("here.Get() = %v, %v, want 8", v, ok)
	}
	here.Get()
	if n := origin.Reads() - reads; n != 1 {
		t.Errorf("reads after invalidation = %d, want 1", n)
	}
}

func TestCrossContextWatcherSeesFreshValue(t *testing.T) {
	origin := storage.NewMemory()
	defer origin.Close()

	here := NewWithDefault("k", numberOrThrow, 0, WithHost(NewHost(origin.Context())))
	defer here.Destroy()
	here.Set(1)

	var rec recorder[float64]
	here.Watch(rec.listen)

	// A write from outside every context
	origin.SetItem(context.Background(), "k", "2")

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].Value != 2 {
		t.Errorf("watcher calls = %v, want [{2 true}]", calls)
	}
}

func TestCrossContextNotFilteredByKey(t *testing.T) {
	origin := storage.NewMemory()
	defer origin.Close()

	m := New("k", numberOrThrow, WithHost(NewHost(origin.Context())))
	defer m.Destroy()
	m.Get()

	var rec recorder[float64]
	m.Watch(rec.listen)

	origin.SetItem(context.Background(), "unrelated", "1")
	if calls := rec.snapshot(); len(calls) != 1 {
		t.Errorf("watcher calls = %d, want 1", len(calls))
	}
}

func TestDisposedWatcher(t *testing.T) {
	_, host := newMemoryHost(t)
	m := New("k", numberOrThrow, WithHost(host))
	defer m.Destroy()

	var first, second recorder[float64]
	stop := m.Watch(first.listen)
	m.Watch(second.listen)

	m.Set(1)
	stop()
	stop()
	m.Set(2)

	if n := len(first.snapshot()); n != 1 {
		t.Errorf("disposed watcher called %d times, want 1", n)
	}
	if n := len(second.snapshot()); n != 2 {
		t.Errorf("live watcher called %d times, want 2", n)
	}
}

func TestDestroy(t *testing.T) {
	origin := storage.NewMemory()
	defer origin.Close()
	host := NewHost(origin.Context())

	m := New("k", numberOrThrow, WithHost(host))
	other := New("k", numberOrThrow, WithHost(host))
	defer other.Destroy()

	var rec recorder[float64]
	m.Watch(rec.listen)
	m.Set(1)

	m.Destroy()
	m.Destroy()

	other.Set(2)
	origin.SetItem(context.Background(), "k", "3")
	m.Watch(rec.listen)
	m.Set(4)

	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("watcher called %d times, want 1", n)
	}
	if host.Bus.Len(ChangeEvent) != 1 {
		t.Errorf("bus subscribers = %d, want 1", host.Bus.Len(ChangeEvent))
	}
	// Destroy leaves the cache alone
	if v, _ := m.Get(); v != 4 {
		t.Errorf("Get() = %v, want 4", v)
	}
}

func TestNoHost(t *testing.T) {
	m := NewWithDefault("k", numberOrThrow, 3)
	defer m.Destroy()

	if v, ok := m.Read(); !ok || v != 3 {
		t.Errorf("Read() = %v, %v, want 3", v, ok)
	}

	var rec recorder[float64]
	m.Watch(rec.listen)
	if err := m.Set(4); err != nil {
		t.Fatalf("Set without storage: %v", err)
	}
	if v, _ := m.Get(); v != 4 {
		t.Errorf("Get() = %v, want 4", v)
	}
	// Still unavailable for uncached reads
	if v, _ := m.Read(); v != 3 {
		t.Errorf("Read() = %v, want 3", v)
	}
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("watcher called %d times, want 1", n)
	}
}

// failingStorage fails reads and writes with err.
type failingStorage struct {
	err error
}

func (f failingStorage) GetItem(context.Context, string) (string, bool, error) {
	return "", false, f.err
}
func (f failingStorage) SetItem(context.Context, string, string) error { return f.err }
func (f failingStorage) RemoveItem(context.Context, string) error      { return f.err }

func TestStorageFailures(t *testing.T) {
	boom := stderrors.New("quota exceeded")
	host := &Host{Storage: failingStorage{err: boom}, Bus: broadcast.New()}
	m := NewWithDefault("k", numberOrThrow, 1, WithHost(host))
	defer m.Destroy()

	if v, ok := m.Read(); !ok || v != 1 {
		t.Errorf("Read() = %v, %v, want default", v, ok)
	}

	var rec recorder[float64]
	m.Watch(rec.listen)

	err := m.Set(2)
	if errors.Code(err) != "E021" {
		t.Errorf("Set error = %v, want E021", err)
	}
	if !stderrors.Is(err, boom) {
		t.Error("Set error should wrap the storage error")
	}

	err = m.Remove()
	if errors.Code(err) != "E022" {
		t.Errorf("Remove error = %v, want E022", err)
	}

	if v, _ := m.Get(); v != 1 {
		t.Errorf("Get() = %v, want 1", v)
	}
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("watcher called %d times after failed writes", n)
	}
}

func TestSetEncodeFailure(t *testing.T) {
	_, host := newMemoryHost(t)
	m := New("k", Identity(), WithHost(host))
	defer m.Destroy()

	err := m.Set(make(chan int))
	if errors.Code(err) != "E020" {
		t.Errorf("Set error = %v, want E020", err)
	}
	if _, ok := m.Get(); ok {
		t.Error("cache should be untouched")
	}
}

func TestUse(t *testing.T) {
	_, host := newMemoryHost(t)
	m := NewWithDefault("k", numberOrThrow, 0, WithHost(host))
	defer m.Destroy()

	owner := reactive.NewOwner(nil)
	sig, err := m.Use(owner)
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if got := sig.Peek(); got != (Slot[float64]{Value: 0, Present: true}) {
		t.Errorf("initial = %v", got)
	}

	var seen []float64
	effect := reactive.CreateEffect(owner, func() reactive.Cleanup {
		seen = append(seen, sig.Peek().Value)
		return nil
	}, sig)

	m.Set(1)
	owner.RunPendingEffects()
	m.Set(1)
	owner.RunPendingEffects()
	m.Set(2)
	owner.RunPendingEffects()

	if effect.Runs() != 3 {
		t.Errorf("effect runs = %d, want 3", effect.Runs())
	}
	if fmt.Sprint(seen) != "[0 1 2]" {
		t.Errorf("seen = %v, want [0 1 2]", seen)
	}

	owner.Dispose()
	m.Set(3)
	if got := sig.Peek().Value; got != 2 {
		t.Errorf("signal after dispose = %v, want 2", got)
	}
}

func TestUseNeedsLiveOwner(t *testing.T) {
	m := New("k", numberOrThrow)
	defer m.Destroy()

	if _, err := m.Use(nil); errors.Code(err) != "E010" {
		t.Errorf("Use(nil) error = %v, want E010", err)
	}

	owner := reactive.NewOwner(nil)
	owner.Dispose()
	if _, err := m.Use(owner); errors.Code(err) != "E010" {
		t.Errorf("Use(disposed) error = %v, want E010", err)
	}
}

func TestValidators(t *testing.T) {
	type prefs struct {
		Theme string `json:"theme"`
		Size  int    `json:"size"`
	}

	v, err := As[prefs]()(map[string]any{"theme": "dark", "size": float64(12)})
	if err != nil || v.Theme != "dark" || v.Size != 12 {
		t.Errorf("As[prefs] = %+v, %v", v, err)
	}
	if _, err := As[int]()("twelve"); err == nil {
		t.Error("As[int] should reject a string")
	}

	raw := []any{"a", float64(1)}
	got, err := Identity()(raw)
	if err != nil || fmt.Sprint(got) != fmt.Sprint(raw) {
		t.Errorf("Identity = %v, %v", got, err)
	}
}

func TestPanickingValidatorFallsBackToDefault(t *testing.T) {
	origin, host := newMemoryHost(t)
	origin.SetItem(context.Background(), "k", `"corrupt"`)

	unchecked := func(raw any) (float64, error) {
		return raw.(float64), nil
	}
	m := NewWithDefault("k", unchecked, 7, WithHost(host))
	defer m.Destroy()

	if v, ok := m.Read(); !ok || v != 7 {
		t.Errorf("Read() = %v, %v, want 7", v, ok)
	}
	if v, ok := m.Get(); !ok || v != 7 {
		t.Errorf("Get() = %v, %v, want 7", v, ok)
	}
}

func TestLocalChangePayload(t *testing.T) {
	origin, host := newMemoryHost(t)
	origin.SetItem(context.Background(), "k", "1")

	m := New("k", numberOrThrow, WithHost(host))
	defer m.Destroy()
	var rec recorder[float64]
	defer m.Watch(rec.listen)()

	m.Get()
	reads := origin.Reads()

	// A matching slot is adopted without touching the store
	host.Bus.Publish(ChangeEvent, Change{Key: "k", Slot: Slot[float64]{Value: 5, Present: true}})
	if v, ok := m.Get(); !ok || v != 5 {
		t.Errorf("Get() after adopt = %v, %v, want 5", v, ok)
	}
	if origin.Reads() != reads {
		t.Errorf("adopting a payload read the store")
	}

	// A payload without a usable slot drops the cache
	host.Bus.Publish(ChangeEvent, Change{Key: "k"})
	if v, ok := m.Get(); !ok || v != 1 {
		t.Errorf("Get() after invalidation = %v, %v, want 1", v, ok)
	}
	if origin.Reads() != reads+1 {
		t.Errorf("reads = %d, want %d", origin.Reads(), reads+1)
	}

	want := []Slot[float64]{{Value: 5, Present: true}, {Value: 1, Present: true}}
	if got := rec.snapshot(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("watcher calls = %v, want %v", got, want)
	}
}
