package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	if _, ok, err := m.GetItem(ctx, "k"); ok || err != nil {
		t.Fatalf("GetItem on empty store = ok %v, err %v", ok, err)
	}

	if err := m.SetItem(ctx, "k", `"v"`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	v, ok, err := m.GetItem(ctx, "k")
	if err != nil || !ok || v != `"v"` {
		t.Errorf("GetItem = %q, %v, %v", v, ok, err)
	}

	if err := m.RemoveItem(ctx, "k"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if err := m.RemoveItem(ctx, "missing"); err != nil {
		t.Errorf("RemoveItem(missing) = %v, want nil", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
	if m.Reads() != 2 {
		t.Errorf("Reads() = %d, want 2", m.Reads())
	}
}

func TestMemoryContextSignalsOtherContextsOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	a, b := m.Context(), m.Context()

	var aSignals, bSignals int
	a.Subscribe(func() { aSignals++ })
	b.Subscribe(func() { bSignals++ })

	if err := a.SetItem(ctx, "k", "1"); err != nil {
		t.Fatal(err)
	}
	if aSignals != 0 || bSignals != 1 {
		t.Errorf("after a.SetItem: a=%d b=%d, want 0 1", aSignals, bSignals)
	}

	if err := b.RemoveItem(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if aSignals != 1 || bSignals != 1 {
		t.Errorf("after b.RemoveItem: a=%d b=%d, want 1 1", aSignals, bSignals)
	}

	// Contexts share the same data
	if err := a.SetItem(ctx, "shared", "x"); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := b.GetItem(ctx, "shared"); !ok || v != "x" {
		t.Errorf("b.GetItem = %q, %v", v, ok)
	}
}

func TestMemoryOriginWritesSignalEveryContext(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	a, b := m.Context(), m.Context()
	var signals int
	a.Subscribe(func() { signals++ })
	b.Subscribe(func() { signals++ })

	m.SetItem(context.Background(), "k", "1")
	if signals != 2 {
		t.Errorf("signals = %d, want 2", signals)
	}
}

func TestMemoryContextCancelAndClose(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	a, b := m.Context(), m.Context()
	var signals int
	cancel := b.Subscribe(func() { signals++ })
	cancel()
	cancel()
	b.Subscribe(nil)

	a.SetItem(context.Background(), "k", "1")
	if signals != 0 {
		t.Errorf("cancelled subscriber signalled %d times", signals)
	}

	b.Subscribe(func() { signals++ })
	b.Close()
	a.SetItem(context.Background(), "k", "2")
	if signals != 0 {
		t.Errorf("closed context signalled %d times", signals)
	}
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := m.Context()
	m.Close()
	m.Close()

	if _, _, err := c.GetItem(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetItem after Close = %v, want ErrClosed", err)
	}
	if err := c.SetItem(ctx, "k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("SetItem after Close = %v, want ErrClosed", err)
	}
	// Contexts created after Close are inert but safe
	late := m.Context()
	if err := late.Close(); err != nil {
		t.Errorf("late.Close() = %v", err)
	}
}

func TestChangeSourceOf(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	c := m.Context()

	if ChangeSourceOf(c) == nil {
		t.Error("MemoryContext should be its own change source")
	}
	if ChangeSourceOf(m) != nil {
		t.Error("Memory origin has no change source")
	}
	if ChangeSourceOf(Traced(c)) == nil {
		t.Error("ChangeSourceOf should look through decorators")
	}
	if ChangeSourceOf(nil) != nil {
		t.Error("ChangeSourceOf(nil) should be nil")
	}
}
