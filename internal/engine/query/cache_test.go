package query

import (
	"errors"
	"fmt"
	"testing"
)

type fakeQuery struct {
	id     int
	closed bool
}

func (f *fakeQuery) Close() { f.closed = true }

func builderOf(q *fakeQuery) BuilderFunc {
	return func() (Compiled, error) { return q, nil }
}

func TestHitRefreshesRecency(t *testing.T) {
	c := New(2)
	a, b, x := &fakeQuery{id: 1}, &fakeQuery{id: 2}, &fakeQuery{id: 3}

	if _, err := c.GetOrCompile("go", "a", builderOf(a)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrCompile("go", "b", builderOf(b)); err != nil {
		t.Fatal(err)
	}
	// Touch a so b becomes the eviction candidate.
	got, err := c.GetOrCompile("go", "a", func() (Compiled, error) {
		t.Fatal("builder must not run on a hit")
		return nil, nil
	})
	if err != nil || got != a {
		t.Fatalf("expected cached handle, got %v err %v", got, err)
	}

	if _, err := c.GetOrCompile("go", "x", builderOf(x)); err != nil {
		t.Fatal(err)
	}
	if c.Contains("go", "b") {
		t.Error("expected b to be evicted")
	}
	if !b.closed {
		t.Error("eviction must close the handle")
	}
	if !c.Contains("go", "a") || !c.Contains("go", "x") {
		t.Error("expected a and x to remain")
	}
}

func TestCapacityBound(t *testing.T) {
	const max, extra = 8, 5
	c := New(max)
	for i := 0; i < max+extra; i++ {
		q := &fakeQuery{id: i}
		name := fmt.Sprintf("q%02d", i)
		if _, err := c.GetOrCompile("python", name, builderOf(q)); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != max {
		t.Fatalf("expected exactly %d entries, got %d", max, c.Len())
	}
	// The first `extra` keys were least recently used and must be gone.
	for i := 0; i < extra; i++ {
		if c.Contains("python", fmt.Sprintf("q%02d", i)) {
			t.Errorf("expected q%02d to be evicted", i)
		}
	}
	for i := extra; i < max+extra; i++ {
		if !c.Contains("python", fmt.Sprintf("q%02d", i)) {
			t.Errorf("expected q%02d to be present", i)
		}
	}
	if st := c.Stats(); st.Evictions != extra {
		t.Errorf("expected %d evictions, got %d", extra, st.Evictions)
	}
}

func TestBuilderErrorNotCached(t *testing.T) {
	c := New(4)
	calls := 0
	failing := func() (Compiled, error) {
		calls++
		return nil, errors.New("compile failed")
	}
	if _, err := c.GetOrCompile("rust", "decls", failing); err == nil {
		t.Fatal("expected builder error to propagate")
	}
	if c.Contains("rust", "decls") {
		t.Fatal("failed compile must not be cached")
	}
	// The retry invokes the builder again, and success is cached.
	q := &fakeQuery{id: 7}
	succeed := func() (Compiled, error) {
		calls++
		return q, nil
	}
	got, err := c.GetOrCompile("rust", "decls", succeed)
	if err != nil || got != q {
		t.Fatalf("expected retry to succeed, got %v err %v", got, err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 builder calls, got %d", calls)
	}
}

func TestPurgeClosesAll(t *testing.T) {
	c := New(4)
	handles := make([]*fakeQuery, 3)
	for i := range handles {
		handles[i] = &fakeQuery{id: i}
		if _, err := c.GetOrCompile("java", fmt.Sprintf("q%d", i), builderOf(handles[i])); err != nil {
			t.Fatal(err)
		}
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
	for i, h := range handles {
		if !h.closed {
			t.Errorf("handle %d not closed on purge", i)
		}
	}
}

func TestZeroCapacityUsesDefault(t *testing.T) {
	c := New(0)
	if c.capacity != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, c.capacity)
	}
}
