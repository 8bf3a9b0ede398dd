package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestInvoke_CommitsOnSuccess(t *testing.T) {
	h := NewHost()
	tbl := NewTable[string, int]()

	err := h.Invoke(context.Background(), func(ctx context.Context, tx *Tx) error {
		tbl.Put(tx, "a", 1)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_ = h.View(context.Background(), func(ctx context.Context, tx *Tx) error {
		v, ok := tbl.Get(tx, "a")
		if !ok || v != 1 {
			t.Fatalf("expected a=1, got %d (found=%v)", v, ok)
		}
		return nil
	})
}

func TestInvoke_DiscardsOnError(t *testing.T) {
	h := NewHost()
	tbl := NewTable[string, int]()
	committed := false

	err := h.Invoke(context.Background(), func(ctx context.Context, tx *Tx) error {
		tbl.Put(tx, "a", 1)
		tx.AfterCommit(func() { committed = true })
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if committed {
		t.Fatal("after-commit hook ran for a discarded transaction")
	}
	if tbl.Len(nil) != 0 {
		t.Fatalf("expected empty table, got %d rows", tbl.Len(nil))
	}
}

func TestInvoke_ReadsOwnWrites(t *testing.T) {
	h := NewHost()
	tbl := NewTable[string, int]()

	_ = h.Invoke(context.Background(), func(ctx context.Context, tx *Tx) error {
		tbl.Put(tx, "a", 1)
		tbl.Put(tx, "b", 2)
		return nil
	})

	_ = h.Invoke(context.Background(), func(ctx context.Context, tx *Tx) error {
		tbl.Put(tx, "a", 10)
		tbl.Delete(tx, "b")
		tbl.Put(tx, "c", 3)

		if v, _ := tbl.Get(tx, "a"); v != 10 {
			t.Fatalf("expected staged a=10, got %d", v)
		}
		if tbl.Has(tx, "b") {
			t.Fatal("expected b to be deleted inside the transaction")
		}
		if n := tbl.Len(tx); n != 2 {
			t.Fatalf("expected 2 live rows, got %d", n)
		}
		// Outside the transaction nothing has changed yet.
		if v, _ := tbl.Get(nil, "a"); v != 1 {
			t.Fatalf("expected committed a=1, got %d", v)
		}
		return errBoom
	})

	if v, _ := tbl.Get(nil, "a"); v != 1 {
		t.Fatalf("expected a=1 after discard, got %d", v)
	}
	if !tbl.Has(nil, "b") {
		t.Fatal("expected b to survive the discarded delete")
	}
}

func TestInvoke_NestedJoinsOuterTransaction(t *testing.T) {
	h := NewHost()
	tbl := NewTable[string, int]()

	err := h.Invoke(context.Background(), func(ctx context.Context, outer *Tx) error {
		tbl.Put(outer, "a", 1)
		return h.Invoke(ctx, func(ctx context.Context, inner *Tx) error {
			if inner != outer {
				t.Fatal("expected nested invocation to reuse the outer transaction")
			}
			if v, ok := tbl.Get(inner, "a"); !ok || v != 1 {
				t.Fatalf("expected nested read to see a=1, got %d", v)
			}
			tbl.Put(inner, "b", 2)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tbl.Len(nil) != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.Len(nil))
	}
}

func TestInvoke_FailedNestedCallAbortsOuter(t *testing.T) {
	h := NewHost()
	tbl := NewTable[string, int]()

	err := h.Invoke(context.Background(), func(ctx context.Context, tx *Tx) error {
		tbl.Put(tx, "a", 1)
		return h.Invoke(ctx, func(ctx context.Context, tx *Tx) error {
			return errBoom
		})
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if tbl.Has(nil, "a") {
		t.Fatal("expected outer write to be discarded")
	}
}

func TestView_RejectsWrites(t *testing.T) {
	h := NewHost()
	tbl := NewTable[string, int]()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on write in a view")
		}
	}()
	_ = h.View(context.Background(), func(ctx context.Context, tx *Tx) error {
		tbl.Put(tx, "a", 1)
		return nil
	})
}

func TestCell(t *testing.T) {
	h := NewHost()
	c := NewCell[uint64]()

	if _, ok := c.Get(nil); ok {
		t.Fatal("expected unset cell")
	}
	_ = h.Invoke(context.Background(), func(ctx context.Context, tx *Tx) error {
		c.Set(tx, 7)
		return nil
	})
	if v, ok := c.Get(nil); !ok || v != 7 {
		t.Fatalf("expected 7, got %d (set=%v)", v, ok)
	}
}

func TestHost_ClockStampsTransactions(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := NewHost(WithClock(func() time.Time { return fixed }))

	_ = h.Invoke(context.Background(), func(ctx context.Context, tx *Tx) error {
		if !tx.At().Equal(fixed) {
			t.Fatalf("expected %v, got %v", fixed, tx.At())
		}
		return nil
	})
}

func TestHost_ConcurrentInvocationsSerialize(t *testing.T) {
	h := NewHost()
	counter := NewCell[int]()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Invoke(context.Background(), func(ctx context.Context, tx *Tx) error {
				v, _ := counter.Get(tx)
				counter.Set(tx, v+1)
				return nil
			})
		}()
	}
	wg.Wait()

	if v, _ := counter.Get(nil); v != 100 {
		t.Fatalf("expected 100, got %d", v)
	}
}
