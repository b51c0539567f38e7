package mac

import (
	"errors"
	"testing"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := newRegistry[int]()
	for _, dst := range []uint32{30, 10, 20} {
		if _, err := r.add(dst, int(dst)); err != nil {
			t.Fatalf("add(%d): %v", dst, err)
		}
	}
	if _, err := r.add(10, 0); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("duplicate add error = %v, want ErrPoolExists", err)
	}

	var order []uint32
	_ = r.each(func(dst uint32, v *int) error {
		order = append(order, dst)
		*v++
		return nil
	})
	if len(order) != 3 || order[0] != 10 || order[1] != 20 || order[2] != 30 {
		t.Fatalf("iteration order = %v, want [10 20 30]", order)
	}
	if v, _ := r.get(20); *v != 21 {
		t.Fatalf("each did not update records in place")
	}

	if err := r.remove(20); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := r.remove(20); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("second remove error = %v, want ErrUnknownPool", err)
	}
	if _, ok := r.get(20); ok {
		t.Fatalf("removed record still present")
	}

	// The freed slot is reused.
	slots := len(r.slots)
	if _, err := r.add(15, 15); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(r.slots) != slots || r.len() != 3 {
		t.Fatalf("slots = %d len = %d, want %d and 3", len(r.slots), r.len(), slots)
	}
}

func TestRegistryEachStopsOnError(t *testing.T) {
	r := newRegistry[int]()
	_, _ = r.add(1, 1)
	_, _ = r.add(2, 2)
	stop := errors.New("stop")
	calls := 0
	err := r.each(func(uint32, *int) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("each = %v after %d calls, want stop after 1", err, calls)
	}
}
