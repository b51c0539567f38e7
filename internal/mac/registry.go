package mac

import (
	"fmt"
	"sort"
)

// registry owns per-destination pool state: an arena of records plus an
// index from destination id to slot. Iteration follows ascending
// destination id so runs are reproducible.
type registry[T any] struct {
	slots []*T
	free  []int
	index map[uint32]int
	order []uint32
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{index: make(map[uint32]int)}
}

func (r *registry[T]) add(dst uint32, v T) (*T, error) {
	if _, ok := r.index[dst]; ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolExists, dst)
	}
	rec := &v
	var slot int
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[slot] = rec
	} else {
		slot = len(r.slots)
		r.slots = append(r.slots, rec)
	}
	r.index[dst] = slot

	i := sort.Search(len(r.order), func(i int) bool { return r.order[i] >= dst })
	r.order = append(r.order, 0)
	copy(r.order[i+1:], r.order[i:])
	r.order[i] = dst
	return rec, nil
}

func (r *registry[T]) remove(dst uint32) error {
	slot, ok := r.index[dst]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPool, dst)
	}
	r.slots[slot] = nil
	r.free = append(r.free, slot)
	delete(r.index, dst)

	i := sort.Search(len(r.order), func(i int) bool { return r.order[i] >= dst })
	r.order = append(r.order[:i], r.order[i+1:]...)
	return nil
}

func (r *registry[T]) get(dst uint32) (*T, bool) {
	slot, ok := r.index[dst]
	if !ok {
		return nil, false
	}
	return r.slots[slot], true
}

func (r *registry[T]) each(fn func(dst uint32, rec *T) error) error {
	for _, dst := range append([]uint32(nil), r.order...) {
		rec, ok := r.get(dst)
		if !ok {
			continue
		}
		if err := fn(dst, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *registry[T]) len() int { return len(r.index) }
