package rebalance

import (
	"container/heap"

	"github.com/shopspring/decimal"
)

// Slice is one allocation produced by a Slicer: Amount was carved off the
// remaining quantity of Item.
type Slice[T any] struct {
	Item   T
	Amount decimal.Decimal
}

// Slicer allocates numeric demands against a pool of supply items, always
// consuming from the largest item first. Ties are broken by the
// caller-supplied comparator so that allocation order is deterministic.
//
// An item's priority is fixed at its initial quantity: partial consumption
// reduces its remaining supply but does not demote it behind smaller items.
//
// The pool is owned by the Slicer and mutated across repeated Produce calls:
// an item partially consumed by one demand re-enters the pool with its reduced
// remainder and serves later demands. A Slicer therefore belongs to exactly
// one rebalancing pass and must not be shared.
type Slicer[T any] struct {
	pool *supplyHeap[T]
}

// NewSlicer builds a slicer over items. quantity extracts each item's initial
// supply; tieBreak orders items whose quantities are equal (smaller first).
func NewSlicer[T any](items []T, quantity func(T) decimal.Decimal, tieBreak func(a, b T) bool) *Slicer[T] {
	h := &supplyHeap[T]{tieBreak: tieBreak}
	for _, it := range items {
		q := quantity(it)
		h.entries = append(h.entries, supplyEntry[T]{item: it, priority: q, remaining: q})
	}
	heap.Init(h)
	return &Slicer[T]{pool: h}
}

// Produce consumes up to demand from the pool, largest remaining item first,
// and returns the resulting slices in allocation order. It stops when the
// demand is satisfied or the pool is exhausted; any unsatisfied remainder is
// dropped (the caller's supply/demand invariant makes this residue small).
func (s *Slicer[T]) Produce(demand decimal.Decimal) []Slice[T] {
	var out []Slice[T]
	for demand.IsPositive() && s.pool.Len() > 0 {
		entry := heap.Pop(s.pool).(supplyEntry[T])

		slice := demand
		if entry.remaining.LessThan(slice) {
			slice = entry.remaining
		}

		out = append(out, Slice[T]{Item: entry.item, Amount: slice})
		demand = demand.Sub(slice)
		entry.remaining = entry.remaining.Sub(slice)

		// A partially consumed item keeps serving later demands.
		if entry.remaining.IsPositive() {
			heap.Push(s.pool, entry)
		}
	}
	return out
}

type supplyEntry[T any] struct {
	item      T
	priority  decimal.Decimal // initial quantity, fixed for the pool's lifetime
	remaining decimal.Decimal
}

// supplyHeap orders entries descending by priority, with the caller's
// tie-break deciding equal priorities.
type supplyHeap[T any] struct {
	entries  []supplyEntry[T]
	tieBreak func(a, b T) bool
}

func (h *supplyHeap[T]) Len() int { return len(h.entries) }

func (h *supplyHeap[T]) Less(i, j int) bool {
	switch h.entries[i].priority.Cmp(h.entries[j].priority) {
	case 1:
		return true
	case -1:
		return false
	default:
		return h.tieBreak(h.entries[i].item, h.entries[j].item)
	}
}

func (h *supplyHeap[T]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *supplyHeap[T]) Push(x any) { h.entries = append(h.entries, x.(supplyEntry[T])) }

func (h *supplyHeap[T]) Pop() any {
	n := len(h.entries)
	e := h.entries[n-1]
	h.entries = h.entries[:n-1]
	return e
}
