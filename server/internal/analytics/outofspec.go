package analytics

import (
	"cmp"
	"container/heap"
	"context"
	"slices"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/classify"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// OutOfSpec lists Warn and Fail results, most severe and most recent first.
// At most limit items are returned (0 selects the configured maximum); Total
// always counts every match.
func (e *Engine) OutOfSpec(ctx context.Context, q store.Query, limit int) (types.OutOfSpecList, error) {
	defer e.observe("out_of_spec", time.Now())

	max := e.Limits().MaxOutOfSpec
	if limit < 0 {
		return types.OutOfSpecList{}, types.Invalid("limit", "must not be negative")
	}
	if limit == 0 || limit > max {
		limit = max
	}
	q = q.Unwindowed()
	q.Statuses = []types.Status{types.StatusWarn, types.StatusFail}
	if err := e.prepare(ctx, q); err != nil {
		return types.OutOfSpecList{}, err
	}

	// Keep the top limit items in a min-heap keyed on the output order.
	h := &itemHeap{}
	total := 0
	for r, err := range e.idx.Tests(ctx, q) {
		if err != nil {
			return types.OutOfSpecList{}, err
		}
		total++
		it := outOfSpecItem(r)
		if h.Len() < limit {
			heap.Push(h, it)
			continue
		}
		if before(it, (*h)[0]) {
			(*h)[0] = it
			heap.Fix(h, 0)
		}
	}

	items := []types.OutOfSpecItem(*h)
	slices.SortFunc(items, compareItems)
	if items == nil {
		items = []types.OutOfSpecItem{}
	}
	return types.OutOfSpecList{Items: items, Total: total, Truncated: total > len(items)}, nil
}

func outOfSpecItem(r types.TestResult) types.OutOfSpecItem {
	it := types.OutOfSpecItem{TestResult: r, Severity: r.Status.Severity()}
	var (
		b  classify.Bound
		th float64
	)
	switch {
	case r.Status == types.StatusFail && r.MinThreshold != nil && r.Value < *r.MinThreshold:
		b, th = classify.BoundMin, *r.MinThreshold
	case r.Status == types.StatusFail && r.MaxThreshold != nil && r.Value > *r.MaxThreshold:
		b, th = classify.BoundMax, *r.MaxThreshold
	default:
		b, th, _ = classify.NearestBound(r.Value, r.MinThreshold, r.MaxThreshold)
	}
	it.ViolatedBound, it.Threshold = string(b), th
	return it
}

// compareItems orders by severity desc, timestamp desc, then ID asc.
func compareItems(a, b types.OutOfSpecItem) int {
	if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
		return c
	}
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func before(a, b types.OutOfSpecItem) bool { return compareItems(a, b) < 0 }

// itemHeap is a min-heap on output order: the root is the item that would
// be listed last.
type itemHeap []types.OutOfSpecItem

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return before(h[j], h[i]) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)        { *h = append(*h, x.(types.OutOfSpecItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
