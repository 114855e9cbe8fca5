package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestMemory_PutProjectStampsCreatedAt(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewMemory()
	m.now = fixedClock(at)
	if err := m.PutProject(context.Background(), types.Project{ID: "p"}); err != nil {
		t.Fatalf("PutProject: %v", err)
	}
	p, err := m.Project(context.Background(), "p")
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if !p.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt: got %v, want %v", p.CreatedAt, at)
	}
}

func TestMemory_CommitUnknownProject(t *testing.T) {
	m := NewMemory()
	err := m.CommitBatch(context.Background(), types.BatchOutcome{ProjectID: "ghost", IdempotencyKey: "k"}, nil)
	if err == nil {
		t.Fatal("CommitBatch on unknown project: expected error")
	}
}

func TestMemory_LookupReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.PutProject(ctx, types.Project{ID: "p"})
	if err := m.CommitBatch(ctx, types.BatchOutcome{ProjectID: "p", IdempotencyKey: "k", Created: []string{"a"}}, nil); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}
	o, _ := m.LookupOutcome(ctx, "p", "k")
	o.Created[0] = "mutated"
	again, _ := m.LookupOutcome(ctx, "p", "k")
	if again.Created[0] != "a" {
		t.Errorf("Created[0]: got %q, want a", again.Created[0])
	}
}

func TestMemory_DeleteMarksShard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.PutProject(ctx, types.Project{ID: "p"})
	sh, err := m.shard("p")
	if err != nil {
		t.Fatalf("shard: %v", err)
	}
	if err := m.DeleteProject(ctx, "p"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if !sh.deleted {
		t.Error("deleted shard not marked")
	}
}

func TestMemory_CommitRacingDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := range 500 {
		id := fmt.Sprintf("p%d", i)
		_ = m.PutProject(ctx, types.Project{ID: id})

		var commitErr, deleteErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			commitErr = m.CommitBatch(ctx, types.BatchOutcome{ProjectID: id, IdempotencyKey: "k"},
				[]types.TestResult{{ID: "r", ProjectID: id}})
		}()
		go func() {
			defer wg.Done()
			deleteErr = m.DeleteProject(ctx, id)
		}()
		wg.Wait()

		switch {
		case commitErr == nil && deleteErr == nil:
			t.Fatalf("%s: commit and delete both succeeded", id)
		case commitErr == nil:
			if !errors.Is(deleteErr, types.ErrProjectHasChildren) {
				t.Fatalf("%s: delete after commit: %v", id, deleteErr)
			}
			if _, err := m.LookupOutcome(ctx, id, "k"); err != nil {
				t.Fatalf("%s: committed batch not visible: %v", id, err)
			}
		default:
			if !errors.Is(commitErr, types.ErrNotFound) {
				t.Fatalf("%s: commit after delete: %v", id, commitErr)
			}
		}
	}
}

type countingOutcomes struct {
	Outcomes
	cutoff time.Time
}

func (c *countingOutcomes) PurgeOutcomes(_ context.Context, cutoff time.Time) (int, error) {
	c.cutoff = cutoff
	return 2, nil
}

func TestSweeper_UsesRetentionCutoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := &countingOutcomes{}
	purged := 0
	s := NewSweeper(c, 48*time.Hour, 0, func(n int) { purged += n })
	s.now = fixedClock(now)

	n, err := s.Sweep(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Sweep: got (%d, %v), want (2, nil)", n, err)
	}
	if want := now.Add(-48 * time.Hour); !c.cutoff.Equal(want) {
		t.Errorf("cutoff: got %v, want %v", c.cutoff, want)
	}
	if purged != 2 {
		t.Errorf("onPurge: got %d, want 2", purged)
	}
	if s.interval != 24*time.Hour {
		t.Errorf("interval: got %v, want 24h", s.interval)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	s := NewSweeper(&countingOutcomes{}, time.Hour, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q): got (%v, %v)", k.String(), got, err)
		}
	}
	if _, err := ParseKind("rocks"); err == nil {
		t.Error("ParseKind(rocks): expected error")
	}
}
