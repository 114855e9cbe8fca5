package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/config"
	"github.com/fieldgrid/fieldgrid/server/internal/ingest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type countingRecorder struct {
	mu    sync.Mutex
	fired map[string]int
}

func (r *countingRecorder) AlertFired(sev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fired == nil {
		r.fired = map[string]int{}
	}
	r.fired[sev]++
}

func commit(project, key string, results ...types.TestResult) ingest.Commit {
	return ingest.Commit{
		Outcome: types.BatchOutcome{ProjectID: project, IdempotencyKey: key},
		Results: results,
		TestTypes: map[string]types.TestType{
			"cbr":  {ID: "cbr", Name: "CBR"},
			"dens": {ID: "dens", Name: "Density"},
		},
	}
}

func result(tt string, st types.Status, v float64) types.TestResult {
	return types.TestResult{TestTypeID: tt, Status: st, Value: v}
}

func newEngine(t *testing.T, cfg config.AlertsConfig, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	e := New(cfg, opts...)
	clk := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	e.now = clk.now
	return e, clk
}

func TestBatchCommitted_GroupsByTestType(t *testing.T) {
	rec := &countingRecorder{}
	e, _ := newEngine(t, config.AlertsConfig{MinSeverity: "warn"}, WithRecorder(rec))

	e.BatchCommitted(t.Context(), commit("p1", "k1",
		result("cbr", types.StatusFail, 25),
		result("cbr", types.StatusWarn, 19.5),
		result("cbr", types.StatusPass, 15),
		result("dens", types.StatusWarn, 1.1),
	))

	got := e.Recent("p1")
	require.Len(t, got, 2)
	// Newest first; both fired at the same instant, so history order holds.
	assert.Equal(t, "dens", got[0].TestTypeID)
	assert.Equal(t, types.StatusWarn, got[0].Severity)
	assert.Equal(t, "cbr", got[1].TestTypeID)
	assert.Equal(t, types.StatusFail, got[1].Severity)
	assert.Equal(t, 1, got[1].Fail)
	assert.Equal(t, 1, got[1].Warn)
	assert.Equal(t, 25.0, got[1].Worst)
	assert.Contains(t, got[1].Message, "CBR")
	assert.Equal(t, map[string]int{"fail": 1, "warn": 1}, rec.fired)
}

func TestBatchCommitted_MinSeverityFail(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{MinSeverity: "fail"})

	e.BatchCommitted(t.Context(), commit("p1", "k1", result("cbr", types.StatusWarn, 19.5)))
	assert.Empty(t, e.Recent(""))

	e.BatchCommitted(t.Context(), commit("p1", "k2", result("cbr", types.StatusFail, 25)))
	assert.Len(t, e.Recent(""), 1)
}

func TestBatchCommitted_Cooldown(t *testing.T) {
	e, clk := newEngine(t, config.AlertsConfig{MinSeverity: "fail", Cooldown: time.Minute})

	e.BatchCommitted(t.Context(), commit("p1", "k1", result("cbr", types.StatusFail, 25)))
	clk.advance(30 * time.Second)
	e.BatchCommitted(t.Context(), commit("p1", "k2", result("cbr", types.StatusFail, 26)))
	// Another project is not affected by p1's cooldown.
	e.BatchCommitted(t.Context(), commit("p2", "k1", result("cbr", types.StatusFail, 26)))
	assert.Len(t, e.Recent("p1"), 1)
	assert.Len(t, e.Recent("p2"), 1)

	clk.advance(31 * time.Second)
	e.BatchCommitted(t.Context(), commit("p1", "k3", result("cbr", types.StatusFail, 27)))
	got := e.Recent("p1")
	require.Len(t, got, 2)
	assert.Equal(t, "k3", got[0].IdempotencyKey)
}

func TestBatchCommitted_AllPassIsQuiet(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{MinSeverity: "warn"})
	e.BatchCommitted(t.Context(), commit("p1", "k1", result("cbr", types.StatusPass, 15)))
	assert.Empty(t, e.Recent(""))
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		mu.Lock()
		bodies[r.URL.Path] = m
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	t.Setenv("HOOK_SLACK", srv.URL+"/slack")
	t.Setenv("HOOK_TEAMS", srv.URL+"/teams")
	t.Setenv("HOOK_HTTP", srv.URL+"/http")

	e, _ := newEngine(t, config.AlertsConfig{
		MinSeverity: "fail",
		Webhooks: []config.WebhookConfig{
			{Type: "slack", URLEnv: "HOOK_SLACK"},
			{Type: "teams", URLEnv: "HOOK_TEAMS"},
			{Type: "http", URLEnv: "HOOK_HTTP"},
			{Type: "http", URLEnv: "HOOK_UNSET"},
		},
	})
	e.BatchCommitted(t.Context(), commit("p1", "k1", result("cbr", types.StatusFail, 25)))
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 3)
	assert.Contains(t, bodies["/slack"]["text"], "[FAIL]")
	assert.NotEmpty(t, bodies["/slack"]["attachments"])
	assert.Equal(t, "MessageCard", bodies["/teams"]["@type"])
	alert, ok := bodies["/http"]["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "p1", alert["projectId"])
	assert.Equal(t, "fail", alert["severity"])
}

func TestWebhookFailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	t.Setenv("HOOK_BAD", srv.URL)

	e, _ := newEngine(t, config.AlertsConfig{
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "HOOK_BAD"}},
	})
	require.Error(t, e.post(t.Context(), srv.URL, []byte(`{}`)))

	e.BatchCommitted(t.Context(), commit("p1", "k1", result("cbr", types.StatusFail, 25)))
	e.Wait()
	assert.Len(t, e.Recent("p1"), 1)
}
