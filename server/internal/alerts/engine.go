package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/config"
	"github.com/fieldgrid/fieldgrid/server/internal/ingest"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
)

// Alert summarises the out-of-spec results one batch produced for a single
// test type.
type Alert struct {
	ID             string       `json:"id"`
	ProjectID      string       `json:"projectId"`
	TestTypeID     string       `json:"testTypeId"`
	TestType       string       `json:"testType"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Severity       types.Status `json:"severity"`
	Warn           int          `json:"warn"`
	Fail           int          `json:"fail"`
	Worst          float64      `json:"worstValue"`
	Message        string       `json:"message"`
	FiredAt        time.Time    `json:"firedAt"`
}

// Recorder counts fired alerts by severity.
type Recorder interface {
	AlertFired(severity string)
}

// Engine turns committed batches into webhook notifications. It implements
// ingest.Listener and is safe for concurrent use.
type Engine struct {
	minSeverity types.Status
	cooldown    time.Duration
	webhooks    []config.WebhookConfig
	client      *http.Client
	recorder    Recorder
	now         func() time.Time

	mu       sync.Mutex
	lastFire map[string]time.Time // key: "projectID:testTypeID"
	history  []Alert

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder reports fired alerts to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithHTTPClient replaces the webhook client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// New creates an Engine from the server alert configuration. An Engine
// without webhooks still records history.
func New(cfg config.AlertsConfig, opts ...Option) *Engine {
	minSev := types.StatusFail
	if s, err := types.ParseStatus(cfg.MinSeverity); err == nil && s != types.StatusPass {
		minSev = s
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	e := &Engine{
		minSeverity: minSev,
		cooldown:    cooldown,
		webhooks:    cfg.Webhooks,
		client:      &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
		lastFire:    make(map[string]time.Time),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// BatchCommitted groups the batch's results at or above the minimum
// severity by test type and fires one alert per group, subject to the
// per-(project, test type) cooldown. Webhook delivery runs in the
// background.
func (e *Engine) BatchCommitted(_ context.Context, c ingest.Commit) {
	groups := make(map[string]*Alert)
	for _, r := range c.Results {
		if r.Status.Severity() < e.minSeverity.Severity() {
			continue
		}
		a, ok := groups[r.TestTypeID]
		if !ok {
			a = &Alert{
				ProjectID:      c.Outcome.ProjectID,
				TestTypeID:     r.TestTypeID,
				TestType:       c.TestTypes[r.TestTypeID].Name,
				IdempotencyKey: c.Outcome.IdempotencyKey,
				Worst:          r.Value,
			}
			groups[r.TestTypeID] = a
		}
		switch r.Status {
		case types.StatusFail:
			a.Fail++
		case types.StatusWarn:
			a.Warn++
		}
		if r.Status.Severity() > a.Severity.Severity() {
			a.Severity = r.Status
			a.Worst = r.Value
		}
	}
	if len(groups) == 0 {
		return
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := e.now()
	for _, id := range ids {
		a := groups[id]
		key := a.ProjectID + ":" + a.TestTypeID

		e.mu.Lock()
		if last, ok := e.lastFire[key]; ok && now.Sub(last) < e.cooldown {
			e.mu.Unlock()
			slog.Debug("alerts: suppressed by cooldown", "project", a.ProjectID, "test_type", a.TestTypeID)
			continue
		}
		e.lastFire[key] = now
		a.ID = fmt.Sprintf("%s:%d", key, now.UnixNano())
		a.FiredAt = now
		a.Message = fmt.Sprintf("%s on project %s: %d fail, %d warn (batch %s)",
			displayName(a), a.ProjectID, a.Fail, a.Warn, a.IdempotencyKey)
		e.history = append(e.history, *a)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		alert := *a
		e.mu.Unlock()

		slog.Warn("alerts: out-of-spec results",
			"project", alert.ProjectID,
			"test_type", alert.TestTypeID,
			"severity", alert.Severity.String(),
			"fail", alert.Fail,
			"warn", alert.Warn,
		)
		if e.recorder != nil {
			e.recorder.AlertFired(alert.Severity.String())
		}
		if len(e.webhooks) > 0 {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.deliver(&alert)
			}()
		}
	}
}

// Recent returns the project's alerts, newest first. An empty projectID
// returns every project's.
func (e *Engine) Recent(projectID string) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0)
	for i := len(e.history) - 1; i >= 0; i-- {
		if projectID == "" || e.history[i].ProjectID == projectID {
			out = append(out, e.history[i])
		}
	}
	return out
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func displayName(a *Alert) string {
	if a.TestType != "" {
		return a.TestType
	}
	return a.TestTypeID
}
