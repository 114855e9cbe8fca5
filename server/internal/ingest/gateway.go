package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/auth"
	"github.com/fieldgrid/fieldgrid/server/internal/classify"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// Settings are the reloadable tunables of a Gateway.
type Settings struct {
	WarnMargin    float64
	MaxBatchItems int
}

// DefaultSettings mirrors the server configuration defaults.
var DefaultSettings = Settings{WarnMargin: classify.DefaultWarnMargin, MaxBatchItems: 1000}

// Backend is the store surface the gateway needs.
type Backend interface {
	store.Catalog
	store.Outcomes
}

// Commit describes a freshly committed batch.
type Commit struct {
	Outcome   types.BatchOutcome
	Results   []types.TestResult
	TestTypes map[string]types.TestType
}

// Listener is told about every fresh commit. Implementations must not
// block; replays are not reported.
type Listener interface {
	BatchCommitted(ctx context.Context, c Commit)
}

// Recorder receives intake metrics. result is "created", "duplicate" or
// "rejected".
type Recorder interface {
	BatchIngested(result string, counts types.StatusCounts, d time.Duration)
	FingerprintMismatch()
}

// Gateway is the batch intake entry point. It is safe for concurrent use.
type Gateway struct {
	backend   Backend
	validate  *validator.Validate
	settings  atomic.Pointer[Settings]
	listeners []Listener
	recorder  Recorder
	newID     func() string
	now       func() time.Time // injectable for deterministic tests
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithListener registers l for commit notifications.
func WithListener(l Listener) Option {
	return func(g *Gateway) { g.listeners = append(g.listeners, l) }
}

// WithRecorder reports intake metrics to r.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// New returns a Gateway over backend.
func New(backend Backend, s Settings, opts ...Option) *Gateway {
	g := &Gateway{
		backend:  backend,
		validate: newValidator(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	g.SetSettings(s)
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetSettings swaps the tunables used by subsequent batches.
func (g *Gateway) SetSettings(s Settings) {
	if s.MaxBatchItems <= 0 {
		s.MaxBatchItems = DefaultSettings.MaxBatchItems
	}
	if s.WarnMargin < 0 {
		s.WarnMargin = 0
	}
	g.settings.Store(&s)
}

// Settings returns the tunables currently in force.
func (g *Gateway) Settings() Settings { return *g.settings.Load() }

// IngestBatch validates, classifies and commits req for projectID on behalf
// of actor. A key that was already committed returns the recorded outcome
// with SkippedAsDuplicate set. Either every item is persisted or none is.
func (g *Gateway) IngestBatch(ctx context.Context, actor auth.Identity, projectID string, req types.BatchRequest) (types.BatchResponse, error) {
	start := time.Now()
	resp, result, err := g.ingest(ctx, actor, projectID, req)
	if g.recorder != nil {
		if err != nil {
			result = "rejected"
		}
		g.recorder.BatchIngested(result, resp.Counts, time.Since(start))
	}
	return resp, err
}

func (g *Gateway) ingest(ctx context.Context, actor auth.Identity, projectID string, req types.BatchRequest) (types.BatchResponse, string, error) {
	set := g.Settings()

	ve := &types.ValidationError{}
	if err := structural(g.validate, &req, ve); err != nil {
		return types.BatchResponse{}, "", err
	}
	if len(req.Items) > set.MaxBatchItems {
		ve.Add("items", "must contain at most "+strconv.Itoa(set.MaxBatchItems)+" items")
	}
	if err := ve.Err(); err != nil {
		return types.BatchResponse{}, "", err
	}

	if _, err := g.backend.Project(ctx, projectID); err != nil {
		return types.BatchResponse{}, "", err
	}

	testTypes, err := g.resolveTestTypes(ctx, req.Items, ve)
	if err != nil {
		return types.BatchResponse{}, "", err
	}
	if err := ve.Err(); err != nil {
		return types.BatchResponse{}, "", err
	}

	fp, err := fingerprint(req.Items)
	if err != nil {
		return types.BatchResponse{}, "", err
	}

	if resp, ok, err := g.replay(ctx, projectID, req.IdempotencyKey, fp); err != nil || ok {
		return resp, "duplicate", err
	}

	now := g.now().UTC().Truncate(store.Precision)
	results := make([]types.TestResult, len(req.Items))
	outcome := types.BatchOutcome{
		ProjectID:      projectID,
		IdempotencyKey: req.IdempotencyKey,
		Created:        make([]string, len(req.Items)),
		Fingerprint:    fp,
		Actor:          actor.Subject,
		CommittedAt:    now,
	}
	for i, it := range req.Items {
		tt := testTypes[it.TestTypeID]
		v := classify.EvaluateType(*it.Value, tt, set.WarnMargin)
		results[i] = types.TestResult{
			ID:           g.newID(),
			ProjectID:    projectID,
			TestTypeID:   it.TestTypeID,
			Timestamp:    it.Timestamp.UTC().Truncate(store.Precision),
			Value:        *it.Value,
			Status:       v.Status,
			MinThreshold: copyFloat(tt.MinThreshold),
			MaxThreshold: copyFloat(tt.MaxThreshold),
			Longitude:    it.Longitude,
			Latitude:     it.Latitude,
			Source:       it.Source,
			Technician:   it.Technician,
			ClientStatus: it.Status,
			BatchKey:     req.IdempotencyKey,
			CreatedBy:    actor.Subject,
			CreatedAt:    now,
		}
		outcome.Created[i] = results[i].ID
		outcome.Counts.Add(v.Status)
	}

	err = g.backend.CommitBatch(ctx, outcome, results)
	if errors.Is(err, types.ErrIdempotencyConflict) {
		// Lost a race with a concurrent commit of the same key.
		resp, ok, lerr := g.replay(ctx, projectID, req.IdempotencyKey, fp)
		if lerr != nil {
			return types.BatchResponse{}, "", lerr
		}
		if !ok {
			return types.BatchResponse{}, "", fmt.Errorf("ingest: batch %q conflicted but no outcome is recorded", req.IdempotencyKey)
		}
		return resp, "duplicate", nil
	}
	if err != nil {
		return types.BatchResponse{}, "", err
	}

	slog.Info("ingest: batch committed",
		"project", projectID, "key", req.IdempotencyKey, "items", len(results),
		"pass", outcome.Counts.Pass, "warn", outcome.Counts.Warn, "fail", outcome.Counts.Fail,
		"actor", actor.Subject)

	c := Commit{Outcome: outcome, Results: results, TestTypes: testTypes}
	for _, l := range g.listeners {
		l.BatchCommitted(ctx, c)
	}
	return outcome.Response(false), "created", nil
}

// replay answers from an existing idempotency record. ok is false when no
// record exists.
func (g *Gateway) replay(ctx context.Context, projectID, key, fp string) (types.BatchResponse, bool, error) {
	prev, err := g.backend.LookupOutcome(ctx, projectID, key)
	if errors.Is(err, types.ErrNotFound) {
		return types.BatchResponse{}, false, nil
	}
	if err != nil {
		return types.BatchResponse{}, false, err
	}
	if prev.Fingerprint != "" && prev.Fingerprint != fp {
		slog.Warn("ingest: idempotency key reused with different items",
			"project", projectID, "key", key)
		if g.recorder != nil {
			g.recorder.FingerprintMismatch()
		}
	}
	slog.Debug("ingest: duplicate batch", "project", projectID, "key", key)
	return prev.Response(true), true, nil
}

// resolveTestTypes looks up every distinct test type once, recording
// unknown ones against the first item that references them and each later
// one.
func (g *Gateway) resolveTestTypes(ctx context.Context, items []types.BatchItem, ve *types.ValidationError) (map[string]types.TestType, error) {
	found := make(map[string]types.TestType)
	missing := make(map[string]bool)
	for i, it := range items {
		if _, ok := found[it.TestTypeID]; ok {
			continue
		}
		if !missing[it.TestTypeID] {
			tt, err := g.backend.TestType(ctx, it.TestTypeID)
			switch {
			case err == nil:
				found[it.TestTypeID] = tt
				continue
			case errors.Is(err, types.ErrNotFound):
				missing[it.TestTypeID] = true
			default:
				return nil, err
			}
		}
		ve.Add(fmt.Sprintf("items[%d].testTypeId", i), fmt.Sprintf("unknown test type %q", it.TestTypeID))
		ve.UnknownTestType = true
	}
	return found, nil
}

// fingerprint hashes the submitted items so replays with a reused key and
// different content can be detected.
func fingerprint(items []types.BatchItem) (string, error) {
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("ingest: fingerprint: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
