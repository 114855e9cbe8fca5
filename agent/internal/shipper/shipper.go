package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldgrid/fieldgrid/agent/internal/config"
	"github.com/fieldgrid/fieldgrid/pkg/types"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
	maxErrorBody   = 64 << 10
)

// RejectedError is returned when the server refuses a batch in a way that
// retrying cannot fix (4xx other than 408 and 429).
type RejectedError struct {
	StatusCode int
	Message    string
	Fields     []types.FieldError
	Body       []byte
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server rejected batch: status %d", e.StatusCode)
	}
	return fmt.Sprintf("server rejected batch: status %d: %s", e.StatusCode, e.Message)
}

// Shipper posts batches to fieldgrid-server's bulk ingestion endpoint.
type Shipper struct {
	url        string
	actor      string
	client     *http.Client
	maxElapsed time.Duration

	// newBackOff is swapped in tests for a fast schedule.
	newBackOff func() backoff.BackOff
}

// New builds a Shipper with the auth and TLS settings from cfg.
func New(cfg config.AgentConfig) (*Shipper, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("shipper: %w", err)
	}
	s := &Shipper{
		url:        batchURL(cfg.Endpoint, cfg.ProjectID),
		actor:      cfg.Technician,
		client:     client,
		maxElapsed: cfg.MaxElapsed,
	}
	s.newBackOff = s.defaultBackOff
	return s, nil
}

func batchURL(endpoint, projectID string) string {
	return strings.TrimRight(endpoint, "/") + "/api/v1/projects/" + url.PathEscape(projectID) + "/test-results:batch"
}

func (s *Shipper) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitial
	b.MaxInterval = backoffMax
	b.MaxElapsedTime = s.maxElapsed
	return b
}

// Send posts req and retries transport errors, 5xx, 408 and 429 with
// exponential backoff until the server answers, ctx ends or the retry
// horizon passes. A replayed key is a success: the server answers with the
// stored outcome and SkippedAsDuplicate set.
func (s *Shipper) Send(ctx context.Context, req types.BatchRequest) (types.BatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return types.BatchResponse{}, fmt.Errorf("shipper: encode batch: %w", err)
	}

	var out types.BatchResponse
	attempt := 0
	op := func() error {
		attempt++
		resp, err := s.post(ctx, body)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("shipper: send failed, will retry",
			"key", req.IdempotencyKey, "attempt", attempt, "err", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify); err != nil {
		return types.BatchResponse{}, err
	}
	slog.Debug("shipper: batch delivered", "key", req.IdempotencyKey,
		"items", len(req.Items), "duplicate", out.SkippedAsDuplicate)
	return out, nil
}

// post performs one attempt. Non-retryable failures are wrapped with
// backoff.Permanent.
func (s *Shipper) post(ctx context.Context, body []byte) (types.BatchResponse, error) {
	var out types.BatchResponse

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return out, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if s.actor != "" {
		httpReq.Header.Set("X-Actor", s.actor)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return out, backoff.Permanent(ctx.Err())
		}
		return out, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return out, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	rej := &RejectedError{StatusCode: resp.StatusCode, Body: raw}
	var e struct {
		Message string             `json:"message"`
		Errors  []types.FieldError `json:"errors"`
	}
	if json.Unmarshal(raw, &e) == nil {
		rej.Message, rej.Fields = e.Message, e.Errors
	}

	if retryable(resp.StatusCode) {
		return out, rej
	}
	return out, backoff.Permanent(rej)
}

func retryable(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}
