package shipper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldgrid/fieldgrid/agent/internal/config"
	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// mockServer records decoded batches and answers with scripted statuses.
type mockServer struct {
	mu       sync.Mutex
	statuses []int // consumed one per request; 201 once exhausted
	received []types.BatchRequest
	headers  []http.Header
	paths    []string
}

func (m *mockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var req types.BatchRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	m.received = append(m.received, req)
	m.headers = append(m.headers, r.Header.Clone())
	m.paths = append(m.paths, r.URL.Path)

	code := http.StatusCreated
	if len(m.statuses) > 0 {
		code = m.statuses[0]
		m.statuses = m.statuses[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if code >= 400 {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "validation failed",
			"errors":  []types.FieldError{{Field: "items[0].longitude", Detail: "out of range"}},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(types.BatchResponse{
		Created:            []string{"r1"},
		SkippedAsDuplicate: code == http.StatusOK,
		Counts:             types.StatusCounts{Pass: 1},
	})
}

func (m *mockServer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func newTestShipper(t *testing.T, srv *mockServer, mutate func(*config.AgentConfig)) *Shipper {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cfg := config.AgentConfig{
		Endpoint:    ts.URL + "/",
		ProjectID:   "runway 09",
		SendTimeout: 5 * time.Second,
		MaxElapsed:  2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Millisecond
		b.MaxInterval = 5 * time.Millisecond
		b.MaxElapsedTime = cfg.MaxElapsed
		return b
	}
	return s
}

func sampleBatch() types.BatchRequest {
	v := 12.5
	return types.BatchRequest{
		IdempotencyKey: "abc-500-0",
		Items: []types.BatchItem{{
			TestTypeID: "cbr",
			Timestamp:  time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
			Value:      &v,
			Longitude:  -1.5,
			Latitude:   52.1,
		}},
	}
}

func TestSend_Created(t *testing.T) {
	srv := &mockServer{}
	s := newTestShipper(t, srv, func(c *config.AgentConfig) { c.Technician = "sam" })

	resp, err := s.Send(context.Background(), sampleBatch())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.SkippedAsDuplicate || len(resp.Created) != 1 || resp.Counts.Pass != 1 {
		t.Errorf("response: got %+v", resp)
	}
	if got := srv.paths[0]; got != "/api/v1/projects/runway 09/test-results:batch" {
		t.Errorf("path: got %q", got)
	}
	if got := srv.received[0].IdempotencyKey; got != "abc-500-0" {
		t.Errorf("key: got %q", got)
	}
	if got := srv.headers[0].Get("X-Actor"); got != "sam" {
		t.Errorf("X-Actor: got %q", got)
	}
}

func TestSend_DuplicateIsSuccess(t *testing.T) {
	srv := &mockServer{statuses: []int{http.StatusOK}}
	s := newTestShipper(t, srv, nil)

	resp, err := s.Send(context.Background(), sampleBatch())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !resp.SkippedAsDuplicate {
		t.Error("expected SkippedAsDuplicate")
	}
}

func TestSend_RetriesTransientStatuses(t *testing.T) {
	srv := &mockServer{statuses: []int{503, 429, 408, 500}}
	s := newTestShipper(t, srv, nil)

	if _, err := s.Send(context.Background(), sampleBatch()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := srv.calls(); got != 5 {
		t.Errorf("calls: got %d, want 5", got)
	}
	for i, req := range srv.received {
		if req.IdempotencyKey != "abc-500-0" {
			t.Errorf("attempt %d key: got %q", i, req.IdempotencyKey)
		}
	}
}

func TestSend_PermanentRejection(t *testing.T) {
	for _, code := range []int{400, 401, 404, 413} {
		srv := &mockServer{statuses: []int{code}}
		s := newTestShipper(t, srv, nil)

		_, err := s.Send(context.Background(), sampleBatch())
		var rej *RejectedError
		if !errors.As(err, &rej) {
			t.Fatalf("status %d: got %v, want *RejectedError", code, err)
		}
		if rej.StatusCode != code || rej.Message != "validation failed" {
			t.Errorf("status %d: got %+v", code, rej)
		}
		if len(rej.Fields) != 1 || rej.Fields[0].Field != "items[0].longitude" {
			t.Errorf("status %d fields: got %+v", code, rej.Fields)
		}
		if got := srv.calls(); got != 1 {
			t.Errorf("status %d: calls %d, want 1", code, got)
		}
	}
}

func TestSend_GivesUpAfterMaxElapsed(t *testing.T) {
	statuses := make([]int, 10000)
	for i := range statuses {
		statuses[i] = http.StatusServiceUnavailable
	}
	srv := &mockServer{statuses: statuses}
	s := newTestShipper(t, srv, func(c *config.AgentConfig) { c.MaxElapsed = 50 * time.Millisecond })

	_, err := s.Send(context.Background(), sampleBatch())
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("got %v, want last 503 rejection", err)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	statuses := make([]int, 10000)
	for i := range statuses {
		statuses[i] = http.StatusBadGateway
	}
	srv := &mockServer{statuses: statuses}
	s := newTestShipper(t, srv, func(c *config.AgentConfig) { c.MaxElapsed = 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Send(ctx, sampleBatch()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestAuthHeaders(t *testing.T) {
	t.Setenv("FG_KEY", "k-123")
	t.Setenv("FG_TOKEN", "tok")
	t.Setenv("FG_PW", "pw")

	tests := []struct {
		name   string
		auth   config.AuthConfig
		header string
		want   string
	}{
		{"apikey default header", config.AuthConfig{Mode: "apikey", KeyEnv: "FG_KEY"}, "X-API-Key", "k-123"},
		{"apikey custom header", config.AuthConfig{Mode: "apikey", KeyEnv: "FG_KEY", Header: "X-Field-Key"}, "X-Field-Key", "k-123"},
		{"bearer", config.AuthConfig{Mode: "bearer", TokenEnv: "FG_TOKEN"}, "Authorization", "Bearer tok"},
		{"basic", config.AuthConfig{Mode: "basic", Username: "u", PasswordEnv: "FG_PW"}, "Authorization", "Basic dTpwdw=="},
		{"none", config.AuthConfig{Mode: "none"}, "Authorization", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := &mockServer{}
			s := newTestShipper(t, srv, func(c *config.AgentConfig) { c.ServerAuth = tc.auth })
			if _, err := s.Send(context.Background(), sampleBatch()); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if got := srv.headers[0].Get(tc.header); got != tc.want {
				t.Errorf("%s: got %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}

func TestNew_MTLSMissingCert(t *testing.T) {
	_, err := New(config.AgentConfig{
		Endpoint:   "https://localhost",
		ProjectID:  "p1",
		ServerAuth: config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"},
	})
	if err == nil {
		t.Fatal("expected error for missing client cert")
	}
}
