package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/alerts"
	"github.com/fieldgrid/fieldgrid/server/internal/analytics"
	"github.com/fieldgrid/fieldgrid/server/internal/auth"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// DefaultMaxBodyBytes bounds request bodies when Options leaves it unset.
const DefaultMaxBodyBytes = 8 << 20

// Ingester accepts batch submissions.
type Ingester interface {
	IngestBatch(ctx context.Context, actor auth.Identity, projectID string, req types.BatchRequest) (types.BatchResponse, error)
}

// Analytics answers the read-side views.
type Analytics interface {
	Features(ctx context.Context, q store.Query, page, pageSize int) (types.FeaturePage, error)
	OutOfSpec(ctx context.Context, q store.Query, limit int) (types.OutOfSpecList, error)
	CoverageGrid(ctx context.Context, q store.Query, cellSize float64, kinds []store.Kind) (types.CoverageGrid, error)
	TrendSeries(ctx context.Context, q store.Query, bucket analytics.Bucket, loc *time.Location) (types.TrendSeries, error)
}

// AlertLister returns recent alerts for a project.
type AlertLister interface {
	Recent(projectID string) []alerts.Alert
}

// Options configures the handler. Zero values disable the optional parts.
type Options struct {
	Auth         auth.Options
	MaxBodyBytes int64

	// RateLimit requests per RateWindow per identity. Zero disables.
	RateLimit  int
	RateWindow time.Duration

	// Alerts serves GET .../alerts when set.
	Alerts AlertLister

	// Events is mounted at GET /ws/projects/{id}/events behind auth.
	Events http.Handler

	// Ready reports backend health for GET /api/v1/health.
	Ready func(context.Context) error
}

// Handler is the HTTP handler for /api/v1/* and /ws/*.
type Handler struct {
	ingest Ingester
	engine Analytics
	opts   Options
	mux    *http.ServeMux
}

// New registers all routes. Project routes are authenticated and, when
// configured, rate limited per identity; health is open.
func New(ing Ingester, eng Analytics, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &Handler{ingest: ing, engine: eng, opts: opts, mux: http.NewServeMux()}

	projects := http.NewServeMux()
	projects.HandleFunc("POST /api/v1/projects/{id}/test-results:batch", h.ingestBatch)
	projects.HandleFunc("GET /api/v1/projects/{id}/features", h.features)
	projects.HandleFunc("GET /api/v1/projects/{id}/out-of-spec", h.outOfSpec)
	projects.HandleFunc("GET /api/v1/projects/{id}/coverage", h.coverage)
	projects.HandleFunc("GET /api/v1/projects/{id}/trends", h.trends)
	if opts.Alerts != nil {
		projects.HandleFunc("GET /api/v1/projects/{id}/alerts", h.alerts)
	}
	if opts.Events != nil {
		projects.Handle("GET /ws/projects/{id}/events", opts.Events)
	}

	protected := h.rateLimit(projects)
	protected = auth.Middleware(opts.Auth)(protected)

	h.mux.HandleFunc("GET /api/v1/health", h.health)
	h.mux.Handle("/api/v1/projects/", protected)
	h.mux.Handle("/ws/projects/", protected)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	if h.opts.RateLimit <= 0 || h.opts.RateWindow <= 0 {
		return next
	}
	return httprate.Limit(
		h.opts.RateLimit,
		h.opts.RateWindow,
		httprate.WithKeyFuncs(identityKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			jsonResp(w, http.StatusTooManyRequests, ErrorResponse{Message: "rate limit exceeded, try again later"})
		}),
	)(next)
}

// identityKey buckets authenticated callers by subject and anonymous
// callers by address.
func identityKey(r *http.Request) (string, error) {
	id := auth.FromContext(r.Context())
	if id == auth.Anonymous {
		return httprate.KeyByIP(r)
	}
	return id.Method + ":" + id.Subject, nil
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Time: time.Now().UTC()}
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			slog.Warn("api: health check failed", "err", err)
			resp.Status = "unavailable"
			jsonResp(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// ingestBatch handles POST /api/v1/projects/{id}/test-results:batch.
// Fresh batches answer 201, replays 200.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)

	var req types.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, err)
			return
		}
		jsonErr(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return
	}

	actor := auth.FromContext(r.Context())
	resp, err := h.ingest.IngestBatch(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if resp.SkippedAsDuplicate {
		code = http.StatusOK
	}
	jsonResp(w, code, resp)
}

// features handles GET /api/v1/projects/{id}/features.
func (h *Handler) features(w http.ResponseWriter, r *http.Request) {
	vals := r.URL.Query()
	p := &queryParser{}
	q := p.filter(r.PathValue("id"), vals)
	page := p.Int(vals, 1, "page")
	pageSize := p.Int(vals, 0, "pageSize")
	if err := p.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.engine.Features(r.Context(), q, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// outOfSpec handles GET /api/v1/projects/{id}/out-of-spec.
func (h *Handler) outOfSpec(w http.ResponseWriter, r *http.Request) {
	vals := r.URL.Query()
	p := &queryParser{}
	q := p.filter(r.PathValue("id"), vals)
	limit := p.Int(vals, 0, "limit")
	if err := p.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.engine.OutOfSpec(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// coverage handles GET /api/v1/projects/{id}/coverage.
func (h *Handler) coverage(w http.ResponseWriter, r *http.Request) {
	vals := r.URL.Query()
	p := &queryParser{}
	q := p.filter(r.PathValue("id"), vals)
	cellSize := p.Float(vals, 0, "cellSize")
	kinds := p.kinds(vals)
	if err := p.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.engine.CoverageGrid(r.Context(), q, cellSize, kinds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// trends handles GET /api/v1/projects/{id}/trends.
func (h *Handler) trends(w http.ResponseWriter, r *http.Request) {
	vals := r.URL.Query()
	p := &queryParser{}
	q := p.filter(r.PathValue("id"), vals)
	bucket := p.bucket(vals)
	loc := p.location(vals)
	if err := p.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.engine.TrendSeries(r.Context(), q, bucket, loc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// alerts handles GET /api/v1/projects/{id}/alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.opts.Alerts.Recent(r.PathValue("id")))
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, ErrorResponse{Message: msg})
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve       *types.ValidationError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.As(err, &ve):
		jsonResp(w, http.StatusBadRequest, ErrorResponse{Message: "validation failed", Errors: ve.Fields})
	case errors.Is(err, types.ErrValidation):
		jsonErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "project not found")
	case errors.Is(err, types.ErrStorage):
		slog.Error("api: storage failure", "path", r.URL.Path, "err", err)
		jsonErr(w, http.StatusServiceUnavailable, "storage unavailable, retry later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		jsonErr(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		slog.Error("api: internal error", "path", r.URL.Path, "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}
