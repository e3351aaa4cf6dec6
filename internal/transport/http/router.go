// Package httptransport serves the operational HTTP endpoints: liveness,
// readiness after the first reconciliation pass, Prometheus metrics and a
// read-only view of the recorded grant entries.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rolegate/internal/grant/models"
	"rolegate/internal/grant/reconcile"
	id "rolegate/pkg/domain"
	"rolegate/pkg/platform/httputil"
	"rolegate/pkg/platform/middleware/request"
	"rolegate/pkg/requestcontext"
)

// GrantLister is the read side of the grant service.
type GrantLister interface {
	List(ctx context.Context, guildID id.GuildID) []models.GrantEntry
}

// Readiness reports whether the first reconciliation pass has finished.
type Readiness interface {
	Done() <-chan struct{}
	LastReport() (reconcile.Report, bool)
}

// HealthCheck is an optional dependency probe, e.g. a Redis ping.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	grants    GrantLister
	readiness Readiness
	checks    map[string]HealthCheck
	logger    *slog.Logger
}

func NewHandler(grants GrantLister, readiness Readiness, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		grants:    grants,
		readiness: readiness,
		checks:    make(map[string]HealthCheck),
		logger:    logger,
	}
}

// AddCheck registers a dependency probe evaluated by /readyz.
func (h *Handler) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// NewRouter mounts the ops endpoints. gatherer backs /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(request.ID)
	r.Use(request.Time)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/readyz", h.HandleReady)
	r.Get("/grants", h.HandleListGrants)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status    string            `json:"status"`
	Reconcile *reportResponse   `json:"reconcile,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

type reportResponse struct {
	Total      int   `json:"total"`
	Rebound    int   `json:"rebound"`
	Repaired   int   `json:"repaired"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := readyResponse{Status: "ready"}
	status := http.StatusOK

	select {
	case <-h.readiness.Done():
		if rep, ok := h.readiness.LastReport(); ok {
			resp.Reconcile = &reportResponse{
				Total:      rep.Total,
				Rebound:    rep.Rebound,
				Repaired:   rep.Repaired,
				Skipped:    rep.Skipped,
				Failed:     rep.Failed,
				DurationMS: rep.Duration.Milliseconds(),
			}
		}
	default:
		resp.Status = "reconciling"
		status = http.StatusServiceUnavailable
	}

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				h.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
				resp.Checks[name] = "failing"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	httputil.WriteJSON(w, status, resp)
}

type grantsResponse struct {
	Grants []models.GrantEntry `json:"grants"`
}

// HandleListGrants serves GET /grants, optionally filtered by ?guild_id=.
func (h *Handler) HandleListGrants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var guildID id.GuildID
	if raw := r.URL.Query().Get("guild_id"); raw != "" {
		parsed, err := id.ParseGuildID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		guildID = parsed
	}

	grants := h.grants.List(ctx, guildID)
	h.logger.DebugContext(ctx, "grants listed",
		"request_id", requestcontext.RequestID(ctx),
		"guild_id", guildID,
		"count", len(grants),
	)
	httputil.WriteJSON(w, http.StatusOK, grantsResponse{Grants: grants})
}
