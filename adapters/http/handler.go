// Package http provides the HTTP API for usagegate.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/artpar/usagegate/adapters/clock"
	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/app"
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

// Handler serves the metering, usage, and billing API.
type Handler struct {
	limiter  *app.Limiter
	billing  *app.Billing
	identity *app.Identity
	logger   zerolog.Logger
	metrics  *metrics.Collector
	clock    ports.Clock

	keyHeader string
}

// HandlerConfig contains configuration for Handler.
type HandlerConfig struct {
	KeyHeader string             // header carrying the API key
	Metrics   *metrics.Collector // nil disables metric counters
	Clock     ports.Clock        // nil means wall clock
}

// NewHandler creates the API handler.
func NewHandler(limiter *app.Limiter, billing *app.Billing, identity *app.Identity, logger zerolog.Logger, cfg HandlerConfig) *Handler {
	if cfg.KeyHeader == "" {
		cfg.KeyHeader = "X-API-Key"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Handler{
		limiter:   limiter,
		billing:   billing,
		identity:  identity,
		logger:    logger,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		keyHeader: cfg.KeyHeader,
	}
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	MetricsEnabled bool
	MetricsPath    string
	Timeout        time.Duration
}

// NewRouter builds the chi router with standard middleware.
func NewRouter(h *Handler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))
	r.Use(requestLogger(logger))

	r.Get("/health", h.Health)
	r.Get("/health/live", h.Health)

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Get(path, promhttp.Handler().ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/limits/check", h.CheckAndRecord)
		r.Get("/limits/stats", h.Stats)

		r.Post("/usage/track", h.TrackUsage)
		r.Get("/usage/summary", h.UsageSummary)
		r.Get("/usage/recent", h.RecentUsage)

		r.Get("/billing/cycle", h.CurrentCycle)
		r.Get("/billing/bill/{cycleID}", h.CalculateBill)
		r.Post("/billing/payments", h.RecordPayment)
		r.Get("/billing/payments", h.PaymentHistory)
		r.Post("/billing/plan", h.UpgradePlan)
	})

	// Administrative surface; bind the listener privately.
	r.Route("/admin", func(r chi.Router) {
		r.Post("/limits/reset/{subject}", h.ResetLimits)
		r.Post("/cycles/close", h.CloseCycles)
	})

	return r
}

type subjectKeyType struct{}

var subjectKey subjectKeyType

// authenticate resolves the API key header to a subject and stashes it
// in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get(h.keyHeader)
		if rawKey == "" {
			writeError(w, http.StatusUnauthorized, "missing_api_key", "API key required")
			return
		}

		sub, err := h.identity.Resolve(r.Context(), rawKey)
		if err != nil {
			if errors.Is(err, app.ErrInvalidKey) {
				writeError(w, http.StatusUnauthorized, "invalid_api_key", "API key is invalid or revoked")
				return
			}
			h.writeServiceError(w, err)
			return
		}

		ctx := contextWithSubject(r.Context(), sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CheckAndRecord consumes one call if the subject is under its limits.
func (h *Handler) CheckAndRecord(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	decision, err := h.limiter.CheckAndRecord(r.Context(), sub.ID, sub.PlanID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if h.metrics != nil {
		result := "allowed"
		if !decision.Allowed {
			result = "denied"
			h.metrics.RateLimitHits.WithLabelValues(sub.PlanID, string(decision.Denied.Window)).Inc()
		}
		h.metrics.ChecksTotal.WithLabelValues(sub.PlanID, result).Inc()
	}

	if !decision.Allowed {
		retryAfter := ratelimit.RetryAfter(decision, h.clock.Now())
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.999)))
		writeJSON(w, http.StatusTooManyRequests, denialResponse(decision))
		return
	}

	writeJSON(w, http.StatusOK, decisionResponse(decision))
}

// Stats reports per-window consumption for the subject.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	stats, err := h.limiter.Stats(r.Context(), sub.ID, sub.PlanID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type trackUsageRequest struct {
	Capability string `json:"capability"`
	Quantity   int64  `json:"quantity"`
}

// TrackUsage appends a billable usage event.
func (h *Handler) TrackUsage(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	var req trackUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	ev, err := h.billing.TrackUsage(r.Context(), sub.ID, req.Capability, req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse(ev))
}

// UsageSummary returns aggregated usage, defaulting to the current
// calendar month. start/end accept RFC 3339 timestamps.
func (h *Handler) UsageSummary(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	var start, end time.Time
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start must be RFC 3339")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end must be RFC 3339")
			return
		}
		end = t
	}

	report, err := h.billing.UsageSummary(r.Context(), sub.ID, start, end)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse(report))
}

// RecentUsage returns the newest ledger events.
func (h *Handler) RecentUsage(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.billing.RecentUsage(r.Context(), sub.ID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": eventsResponse(events)})
}

// CurrentCycle returns the subject's active billing cycle.
func (h *Handler) CurrentCycle(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	c, err := h.billing.CurrentCycle(r.Context(), sub.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycleResponse(c))
}

// CalculateBill computes the invoice for one of the subject's cycles.
func (h *Handler) CalculateBill(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())
	cycleID := chi.URLParam(r, "cycleID")

	bill, err := h.billing.CalculateBill(r.Context(), sub.ID, cycleID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, billResponse(bill))
}

type recordPaymentRequest struct {
	Amount string `json:"amount"`
	Method string `json:"method"`
}

// RecordPayment records a payment against the current cycle.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	var req recordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "amount must be a decimal string")
		return
	}

	p, err := h.billing.RecordPayment(r.Context(), sub.ID, amount, req.Method)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse(p))
}

// PaymentHistory returns the subject's payments, newest first.
func (h *Handler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	payments, err := h.billing.PaymentHistory(r.Context(), sub.ID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": paymentsResponse(payments)})
}

type upgradePlanRequest struct {
	Plan string `json:"plan"`
}

// UpgradePlan switches the subject to a new tier.
func (h *Handler) UpgradePlan(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r.Context())

	var req upgradePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	updated, err := h.billing.UpgradePlan(r.Context(), sub.ID, req.Plan)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": updated.ID,
		"plan":    updated.PlanID,
	})
}

// ResetLimits clears a subject's counters (admin).
func (h *Handler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	if err := h.limiter.Reset(r.Context(), subject); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subject": subject, "reset": true})
}

// CloseCycles closes all elapsed billing cycles (admin).
func (h *Handler) CloseCycles(w http.ResponseWriter, r *http.Request) {
	closed, err := h.billing.CloseElapsedCycles(r.Context(), h.clock.Now())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": closed})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps service errors to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, "invalid_plan", "unknown plan tier")
	case errors.Is(err, app.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", "end must not precede start")
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, ports.ErrLedgerWrite):
		if h.metrics != nil {
			h.metrics.LedgerWriteErrors.Inc()
			h.metrics.StoreErrors.Inc()
		}
		h.logger.Error().Err(err).Msg("ledger write failed")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "temporary storage failure, retry later")
	case errors.Is(err, ports.ErrStoreUnavailable):
		if h.metrics != nil {
			h.metrics.StoreErrors.Inc()
		}
		h.logger.Error().Err(err).Msg("store error")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "temporary storage failure, retry later")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	}
}
