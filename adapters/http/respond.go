package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/app"
	"github.com/artpar/usagegate/domain/billing"
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

func contextWithSubject(ctx context.Context, sub ports.Subject) context.Context {
	return context.WithValue(ctx, subjectKey, sub)
}

func subjectFrom(ctx context.Context) ports.Subject {
	sub, _ := ctx.Value(subjectKey).(ports.Subject)
	return sub
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

type windowUsageBody struct {
	Window    string    `json:"window"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type decisionBody struct {
	Allowed bool              `json:"allowed"`
	Usage   []windowUsageBody `json:"usage,omitempty"`
	Denied  *denialBody       `json:"denied,omitempty"`
}

type denialBody struct {
	Window  string    `json:"window"`
	Limit   int64     `json:"limit"`
	Current int64     `json:"current"`
	ResetAt time.Time `json:"reset_at"`
}

func decisionResponse(d ratelimit.Decision) decisionBody {
	body := decisionBody{Allowed: d.Allowed}
	for _, u := range d.Usage {
		body.Usage = append(body.Usage, windowUsageBody{
			Window:    string(u.Window),
			Current:   u.Current,
			Limit:     u.Limit,
			Remaining: u.Remaining,
			ResetAt:   u.ResetAt,
		})
	}
	return body
}

func denialResponse(d ratelimit.Decision) decisionBody {
	body := decisionResponse(d)
	if d.Denied != nil {
		body.Denied = &denialBody{
			Window:  string(d.Denied.Window),
			Limit:   d.Denied.Limit,
			Current: d.Denied.Current,
			ResetAt: d.Denied.ResetAt,
		}
	}
	return body
}

type eventBody struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Capability string    `json:"capability"`
	Quantity   int64     `json:"quantity"`
	UnitCost   string    `json:"unit_cost"`
	TotalCost  string    `json:"total_cost"`
	OccurredAt time.Time `json:"occurred_at"`
}

func eventResponse(ev usage.Event) eventBody {
	return eventBody{
		ID:         ev.ID,
		Subject:    ev.Subject,
		Capability: ev.Capability,
		Quantity:   ev.Quantity,
		UnitCost:   ev.UnitCost.String(),
		TotalCost:  ev.TotalCost.String(),
		OccurredAt: ev.OccurredAt,
	}
}

func eventsResponse(events []usage.Event) []eventBody {
	bodies := make([]eventBody, 0, len(events))
	for _, ev := range events {
		bodies = append(bodies, eventResponse(ev))
	}
	return bodies
}

type capabilityUsageBody struct {
	Capability string `json:"capability"`
	Calls      int64  `json:"calls"`
	Cost       string `json:"cost"`
}

type summaryBody struct {
	Subject        string                `json:"subject"`
	PeriodStart    time.Time             `json:"period_start"`
	PeriodEnd      time.Time             `json:"period_end"`
	TotalCalls     int64                 `json:"total_calls"`
	TotalCost      string                `json:"total_cost"`
	ByCapability   []capabilityUsageBody `json:"by_capability"`
	PlanID         string                `json:"plan_id"`
	MonthlyCalls   int64                 `json:"monthly_calls"`
	RemainingCalls int64                 `json:"remaining_calls"`
}

func summaryResponse(r app.SummaryReport) summaryBody {
	body := summaryBody{
		Subject:        r.Subject,
		PeriodStart:    r.PeriodStart,
		PeriodEnd:      r.PeriodEnd,
		TotalCalls:     r.TotalCalls,
		TotalCost:      r.TotalCost.String(),
		ByCapability:   make([]capabilityUsageBody, 0, len(r.ByCapability)),
		PlanID:         r.PlanID,
		MonthlyCalls:   r.MonthlyCalls,
		RemainingCalls: r.RemainingCalls,
	}
	for _, cu := range r.ByCapability {
		body.ByCapability = append(body.ByCapability, capabilityUsageBody{
			Capability: cu.Capability,
			Calls:      cu.Calls,
			Cost:       cu.Cost.String(),
		})
	}
	return body
}

type cycleBody struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	PlanID     string    `json:"plan_id"`
	Status     string    `json:"status"`
	TotalCalls int64     `json:"total_calls"`
	TotalCost  string    `json:"total_cost"`
}

func cycleResponse(c billing.Cycle) cycleBody {
	return cycleBody{
		ID:         c.ID,
		Subject:    c.Subject,
		Start:      c.Start,
		End:        c.End,
		PlanID:     c.PlanID,
		Status:     string(c.Status),
		TotalCalls: c.TotalCalls,
		TotalCost:  c.TotalCost.String(),
	}
}

type billBody struct {
	CycleID    string    `json:"cycle_id"`
	Subject    string    `json:"subject"`
	PlanID     string    `json:"plan_id"`
	MonthlyFee string    `json:"monthly_fee"`
	UsageCost  string    `json:"usage_cost"`
	TotalCalls int64     `json:"total_calls"`
	Total      string    `json:"total"`
	CycleStart time.Time `json:"cycle_start"`
	CycleEnd   time.Time `json:"cycle_end"`
}

func billResponse(b billing.Bill) billBody {
	return billBody{
		CycleID:    b.CycleID,
		Subject:    b.Subject,
		PlanID:     b.PlanID,
		MonthlyFee: b.MonthlyFee.String(),
		UsageCost:  b.UsageCost.String(),
		TotalCalls: b.TotalCalls,
		Total:      b.Total.String(),
		CycleStart: b.CycleStart,
		CycleEnd:   b.CycleEnd,
	}
}

type paymentBody struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	CycleID     string     `json:"cycle_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func paymentResponse(p billing.Payment) paymentBody {
	return paymentBody{
		ID:          p.ID,
		Subject:     p.Subject,
		Amount:      p.Amount.String(),
		Currency:    p.Currency,
		Method:      p.Method,
		Status:      string(p.Status),
		CycleID:     p.CycleID,
		CreatedAt:   p.CreatedAt,
		ProcessedAt: p.ProcessedAt,
	}
}

func paymentsResponse(payments []billing.Payment) []paymentBody {
	bodies := make([]paymentBody, 0, len(payments))
	for _, p := range payments {
		bodies = append(bodies, paymentResponse(p))
	}
	return bodies
}

// requestLogger logs each request with method, path, status, and
// duration. Health and metrics probes stay out of the log.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/health/live" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
