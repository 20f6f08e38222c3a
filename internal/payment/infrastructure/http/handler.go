package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/course-payments/internal/payment/application"
	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/internal/payment/gateway"
	"github.com/dmehra2102/course-payments/pkg/metrics"
)

const maxWebhookBody = 1 << 20

type Reconciler interface {
	Reconcile(ctx context.Context, n domain.Notification) (domain.Reconciliation, error)
}

type Checkout interface {
	Create(ctx context.Context, req application.CheckoutRequest) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	log        *slog.Logger
	gateways   *gateway.Registry
	reconciler Reconciler
	checkout   Checkout
	metrics    *metrics.Metrics
	db         Pinger
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, gateways *gateway.Registry, reconciler Reconciler, checkout Checkout, m *metrics.Metrics, db Pinger) *Handler {
	return &Handler{
		log:        log,
		gateways:   gateways,
		reconciler: reconciler,
		checkout:   checkout,
		metrics:    m,
		db:         db,
		tracer:     otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)

	r.Post("/webhooks/{gateway}", h.receiveWebhook)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/healthz", h.health)
	r.Handle("/metrics", h.metrics.Handler())

	return r
}

type ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "gateway")
	ctx, span := h.tracer.Start(r.Context(), "ReceiveWebhook", trace.WithAttributes(attribute.String("webhook.gateway", name)))
	defer span.End()

	status, body, outcome := h.process(ctx, w, r, name)
	span.SetAttributes(attribute.String("webhook.outcome", outcome), attribute.Int("http.status_code", status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, outcome)
	}
	h.metrics.WebhookHandled(name, outcome)
	writeJSON(w, status, body)
}

// process never lets an error escape as anything but a mapped status: 2xx
// stops gateway retries, 401 and 400 are permanent, 503 asks for a retry.
func (h *Handler) process(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, ack, string) {
	log := h.log.With("gateway", name, "request_id", middleware.GetReqID(ctx))

	entry, ok := h.gateways.Lookup(name)
	if !ok {
		return http.StatusNotFound, ack{Error: "unknown gateway"}, "unknown_gateway"
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", "limit", maxWebhookBody)
			return http.StatusRequestEntityTooLarge, ack{Error: "body too large"}, "too_large"
		}
		return http.StatusBadRequest, ack{Error: "unreadable body"}, "malformed"
	}

	msg, sigs, err := entry.Gateway.Extract(r, raw)
	if err != nil {
		log.Warn("webhook signature inputs malformed", "err", err)
		return http.StatusBadRequest, ack{Error: "malformed notification"}, "malformed"
	}
	if err := entry.Verifier.Verify(msg, sigs...); err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			log.Error("webhook rejected, verifier not configured", "err", err)
			return http.StatusServiceUnavailable, ack{Error: "webhook verification unavailable"}, "misconfigured"
		}
		log.Warn("webhook signature rejected", "err", err, "ts", msg.Timestamp)
		return http.StatusUnauthorized, ack{Error: "invalid signature"}, "invalid_signature"
	}

	n, err := entry.Gateway.Decode(r, raw)
	if errors.Is(err, gateway.ErrIgnored) {
		log.Info("webhook type ignored", "err", err)
		return http.StatusOK, ack{Success: true}, string(domain.OutcomeIgnored)
	}
	if err != nil {
		log.Warn("webhook body malformed", "err", err)
		return http.StatusBadRequest, ack{Error: "malformed notification"}, "malformed"
	}
	if !entry.Verifier.CoversBody() {
		// only the id, request id and timestamp are signed, so the rest of the
		// body is a claim; the reconciler reads it back from the gateway
		n.DeclaredStatus, n.ExternalReference, n.AmountCents = "", "", nil
	}
	if n.RawBody == nil {
		n.RawBody = raw
	}
	n.ReceivedAt = time.Now().UTC()

	res, err := h.reconciler.Reconcile(ctx, n)
	switch {
	case err == nil:
		if res.Outcome == domain.OutcomeTransitioned {
			h.metrics.PaymentTransitioned(name, string(res.To))
		}
		return http.StatusOK, ack{Success: true}, string(res.Outcome)
	case errors.Is(err, domain.ErrUnknownPayment):
		h.metrics.Unresolved(name, string(domain.ReasonUnknownPayment))
		return http.StatusOK, ack{Error: "unknown payment"}, string(domain.ReasonUnknownPayment)
	case errors.Is(err, domain.ErrAmountMismatch):
		h.metrics.Unresolved(name, string(domain.ReasonAmountMismatch))
		return http.StatusOK, ack{Error: "amount mismatch"}, string(domain.ReasonAmountMismatch)
	case errors.Is(err, domain.ErrMalformedNotification):
		log.Warn("notification cannot be reconciled", "err", err)
		return http.StatusBadRequest, ack{Error: "malformed notification"}, "malformed"
	case errors.Is(err, domain.ErrConfiguration):
		log.Error("reconciler not configured", "err", err)
		return http.StatusServiceUnavailable, ack{Error: "temporarily unavailable"}, "misconfigured"
	default:
		log.Error("webhook processing failed, gateway will retry", "err", err)
		return http.StatusServiceUnavailable, ack{Error: "temporarily unavailable"}, "unavailable"
	}
}

type createOrderReq struct {
	UserID      string `json:"user_id"`
	CourseID    string `json:"course_id"`
	Gateway     string `json:"gateway"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type orderResp struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CourseID    string    `json:"course_id"`
	Gateway     string    `json:"gateway"`
	ExternalID  string    `json:"external_id,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toResp(o domain.Order) orderResp {
	return orderResp{
		ID:          o.ID,
		UserID:      o.UserID,
		CourseID:    o.CourseID,
		Gateway:     o.Gateway,
		ExternalID:  o.ExternalID,
		AmountCents: o.AmountCents,
		Currency:    o.Currency,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	o, err := h.checkout.Create(ctx, application.CheckoutRequest{
		UserID:      req.UserID,
		CourseID:    req.CourseID,
		Gateway:     req.Gateway,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	})
	if errors.Is(err, application.ErrInvalidCheckout) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.Error("create order failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	h.log.Info("order created", "order_id", o.ID, "gateway", o.Gateway)
	writeJSON(w, http.StatusCreated, toResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		h.log.Error("get order failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
