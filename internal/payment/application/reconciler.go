package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/pkg/tracing"
)

const eventSource = "payment-webhook"

type Reconciler struct {
	log             *slog.Logger
	repo            OrderRepository
	mappers         map[string]StatusMapper
	fetchers        map[string]PaymentFetcher
	reviewThreshold int
	now             func() time.Time
}

func NewReconciler(log *slog.Logger, repo OrderRepository, reviewThreshold int) *Reconciler {
	if reviewThreshold < 1 {
		reviewThreshold = 1
	}
	return &Reconciler{
		log:             log,
		repo:            repo,
		mappers:         make(map[string]StatusMapper),
		fetchers:        make(map[string]PaymentFetcher),
		reviewThreshold: reviewThreshold,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// RegisterGateway wires the status table for a gateway. fetcher may be nil when
// the gateway's signature covers a body that always declares the status.
func (r *Reconciler) RegisterGateway(name string, mapper StatusMapper, fetcher PaymentFetcher) {
	r.mappers[name] = mapper
	if fetcher != nil {
		r.fetchers[name] = fetcher
	}
}

// Reconcile applies a verified notification to the local order. Terminal orders
// are never touched again, and the enrollment is created by the same
// conditional write that leaves pending, so concurrent duplicates grant it once.
func (r *Reconciler) Reconcile(ctx context.Context, n domain.Notification) (domain.Reconciliation, error) {
	log := r.log.With("gateway", n.Gateway, "external_id", n.ExternalID, "event_id", n.EventID, "ts", n.Timestamp)

	mapper, ok := r.mappers[n.Gateway]
	if !ok {
		return domain.Reconciliation{}, fmt.Errorf("%w: gateway %q is not registered", domain.ErrConfiguration, n.Gateway)
	}

	declared, reference, amount := n.DeclaredStatus, n.ExternalReference, n.AmountCents
	if declared == "" {
		p, err := r.fetch(ctx, log, n)
		if err != nil {
			return domain.Reconciliation{}, err
		}
		declared = p.Status
		if reference == "" {
			reference = p.ExternalReference
		}
		if amount == nil {
			amount = p.AmountCents
		}
	}

	order, err := r.locate(ctx, n.Gateway, n.ExternalID, reference)
	if errors.Is(err, domain.ErrNotFound) {
		if err := r.unresolved(ctx, log, n, domain.ReasonUnknownPayment); err != nil {
			return domain.Reconciliation{}, err
		}
		return domain.Reconciliation{}, fmt.Errorf("%w: %s/%s", domain.ErrUnknownPayment, n.Gateway, n.ExternalID)
	}
	if err != nil {
		log.Error("order lookup failed", "err", err)
		return domain.Reconciliation{}, fmt.Errorf("%w: lookup: %v", domain.ErrTransientStorage, err)
	}

	log = log.With("order_id", order.ID)
	res := domain.Reconciliation{Order: order, From: order.Status, To: order.Status}

	if order.Status.Terminal() {
		log.Info("redelivery for terminal payment ignored", "status", order.Status, "declared_status", declared)
		res.Outcome = domain.OutcomeAlreadyTerminal
		return res, nil
	}

	target, ok := mapper.MapStatus(declared)
	if !ok {
		log.Warn("unmapped gateway status", "declared_status", declared)
		res.Outcome = domain.OutcomeIgnored
		return res, nil
	}
	if target == domain.StatusPending {
		res.Outcome = domain.OutcomeStillPending
		return res, nil
	}

	if target == domain.StatusSucceeded && amount != nil && *amount != order.AmountCents {
		log.Warn("gateway amount differs from order, not applied", "order_amount_cents", order.AmountCents, "declared_amount_cents", *amount)
		if err := r.unresolved(ctx, log, n, domain.ReasonAmountMismatch); err != nil {
			return domain.Reconciliation{}, err
		}
		return res, fmt.Errorf("%w: order %s", domain.ErrAmountMismatch, order.ID)
	}

	t, err := r.transition(ctx, order, n, target, declared)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	tr, err := r.repo.Transition(ctx, t)
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		log.Info("concurrent delivery already applied the transition")
		res.Outcome = domain.OutcomeAlreadyTerminal
		return res, nil
	}
	if err != nil {
		log.Error("status transition failed", "err", err, "to", target)
		return domain.Reconciliation{}, fmt.Errorf("%w: transition: %v", domain.ErrTransientStorage, err)
	}

	res.Outcome = domain.OutcomeTransitioned
	res.Order = tr.Order
	res.To = target
	res.EnrollmentCreated = tr.EnrollmentCreated
	log.Info("payment transitioned", "from", res.From, "to", res.To, "enrollment_created", tr.EnrollmentCreated)
	return res, nil
}

func (r *Reconciler) fetch(ctx context.Context, log *slog.Logger, n domain.Notification) (domain.GatewayPayment, error) {
	f, ok := r.fetchers[n.Gateway]
	if !ok {
		return domain.GatewayPayment{}, fmt.Errorf("%w: no status declared and no fetcher for %s", domain.ErrMalformedNotification, n.Gateway)
	}
	p, err := f.FetchPayment(ctx, n.ExternalID)
	if errors.Is(err, domain.ErrUnknownPayment) {
		if err := r.unresolved(ctx, log, n, domain.ReasonUnknownPayment); err != nil {
			return domain.GatewayPayment{}, err
		}
		return domain.GatewayPayment{}, fmt.Errorf("%w: gateway does not know %s", domain.ErrUnknownPayment, n.ExternalID)
	}
	if errors.Is(err, domain.ErrConfiguration) {
		log.Error("payment status fetch not configured, set the gateway API credentials", "err", err)
		return domain.GatewayPayment{}, fmt.Errorf("fetch payment: %w", err)
	}
	if err != nil {
		log.Error("payment status fetch failed", "err", err)
		return domain.GatewayPayment{}, fmt.Errorf("%w: fetch payment: %v", domain.ErrTransientStorage, err)
	}
	return p, nil
}

// locate finds the order by external id, binding it through the checkout
// reference the first time the gateway reports on it.
func (r *Reconciler) locate(ctx context.Context, gateway, externalID, reference string) (domain.Order, error) {
	o, err := r.repo.FindByExternalID(ctx, gateway, externalID)
	if !errors.Is(err, domain.ErrNotFound) || reference == "" {
		return o, err
	}
	o, err = r.repo.AttachExternalID(ctx, reference, gateway, externalID)
	if !errors.Is(err, domain.ErrNotFound) {
		return o, err
	}
	// a concurrent delivery may have bound it first
	return r.repo.FindByExternalID(ctx, gateway, externalID)
}

func (r *Reconciler) unresolved(ctx context.Context, log *slog.Logger, n domain.Notification, reason domain.UnresolvedReason) error {
	now := r.now()
	u, err := r.repo.RecordUnresolved(ctx, domain.Unresolved{
		Gateway:     n.Gateway,
		ExternalID:  n.ExternalID,
		Reason:      reason,
		LastPayload: n.RawBody,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}, r.reviewThreshold)
	if err != nil {
		log.Error("recording unresolved notification failed", "reason", reason, "err", err)
		return fmt.Errorf("%w: record unresolved: %v", domain.ErrTransientStorage, err)
	}
	if u.NeedsReview {
		log.Warn("notification flagged for manual review", "reason", reason, "occurrences", u.Occurrences)
	} else {
		log.Info("notification could not be applied", "reason", reason, "occurrences", u.Occurrences)
	}
	return nil
}

func (r *Reconciler) transition(ctx context.Context, o domain.Order, n domain.Notification, to domain.Status, declared string) (domain.Transition, error) {
	at := r.now()
	traceparent := tracing.Traceparent(ctx)
	headers := map[string]string{"source": eventSource, "gateway": n.Gateway}

	t := domain.Transition{OrderID: o.ID, To: to, At: at}
	switch to {
	case domain.StatusSucceeded:
		payload, err := json.Marshal(domain.PaymentSucceeded{
			OrderID:     o.ID,
			UserID:      o.UserID,
			CourseID:    o.CourseID,
			Gateway:     o.Gateway,
			ExternalID:  n.ExternalID,
			AmountCents: o.AmountCents,
			Currency:    o.Currency,
			At:          at,
		})
		if err != nil {
			return t, err
		}
		t.PaymentEvent = domain.OutboxMessage{AggregateType: "payment", AggregateID: o.ID, Type: domain.EventPaymentSucceeded, Payload: payload, Headers: headers, Traceparent: traceparent}

		payload, err = json.Marshal(domain.EnrollmentGranted{OrderID: o.ID, UserID: o.UserID, CourseID: o.CourseID, At: at})
		if err != nil {
			return t, err
		}
		t.EnrollmentEvent = &domain.OutboxMessage{AggregateType: "enrollment", AggregateID: o.UserID + ":" + o.CourseID, Type: domain.EventEnrollmentGranted, Payload: payload, Headers: headers, Traceparent: traceparent}
	case domain.StatusFailed:
		payload, err := json.Marshal(domain.PaymentFailed{
			OrderID:        o.ID,
			UserID:         o.UserID,
			CourseID:       o.CourseID,
			Gateway:        o.Gateway,
			ExternalID:     n.ExternalID,
			DeclaredStatus: declared,
			At:             at,
		})
		if err != nil {
			return t, err
		}
		t.PaymentEvent = domain.OutboxMessage{AggregateType: "payment", AggregateID: o.ID, Type: domain.EventPaymentFailed, Payload: payload, Headers: headers, Traceparent: traceparent}
	default:
		return t, fmt.Errorf("no transition to %q", to)
	}
	return t, nil
}
