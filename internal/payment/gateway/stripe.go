package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/internal/payment/signature"
)

const (
	StripeName = "stripe"

	stripeSignatureHeader = "Stripe-Signature"
	// checkout stores the local order id here when creating the intent
	stripeOrderMetadataKey = "order_id"
)

var stripeStatuses = map[string]domain.Status{
	"payment_intent.succeeded":      domain.StatusSucceeded,
	"payment_intent.payment_failed": domain.StatusFailed,
	"payment_intent.canceled":       domain.StatusFailed,
	"payment_intent.processing":     domain.StatusPending,
}

type Stripe struct{}

func NewStripe() *Stripe { return &Stripe{} }

func (*Stripe) Name() string { return StripeName }

func (*Stripe) MapStatus(declared string) (domain.Status, bool) {
	s, ok := stripeStatuses[declared]
	return s, ok
}

func (*Stripe) Extract(r *http.Request, body []byte) (signature.Message, []string, error) {
	ts, sigs := signature.ParseHeader(r.Header.Get(stripeSignatureHeader))
	return signature.Message{
		Timestamp: ts,
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      body,
	}, sigs, nil
}

func (s *Stripe) Decode(r *http.Request, body []byte) (domain.Notification, error) {
	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	if _, ok := s.MapStatus(string(ev.Type)); !ok {
		return domain.Notification{}, fmt.Errorf("%w: %q", ErrIgnored, ev.Type)
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return domain.Notification{}, fmt.Errorf("%w: event without data.object", domain.ErrMalformedNotification)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	if pi.ID == "" {
		return domain.Notification{}, fmt.Errorf("%w: payment intent without id", domain.ErrMalformedNotification)
	}

	ts, _ := signature.ParseHeader(r.Header.Get(stripeSignatureHeader))
	n := domain.Notification{
		Gateway:           StripeName,
		EventID:           ev.ID,
		Type:              "payment_intent",
		Action:            string(ev.Type),
		ExternalID:        pi.ID,
		DeclaredStatus:    string(ev.Type),
		ExternalReference: pi.Metadata[stripeOrderMetadataKey],
		Timestamp:         ts,
		RawBody:           body,
		ReceivedAt:        time.Now().UTC(),
	}
	if pi.Amount > 0 {
		amount := pi.Amount
		n.AmountCents = &amount
	}
	return n, nil
}
