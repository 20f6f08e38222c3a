package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/course-payments/internal/payment/application"
	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/internal/payment/gateway"
	"github.com/dmehra2102/course-payments/internal/payment/signature"
	"github.com/dmehra2102/course-payments/internal/testutil"
	"github.com/dmehra2102/course-payments/pkg/metrics"
)

const (
	secret    = "mp-test-secret"
	ts        = "1704908010"
	requestID = "req-1"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// gatewayAPI stands in for the Mercado Pago payments endpoint.
type gatewayAPI map[string]domain.GatewayPayment

func (g gatewayAPI) FetchPayment(_ context.Context, id string) (domain.GatewayPayment, error) {
	p, ok := g[id]
	if !ok {
		return domain.GatewayPayment{}, domain.ErrUnknownPayment
	}
	return p, nil
}

func cents(v int64) *int64 { return &v }

type env struct {
	store   *testutil.OrderStore
	api     gatewayAPI
	handler http.Handler
	order   domain.Order
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewOrderStore()

	o := domain.NewOrder("user-1", "go-101", gateway.MercadoPagoName, 4990, "BRL")
	o.ExternalID = "123456"
	store.Seed(o)

	mpVerifier, err := signature.NewVerifier(log, gateway.MercadoPagoName, signature.Config{Secret: []byte(secret), Format: signature.FormatManifest})
	require.NoError(t, err)
	stripeVerifier, err := signature.NewVerifier(log, gateway.StripeName, signature.Config{Format: signature.FormatTimestampDotBody})
	require.NoError(t, err)

	reg := gateway.NewRegistry()
	reg.Register(gateway.NewMercadoPago(), mpVerifier)
	reg.Register(gateway.NewStripe(), stripeVerifier)

	rec := application.NewReconciler(log, store, 3)
	api := gatewayAPI{"123456": {ExternalID: "123456", Status: "approved", AmountCents: cents(4990)}}
	rec.RegisterGateway(gateway.MercadoPagoName, gateway.NewMercadoPago(), api)
	rec.RegisterGateway(gateway.StripeName, gateway.NewStripe(), nil)

	checkout := application.NewCheckoutService(store, reg.Names()...)
	h := NewHandler(log, reg, rec, checkout, metrics.New(), pinger{})
	return &env{store: store, api: api, handler: h.Routes(), order: o}
}

func mpBody(id, status string) string {
	return fmt.Sprintf(`{"action":"payment.updated","data":{"id":%q,"status":%q},"type":"payment"}`, id, status)
}

func signedRequest(t *testing.T, id, body string) *http.Request {
	t.Helper()
	msg, err := signature.Canonical(signature.FormatManifest, signature.Message{DataID: id, RequestID: requestID, Timestamp: ts})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(body))
	r.Header.Set("x-signature", "ts="+ts+",v1="+signature.Sign([]byte(secret), msg))
	r.Header.Set("x-request-id", requestID)
	return r
}

func (e *env) do(r *http.Request) (*httptest.ResponseRecorder, ack) {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	var a ack
	_ = json.Unmarshal(w.Body.Bytes(), &a)
	return w, a
}

func TestWebhookApprovedEnrolls(t *testing.T) {
	e := newEnv(t)

	w, a := e.do(signedRequest(t, "123456", mpBody("123456", "approved")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, a.Success)
	assert.True(t, e.store.Enrolled("user-1", "go-101"))

	w, a = e.do(signedRequest(t, "123456", mpBody("123456", "approved")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, a.Success)
	assert.Equal(t, 1, e.store.EnrollmentCount())
}

func TestWebhookReplayWithEditedBodyUsesGatewayStatus(t *testing.T) {
	e := newEnv(t)
	e.api["123456"] = domain.GatewayPayment{ExternalID: "123456", Status: "in_process", AmountCents: cents(4990)}

	w, a := e.do(signedRequest(t, "123456", mpBody("123456", "in_process")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, a.Success)

	// same signed headers, body rewritten to claim approval
	w, a = e.do(signedRequest(t, "123456", mpBody("123456", "approved")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, a.Success)
	assert.False(t, e.store.Enrolled("user-1", "go-101"))

	o, err := e.store.Get(context.Background(), e.order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, o.Status)
}

func TestWebhookAmountCheckedAgainstGateway(t *testing.T) {
	e := newEnv(t)
	e.api["123456"] = domain.GatewayPayment{ExternalID: "123456", Status: "approved", AmountCents: cents(100)}

	w, a := e.do(signedRequest(t, "123456", mpBody("123456", "approved")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, a.Success)
	assert.Zero(t, e.store.EnrollmentCount())

	u, ok := e.store.Unresolved(gateway.MercadoPagoName, "123456")
	require.True(t, ok)
	assert.Equal(t, domain.ReasonAmountMismatch, u.Reason)
}

func TestWebhookBadSignature(t *testing.T) {
	e := newEnv(t)
	r := signedRequest(t, "123456", mpBody("123456", "approved"))
	r.Header.Set("x-signature", "ts="+ts+",v1=deadbeef")

	w, a := e.do(r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, a.Success)
	assert.False(t, e.store.Enrolled("user-1", "go-101"))
}

func TestWebhookSignedForDifferentPayment(t *testing.T) {
	e := newEnv(t)
	r := signedRequest(t, "999", mpBody("123456", "approved"))

	w, _ := e.do(r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, e.store.EnrollmentCount())
}

func TestWebhookUnknownPaymentAcknowledged(t *testing.T) {
	e := newEnv(t)

	w, a := e.do(signedRequest(t, "777", mpBody("777", "approved")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, a.Success)

	u, ok := e.store.Unresolved(gateway.MercadoPagoName, "777")
	require.True(t, ok)
	assert.Equal(t, 1, u.Occurrences)
}

func TestWebhookTransientFailureAsksForRetry(t *testing.T) {
	e := newEnv(t)
	e.store.FailTransition = errors.New("connection refused")

	w, a := e.do(signedRequest(t, "123456", mpBody("123456", "approved")))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, a.Success)

	e.store.FailTransition = nil
	w, _ = e.do(signedRequest(t, "123456", mpBody("123456", "approved")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, e.store.Enrolled("user-1", "go-101"))
}

func TestWebhookMissingSecretFailsClosed(t *testing.T) {
	e := newEnv(t)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"type":"payment_intent.succeeded"}`))
	r.Header.Set("Stripe-Signature", "t=1,v1=abc")

	w, _ := e.do(r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebhookUnknownGateway(t *testing.T) {
	w, _ := newEnv(t).do(httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookIgnoredType(t *testing.T) {
	e := newEnv(t)
	body := `{"action":"created","data":{"id":"123456"},"type":"merchant_order"}`

	w, a := e.do(signedRequest(t, "123456", body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, a.Success)
	assert.Zero(t, e.store.EnrollmentCount())
}

func TestWebhookMalformedBody(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(signedRequest(t, "", `{"type":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookBodyTooLarge(t *testing.T) {
	e := newEnv(t)
	body := `{"pad":"` + strings.Repeat("x", maxWebhookBody) + `"}`
	w, _ := e.do(signedRequest(t, "123456", body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCreateAndGetOrder(t *testing.T) {
	e := newEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"user_id":"u-9","course_id":"rust","gateway":"stripe","amount_cents":2500,"currency":"usd"}`))
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var created orderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "USD", created.Currency)

	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/"+created.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"user_id":"u-9"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	e.do(signedRequest(t, "123456", mpBody("123456", "approved")))

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `webhook_requests_total{gateway="mercadopago",outcome="transitioned"} 1`)
	assert.Contains(t, w.Body.String(), `payment_transitions_total{gateway="mercadopago",status="succeeded"} 1`)
}

func TestHealthUnavailable(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(log, gateway.NewRegistry(), nil, nil, metrics.New(), pinger{err: errors.New("down")})

	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
