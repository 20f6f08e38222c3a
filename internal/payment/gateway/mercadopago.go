package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/internal/payment/signature"
)

const (
	MercadoPagoName = "mercadopago"

	mpSignatureHeader = "x-signature"
	mpRequestIDHeader = "x-request-id"
)

var mercadoPagoStatuses = map[string]domain.Status{
	"approved":     domain.StatusSucceeded,
	"rejected":     domain.StatusFailed,
	"cancelled":    domain.StatusFailed,
	"refunded":     domain.StatusFailed,
	"charged_back": domain.StatusFailed,
	"pending":      domain.StatusPending,
	"in_process":   domain.StatusPending,
	"in_mediation": domain.StatusPending,
	"authorized":   domain.StatusPending,
}

type MercadoPago struct{}

func NewMercadoPago() *MercadoPago { return &MercadoPago{} }

func (*MercadoPago) Name() string { return MercadoPagoName }

func (*MercadoPago) MapStatus(declared string) (domain.Status, bool) {
	s, ok := mercadoPagoStatuses[strings.ToLower(strings.TrimSpace(declared))]
	return s, ok
}

type mpBody struct {
	ID     any    `json:"id"`
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID     any    `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

func parseMPBody(body []byte) (mpBody, error) {
	var b mpBody
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	err := dec.Decode(&b)
	return b, err
}

// ids arrive as strings or as bare JSON numbers depending on the notification version
func idString(v any) string {
	if v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func (*MercadoPago) Extract(r *http.Request, body []byte) (signature.Message, []string, error) {
	ts, sigs := signature.ParseHeader(r.Header.Get(mpSignatureHeader))
	dataID := r.URL.Query().Get("data.id")
	if dataID == "" {
		if b, err := parseMPBody(body); err == nil {
			dataID = idString(b.Data.ID)
		}
	}
	return signature.Message{
		Timestamp: ts,
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: r.Header.Get(mpRequestIDHeader),
		DataID:    dataID,
		Body:      body,
	}, sigs, nil
}

func (*MercadoPago) Decode(r *http.Request, body []byte) (domain.Notification, error) {
	b, err := parseMPBody(body)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}

	kind := b.Type
	if kind == "" {
		kind = b.Topic
	}
	if kind != "payment" {
		return domain.Notification{}, fmt.Errorf("%w: %q", ErrIgnored, kind)
	}

	externalID := idString(b.Data.ID)
	// the query id is the signed one; a body that disagrees with it is not trusted
	if q := r.URL.Query().Get("data.id"); q != "" {
		if externalID != "" && externalID != q {
			return domain.Notification{}, fmt.Errorf("%w: data.id mismatch between query and body", domain.ErrMalformedNotification)
		}
		externalID = q
	}
	if externalID == "" {
		return domain.Notification{}, fmt.Errorf("%w: missing data.id", domain.ErrMalformedNotification)
	}

	ts, _ := signature.ParseHeader(r.Header.Get(mpSignatureHeader))
	eventID := r.Header.Get(mpRequestIDHeader)
	if eventID == "" {
		eventID = idString(b.ID)
	}
	return domain.Notification{
		Gateway:        MercadoPagoName,
		EventID:        eventID,
		Type:           kind,
		Action:         b.Action,
		ExternalID:     externalID,
		DeclaredStatus: b.Data.Status,
		Timestamp:      ts,
		RawBody:        body,
		ReceivedAt:     time.Now().UTC(),
	}, nil
}
