package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/pkg/circuitbreaker"
)

const DefaultBaseURL = "https://api.mercadopago.com"

var hundred = decimal.NewFromInt(100)

// Client reads payment state back from the Mercado Pago API for notifications
// whose body is not covered by the signature.
type Client struct {
	payments payment.Client
	breaker  *circuitbreaker.Breaker
	cfgErr   error
}

// NewClient builds the SDK client. baseURL only needs setting for sandboxes
// and tests; requests are rewritten to it before they leave the process.
func NewClient(baseURL, accessToken string) *Client {
	c := &Client{
		breaker: circuitbreaker.New("mercadopago", 5, 30*time.Second, func(err error) bool {
			return errors.Is(err, domain.ErrUnknownPayment)
		}),
	}
	if accessToken == "" {
		c.cfgErr = fmt.Errorf("%w: mercadopago access token not set", domain.ErrConfiguration)
		return c
	}

	rt, err := newRequester(baseURL, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		c.cfgErr = fmt.Errorf("%w: mercadopago api base: %v", domain.ErrConfiguration, err)
		return c
	}
	cfg, err := config.New(accessToken, config.WithHTTPClient(rt))
	if err != nil {
		c.cfgErr = fmt.Errorf("%w: mercadopago sdk: %v", domain.ErrConfiguration, err)
		return c
	}
	c.payments = payment.NewClient(cfg)
	return c
}

func (c *Client) FetchPayment(ctx context.Context, externalID string) (domain.GatewayPayment, error) {
	if c.cfgErr != nil {
		return domain.GatewayPayment{}, c.cfgErr
	}
	// payment ids are numeric; anything else cannot exist on the gateway
	id, err := strconv.Atoi(strings.TrimSpace(externalID))
	if err != nil {
		return domain.GatewayPayment{}, fmt.Errorf("%w: mercadopago payment id %q", domain.ErrUnknownPayment, externalID)
	}

	var out domain.GatewayPayment
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		p, err := c.get(ctx, id)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (c *Client) get(ctx context.Context, id int) (domain.GatewayPayment, error) {
	p, err := c.payments.Get(ctx, id)
	if err != nil {
		var rerr *mperror.ResponseError
		if errors.As(err, &rerr) && rerr.StatusCode == http.StatusNotFound {
			return domain.GatewayPayment{}, fmt.Errorf("%w: mercadopago payment %d", domain.ErrUnknownPayment, id)
		}
		return domain.GatewayPayment{}, fmt.Errorf("mercadopago get payment %d: %w", id, err)
	}

	gp := domain.GatewayPayment{
		ExternalID:        strconv.Itoa(id),
		Status:            p.Status,
		ExternalReference: p.ExternalReference,
	}
	if p.ID != 0 {
		gp.ExternalID = strconv.Itoa(p.ID)
	}
	if amount := decimal.NewFromFloat(p.TransactionAmount); amount.IsPositive() {
		cents := amount.Mul(hundred).Round(0).IntPart()
		gp.AmountCents = &cents
	}
	return gp, nil
}

// requester points SDK calls at a different API host.
type requester struct {
	base *url.URL
	next *http.Client
}

func newRequester(baseURL string, next *http.Client) (*requester, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", baseURL)
	}
	return &requester{base: u, next: next}, nil
}

func (r *requester) Do(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = r.base.Scheme
	req.URL.Host = r.base.Host
	req.Host = r.base.Host
	return r.next.Do(req)
}
