package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
)

var ErrInvalidCheckout = errors.New("invalid checkout")

type CheckoutRequest struct {
	UserID      string
	CourseID    string
	Gateway     string
	AmountCents int64
	Currency    string
}

// CheckoutService registers the pending order that a later webhook settles.
type CheckoutService struct {
	repo     OrderRepository
	gateways map[string]struct{}
}

func NewCheckoutService(repo OrderRepository, gateways ...string) *CheckoutService {
	set := make(map[string]struct{}, len(gateways))
	for _, g := range gateways {
		set[g] = struct{}{}
	}
	return &CheckoutService{repo: repo, gateways: set}
}

func (s *CheckoutService) Create(ctx context.Context, req CheckoutRequest) (domain.Order, error) {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return domain.Order{}, fmt.Errorf("%w: user_id is required", ErrInvalidCheckout)
	case strings.TrimSpace(req.CourseID) == "":
		return domain.Order{}, fmt.Errorf("%w: course_id is required", ErrInvalidCheckout)
	case req.AmountCents <= 0:
		return domain.Order{}, fmt.Errorf("%w: amount_cents must be positive", ErrInvalidCheckout)
	case len(req.Currency) != 3:
		return domain.Order{}, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidCheckout)
	}
	if _, ok := s.gateways[req.Gateway]; !ok {
		return domain.Order{}, fmt.Errorf("%w: unknown gateway %q", ErrInvalidCheckout, req.Gateway)
	}

	o := domain.NewOrder(req.UserID, req.CourseID, req.Gateway, req.AmountCents, strings.ToUpper(req.Currency))
	if err := s.repo.Create(ctx, o); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (s *CheckoutService) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}
