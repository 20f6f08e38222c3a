package application

import (
	"context"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
)

// OrderRepository returns domain.ErrNotFound for missing rows and
// domain.ErrAlreadyTerminal when a Transition finds the order no longer pending.
type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	FindByExternalID(ctx context.Context, gateway, externalID string) (domain.Order, error)
	AttachExternalID(ctx context.Context, orderID, gateway, externalID string) (domain.Order, error)
	Transition(ctx context.Context, t domain.Transition) (domain.TransitionResult, error)
	RecordUnresolved(ctx context.Context, u domain.Unresolved, reviewThreshold int) (domain.Unresolved, error)
}

type PaymentFetcher interface {
	FetchPayment(ctx context.Context, externalID string) (domain.GatewayPayment, error)
}

type StatusMapper interface {
	MapStatus(declared string) (domain.Status, bool)
}
