package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/course-payments/internal/notification/domain"
	paymentdomain "github.com/dmehra2102/course-payments/internal/payment/domain"
)

// ErrUndecodable marks events that will never be processable; they are skipped
// rather than retried.
var ErrUndecodable = errors.New("undecodable event")

type Service struct {
	log  *slog.Logger
	repo Repository
}

func NewService(log *slog.Logger, repo Repository) *Service {
	return &Service{log: log, repo: repo}
}

// Handle turns a payment event into a student notification. Event types that
// do not concern students are skipped.
func (s *Service) Handle(ctx context.Context, eventType, eventID string, payload []byte) error {
	var n domain.Notification
	switch eventType {
	case paymentdomain.EventEnrollmentGranted:
		var ev paymentdomain.EnrollmentGranted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUndecodable, eventType, err)
		}
		n = domain.NewEnrollmentGranted(dedupeKey(eventType, ev.OrderID, eventID), ev.UserID, ev.CourseID, ev.OrderID)
	case paymentdomain.EventPaymentFailed:
		var ev paymentdomain.PaymentFailed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUndecodable, eventType, err)
		}
		n = domain.NewPaymentFailed(dedupeKey(eventType, ev.OrderID, eventID), ev.UserID, ev.CourseID, ev.OrderID, ev.DeclaredStatus)
	default:
		s.log.Debug("event skipped", "event_type", eventType, "event_id", eventID)
		return nil
	}

	created, err := s.repo.Save(ctx, n)
	if err != nil {
		return err
	}
	if !created {
		s.log.Info("duplicate notification skipped", "dedupe_key", n.DedupeKey)
		return nil
	}
	s.log.Info("notification queued", "kind", n.Kind, "user_id", n.UserID, "order_id", n.OrderID)
	return nil
}

// An order produces at most one event of each type, so the order id is a
// stable key across outbox re-sends that carry the same payload.
func dedupeKey(eventType, orderID, eventID string) string {
	if orderID == "" {
		return eventType + ":event:" + eventID
	}
	return eventType + ":" + orderID
}
