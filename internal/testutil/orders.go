package testutil

import (
	"context"
	"sync"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
)

// OrderStore is an in-memory order repository with the same conditional-write
// semantics as the postgres one. The Fail* fields inject errors.
type OrderStore struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	enrollments map[string]domain.Enrollment
	unresolved  map[string]domain.Unresolved
	outbox      []domain.OutboxMessage

	FailFind       error
	FailTransition error
	FailRecord     error
}

func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:      make(map[string]domain.Order),
		enrollments: make(map[string]domain.Enrollment),
		unresolved:  make(map[string]domain.Unresolved),
	}
}

func (s *OrderStore) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *OrderStore) FindByExternalID(_ context.Context, gateway, externalID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFind != nil {
		return domain.Order{}, s.FailFind
	}
	for _, o := range s.orders {
		if o.Gateway == gateway && o.ExternalID == externalID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (s *OrderStore) AttachExternalID(_ context.Context, orderID, gateway, externalID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Gateway != gateway || o.ExternalID != "" || o.Status != domain.StatusPending {
		return domain.Order{}, domain.ErrNotFound
	}
	for _, other := range s.orders {
		if other.Gateway == gateway && other.ExternalID == externalID {
			return domain.Order{}, domain.ErrNotFound
		}
	}
	o.ExternalID = externalID
	s.orders[orderID] = o
	return o, nil
}

func (s *OrderStore) Transition(_ context.Context, t domain.Transition) (domain.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTransition != nil {
		return domain.TransitionResult{}, s.FailTransition
	}
	o, ok := s.orders[t.OrderID]
	if !ok || o.Status != domain.StatusPending {
		return domain.TransitionResult{}, domain.ErrAlreadyTerminal
	}
	o.Status = t.To
	o.UpdatedAt = t.At
	s.orders[o.ID] = o
	s.outbox = append(s.outbox, t.PaymentEvent)

	res := domain.TransitionResult{Order: o}
	if t.To == domain.StatusSucceeded {
		key := o.UserID + "/" + o.CourseID
		if _, exists := s.enrollments[key]; !exists {
			s.enrollments[key] = domain.Enrollment{UserID: o.UserID, CourseID: o.CourseID, Source: domain.SourcePayment, OrderID: o.ID, EnrolledAt: t.At}
			res.EnrollmentCreated = true
			if t.EnrollmentEvent != nil {
				s.outbox = append(s.outbox, *t.EnrollmentEvent)
			}
		}
	}
	return res, nil
}

func (s *OrderStore) RecordUnresolved(_ context.Context, u domain.Unresolved, reviewThreshold int) (domain.Unresolved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRecord != nil {
		return domain.Unresolved{}, s.FailRecord
	}
	key := u.Gateway + "/" + u.ExternalID
	prev, ok := s.unresolved[key]
	if ok {
		u.FirstSeenAt = prev.FirstSeenAt
		u.Occurrences = prev.Occurrences + 1
		u.NeedsReview = prev.NeedsReview
	} else {
		u.Occurrences = 1
	}
	u.ResolvedAt = nil
	u.NeedsReview = u.NeedsReview || u.Reason == domain.ReasonAmountMismatch || u.Occurrences >= reviewThreshold
	s.unresolved[key] = u
	return u, nil
}

// Seed stores an order bypassing Create.
func (s *OrderStore) Seed(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *OrderStore) Enrolled(userID, courseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.enrollments[userID+"/"+courseID]
	return ok
}

func (s *OrderStore) EnrollmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enrollments)
}

func (s *OrderStore) Outbox() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxMessage(nil), s.outbox...)
}

func (s *OrderStore) Unresolved(gateway, externalID string) (domain.Unresolved, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.unresolved[gateway+"/"+externalID]
	return u, ok
}
