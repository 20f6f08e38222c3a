package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition may be applied.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

type Order struct {
	ID          string
	UserID      string
	CourseID    string
	Gateway     string
	ExternalID  string
	AmountCents int64
	Currency    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewOrder(userID, courseID, gateway string, amountCents int64, currency string) Order {
	now := time.Now().UTC()
	return Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		CourseID:    courseID,
		Gateway:     gateway,
		AmountCents: amountCents,
		Currency:    currency,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
