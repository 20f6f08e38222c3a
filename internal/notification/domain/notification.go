package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindEnrollmentGranted Kind = "enrollment_granted"
	KindPaymentFailed     Kind = "payment_failed"
)

// Notification is a message queued for a student. DedupeKey is unique, so a
// redelivered event never produces a second notification.
type Notification struct {
	ID        string
	DedupeKey string
	Kind      Kind
	UserID    string
	CourseID  string
	OrderID   string
	Subject   string
	Body      string
	CreatedAt time.Time
}

func NewEnrollmentGranted(dedupeKey, userID, courseID, orderID string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		DedupeKey: dedupeKey,
		Kind:      KindEnrollmentGranted,
		UserID:    userID,
		CourseID:  courseID,
		OrderID:   orderID,
		Subject:   "You are enrolled",
		Body:      fmt.Sprintf("Your payment was confirmed and you now have access to course %s.", courseID),
		CreatedAt: time.Now().UTC(),
	}
}

func NewPaymentFailed(dedupeKey, userID, courseID, orderID, reason string) Notification {
	body := fmt.Sprintf("We could not confirm your payment for course %s.", courseID)
	if reason != "" {
		body += fmt.Sprintf(" The gateway reported: %s.", reason)
	}
	return Notification{
		ID:        uuid.NewString(),
		DedupeKey: dedupeKey,
		Kind:      KindPaymentFailed,
		UserID:    userID,
		CourseID:  courseID,
		OrderID:   orderID,
		Subject:   "Payment not completed",
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}
