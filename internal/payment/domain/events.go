package domain

import "time"

const (
	EventPaymentSucceeded  = "PaymentSucceeded"
	EventPaymentFailed     = "PaymentFailed"
	EventEnrollmentGranted = "EnrollmentGranted"
)

type PaymentSucceeded struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	CourseID    string    `json:"course_id"`
	Gateway     string    `json:"gateway"`
	ExternalID  string    `json:"external_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	At          time.Time `json:"at"`
}

type PaymentFailed struct {
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	CourseID       string    `json:"course_id"`
	Gateway        string    `json:"gateway"`
	ExternalID     string    `json:"external_id"`
	DeclaredStatus string    `json:"declared_status"`
	At             time.Time `json:"at"`
}

type EnrollmentGranted struct {
	OrderID  string    `json:"order_id"`
	UserID   string    `json:"user_id"`
	CourseID string    `json:"course_id"`
	At       time.Time `json:"at"`
}
