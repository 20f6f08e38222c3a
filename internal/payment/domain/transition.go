package domain

import "time"

// OutboxMessage is an event written in the same transaction as the state change.
type OutboxMessage struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
}

// Transition moves an order out of pending. PaymentEvent is always written;
// EnrollmentEvent only when the enrollment row was actually inserted.
type Transition struct {
	OrderID         string
	To              Status
	At              time.Time
	PaymentEvent    OutboxMessage
	EnrollmentEvent *OutboxMessage
}

type TransitionResult struct {
	Order             Order
	EnrollmentCreated bool
}
