package domain

import "time"

// Notification is a single inbound gateway delivery. It is never persisted as such.
type Notification struct {
	Gateway           string
	EventID           string
	Type              string
	Action            string
	ExternalID        string
	DeclaredStatus    string
	ExternalReference string
	AmountCents       *int64
	Timestamp         string
	RawBody           []byte
	ReceivedAt        time.Time
}

// GatewayPayment is the gateway's own view of a payment, fetched when a
// notification does not carry a status.
type GatewayPayment struct {
	ExternalID        string
	Status            string
	ExternalReference string
	AmountCents       *int64
}

type Outcome string

const (
	OutcomeTransitioned    Outcome = "transitioned"
	OutcomeAlreadyTerminal Outcome = "already_terminal"
	OutcomeStillPending    Outcome = "still_pending"
	OutcomeIgnored         Outcome = "ignored"
)

type Reconciliation struct {
	Outcome           Outcome
	Order             Order
	From              Status
	To                Status
	EnrollmentCreated bool
}

type UnresolvedReason string

const (
	ReasonUnknownPayment UnresolvedReason = "unknown_payment"
	ReasonAmountMismatch UnresolvedReason = "amount_mismatch"
)

type Unresolved struct {
	Gateway     string
	ExternalID  string
	Reason      UnresolvedReason
	Occurrences int
	NeedsReview bool
	LastPayload []byte
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	ResolvedAt  *time.Time
}
