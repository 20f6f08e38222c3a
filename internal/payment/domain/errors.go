package domain

import "errors"

var (
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrUnknownPayment        = errors.New("unknown payment")
	ErrAlreadyTerminal       = errors.New("payment already in terminal status")
	ErrTransientStorage      = errors.New("transient storage failure")
	ErrConfiguration         = errors.New("webhook configuration error")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrAmountMismatch        = errors.New("declared amount does not match order")
	ErrNotFound              = errors.New("not found")
)
