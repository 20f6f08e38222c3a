package domain

import "time"

type EnrollmentSource string

const (
	SourcePayment EnrollmentSource = "payment"
	SourceAdmin   EnrollmentSource = "admin"
)

type Enrollment struct {
	UserID     string
	CourseID   string
	Source     EnrollmentSource
	OrderID    string
	EnrolledAt time.Time
}
