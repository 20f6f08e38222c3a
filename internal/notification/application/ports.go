package application

import (
	"context"

	"github.com/dmehra2102/course-payments/internal/notification/domain"
)

// Repository.Save reports false when a notification with the same dedupe key
// already exists.
type Repository interface {
	Save(ctx context.Context, n domain.Notification) (bool, error)
}
