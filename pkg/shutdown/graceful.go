package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// Drain runs each closer with a shared deadline after ctx is done. Closers run
// in order so that servers stop accepting before their dependencies close.
func Drain(log *slog.Logger, timeout time.Duration, closers ...func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for i, c := range closers {
		if err := c(ctx); err != nil {
			log.Error("shutdown step failed", "step", i, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
