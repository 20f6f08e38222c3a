//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/course-payments/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*pgxpool.Pool, *postgres.Repository) {
	pool := testutil.Postgres(t)
	require.NoError(t, postgres.Migrate(context.Background(), pool))
	require.NoError(t, postgres.Migrate(context.Background(), pool))
	return pool, postgres.NewRepository(slog.New(slog.NewTextHandler(io.Discard, nil)), pool)
}

func succeeded(o domain.Order) domain.Transition {
	at := time.Now().UTC()
	return domain.Transition{
		OrderID:         o.ID,
		To:              domain.StatusSucceeded,
		At:              at,
		PaymentEvent:    domain.OutboxMessage{AggregateType: "payment", AggregateID: o.ID, Type: domain.EventPaymentSucceeded, Payload: []byte(`{}`)},
		EnrollmentEvent: &domain.OutboxMessage{AggregateType: "enrollment", AggregateID: o.UserID, Type: domain.EventEnrollmentGranted, Payload: []byte(`{}`)},
	}
}

func TestConcurrentTransitionsEnrollOnce(t *testing.T) {
	pool, repo := setup(t)
	ctx := context.Background()

	o := domain.NewOrder("user-1", "course-1", "mercadopago", 4990, "BRL")
	o.ExternalID = "123456"
	require.NoError(t, repo.Create(ctx, o))

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		terminal int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Transition(ctx, succeeded(o))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, domain.ErrAlreadyTerminal):
				terminal++
			default:
				t.Errorf("unexpected transition error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, n-1, terminal)

	var enrollments, events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM enrollments WHERE user_id='user-1' AND course_id='course-1'`).Scan(&enrollments))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox`).Scan(&events))
	assert.Equal(t, 1, enrollments)
	assert.Equal(t, 2, events)

	got, err := repo.FindByExternalID(ctx, "mercadopago", "123456")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)
}

func TestExistingEnrollmentIsNotDuplicated(t *testing.T) {
	pool, repo := setup(t)
	ctx := context.Background()

	first := domain.NewOrder("user-2", "course-9", "stripe", 1000, "USD")
	second := domain.NewOrder("user-2", "course-9", "stripe", 1000, "USD")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	res, err := repo.Transition(ctx, succeeded(first))
	require.NoError(t, err)
	assert.True(t, res.EnrollmentCreated)

	res, err = repo.Transition(ctx, succeeded(second))
	require.NoError(t, err)
	assert.False(t, res.EnrollmentCreated)

	var granted int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE type=$1`, domain.EventEnrollmentGranted).Scan(&granted))
	assert.Equal(t, 1, granted)
}

func TestAttachExternalIDOnlyOnce(t *testing.T) {
	_, repo := setup(t)
	ctx := context.Background()

	o := domain.NewOrder("user-3", "course-1", "mercadopago", 2500, "BRL")
	require.NoError(t, repo.Create(ctx, o))

	got, err := repo.AttachExternalID(ctx, o.ID, "mercadopago", "777")
	require.NoError(t, err)
	assert.Equal(t, "777", got.ExternalID)

	_, err = repo.AttachExternalID(ctx, o.ID, "mercadopago", "888")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.AttachExternalID(ctx, "no-such-order", "mercadopago", "999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordUnresolvedFlagsAtThreshold(t *testing.T) {
	_, repo := setup(t)
	ctx := context.Background()

	u := domain.Unresolved{Gateway: "mercadopago", ExternalID: "404", Reason: domain.ReasonUnknownPayment, LastPayload: []byte(`{}`), LastSeenAt: time.Now().UTC()}
	for i := 1; i <= 3; i++ {
		got, err := repo.RecordUnresolved(ctx, u, 3)
		require.NoError(t, err)
		assert.Equal(t, i, got.Occurrences)
		assert.Equal(t, i >= 3, got.NeedsReview)
	}

	open, err := repo.ListUnresolved(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, repo.ResolveUnresolved(ctx, "mercadopago", "404"))
	assert.ErrorIs(t, repo.ResolveUnresolved(ctx, "mercadopago", "404"), domain.ErrNotFound)

	mismatch, err := repo.RecordUnresolved(ctx, domain.Unresolved{Gateway: "stripe", ExternalID: "pi_1", Reason: domain.ReasonAmountMismatch, LastSeenAt: time.Now().UTC()}, 3)
	require.NoError(t, err)
	assert.True(t, mismatch.NeedsReview)
}

func TestOutboxLeaseAndRetry(t *testing.T) {
	pool, repo := setup(t)
	ctx := context.Background()
	store := postgres.NewOutboxStore(slog.New(slog.NewTextHandler(io.Discard, nil)), pool)

	o := domain.NewOrder("user-4", "course-1", "stripe", 1000, "USD")
	require.NoError(t, repo.Create(ctx, o))
	_, err := repo.Transition(ctx, succeeded(o))
	require.NoError(t, err)

	batch, err := store.LockBatch(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	other, err := store.LockBatch(ctx, "relay-b", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.MarkFailed(ctx, batch[0].ID, "broker down", 2))
	require.NoError(t, store.MarkSent(ctx, []int64{batch[1].ID}))

	again, err := store.LockBatch(ctx, "relay-b", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, batch[0].ID, again[0].ID)
	assert.Equal(t, 1, again[0].RetryCount)

	require.NoError(t, store.MarkFailed(ctx, again[0].ID, "broker down", 2))
	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM outbox WHERE id=$1`, again[0].ID).Scan(&status))
	assert.Equal(t, "failed", status)
}
