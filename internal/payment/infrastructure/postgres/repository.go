package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const orderColumns = `id, user_id, course_id, gateway, COALESCE(external_id, ''), amount_cents, currency, status, created_at, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	var externalID *string
	if o.ExternalID != "" {
		externalID = &o.ExternalID
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO payment_orders (id, user_id, course_id, gateway, external_id, amount_cents, currency, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.UserID, o.CourseID, o.Gateway, externalID, o.AmountCents, o.Currency, o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE id=$1`, id))
}

func (r *Repository) FindByExternalID(ctx context.Context, gateway, externalID string) (domain.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE gateway=$1 AND external_id=$2`, gateway, externalID))
}

// AttachExternalID binds a gateway payment id to a pending order that has none
// yet. A losing concurrent bind reports domain.ErrNotFound.
func (r *Repository) AttachExternalID(ctx context.Context, orderID, gateway, externalID string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `UPDATE payment_orders SET external_id=$3, updated_at=now()
		WHERE id=$1 AND gateway=$2 AND external_id IS NULL AND status='pending'
		RETURNING `+orderColumns, orderID, gateway, externalID))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, err
}

func (r *Repository) Transition(ctx context.Context, t domain.Transition) (domain.TransitionResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.TransitionResult{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	o, err := scanOrder(tx.QueryRow(ctx, `UPDATE payment_orders SET status=$2, updated_at=$3
		WHERE id=$1 AND status='pending'
		RETURNING `+orderColumns, t.OrderID, t.To, t.At))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TransitionResult{}, domain.ErrAlreadyTerminal
	}
	if err != nil {
		return domain.TransitionResult{}, err
	}

	if err := insertOutbox(ctx, tx, t.PaymentEvent); err != nil {
		return domain.TransitionResult{}, err
	}

	res := domain.TransitionResult{Order: o}
	if t.To == domain.StatusSucceeded {
		ct, err := tx.Exec(ctx, `INSERT INTO enrollments (user_id, course_id, source, order_id, enrolled_at)
			VALUES ($1,$2,$3,$4,$5) ON CONFLICT (user_id, course_id) DO NOTHING`,
			o.UserID, o.CourseID, domain.SourcePayment, o.ID, t.At)
		if err != nil {
			return domain.TransitionResult{}, err
		}
		res.EnrollmentCreated = ct.RowsAffected() == 1
		if res.EnrollmentCreated && t.EnrollmentEvent != nil {
			if err := insertOutbox(ctx, tx, *t.EnrollmentEvent); err != nil {
				return domain.TransitionResult{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.TransitionResult{}, err
	}
	return res, nil
}

// RecordUnresolved counts one more occurrence. Amount mismatches are flagged at
// once; unknown payments once they reach reviewThreshold.
func (r *Repository) RecordUnresolved(ctx context.Context, u domain.Unresolved, reviewThreshold int) (domain.Unresolved, error) {
	var out domain.Unresolved
	err := r.pool.QueryRow(ctx, `INSERT INTO unresolved_notifications AS u (gateway, external_id, reason, occurrences, needs_review, last_payload, first_seen_at, last_seen_at)
		VALUES ($1,$2,$3,1, $3 = 'amount_mismatch' OR 1 >= $6, $4,$5,$5)
		ON CONFLICT (gateway, external_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			occurrences = u.occurrences + 1,
			needs_review = u.needs_review OR EXCLUDED.reason = 'amount_mismatch' OR u.occurrences + 1 >= $6,
			last_payload = EXCLUDED.last_payload,
			last_seen_at = EXCLUDED.last_seen_at,
			resolved_at = NULL
		RETURNING gateway, external_id, reason, occurrences, needs_review, last_payload, first_seen_at, last_seen_at, resolved_at`,
		u.Gateway, u.ExternalID, u.Reason, u.LastPayload, u.LastSeenAt, reviewThreshold).
		Scan(&out.Gateway, &out.ExternalID, &out.Reason, &out.Occurrences, &out.NeedsReview, &out.LastPayload, &out.FirstSeenAt, &out.LastSeenAt, &out.ResolvedAt)
	return out, err
}

// ListUnresolved returns open rows, newest first.
func (r *Repository) ListUnresolved(ctx context.Context, reviewOnly bool, limit int) ([]domain.Unresolved, error) {
	rows, err := r.pool.Query(ctx, `SELECT gateway, external_id, reason, occurrences, needs_review, last_payload, first_seen_at, last_seen_at, resolved_at
		FROM unresolved_notifications
		WHERE resolved_at IS NULL AND (needs_review OR NOT $1)
		ORDER BY last_seen_at DESC
		LIMIT $2`, reviewOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Unresolved
	for rows.Next() {
		var u domain.Unresolved
		if err := rows.Scan(&u.Gateway, &u.ExternalID, &u.Reason, &u.Occurrences, &u.NeedsReview, &u.LastPayload, &u.FirstSeenAt, &u.LastSeenAt, &u.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) ResolveUnresolved(ctx context.Context, gateway, externalID string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE unresolved_notifications SET resolved_at=now(), needs_review=FALSE
		WHERE gateway=$1 AND external_id=$2 AND resolved_at IS NULL`, gateway, externalID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) Enrolled(ctx context.Context, userID, courseID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id=$1 AND course_id=$2)`, userID, courseID).Scan(&ok)
	return ok, err
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.CourseID, &o.Gateway, &o.ExternalID, &o.AmountCents, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, m domain.OutboxMessage) error {
	headers := m.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		m.AggregateType, m.AggregateID, m.Type, m.Payload, headers, m.Traceparent)
	return err
}
