package postgres

import (
	"context"
	_ "embed"
	"log/slog"

	"github.com/dmehra2102/course-payments/internal/notification/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Save(ctx context.Context, n domain.Notification) (bool, error) {
	ct, err := r.pool.Exec(ctx, `INSERT INTO notifications (id, dedupe_key, kind, user_id, course_id, order_id, subject, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		n.ID, n.DedupeKey, n.Kind, n.UserID, n.CourseID, n.OrderID, n.Subject, n.Body, n.CreatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repository) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, dedupe_key, kind, user_id, course_id, order_id, subject, body, created_at
		FROM notifications WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.DedupeKey, &n.Kind, &n.UserID, &n.CourseID, &n.OrderID, &n.Subject, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
