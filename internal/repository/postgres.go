package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/devhub/internal/domain"
)

var _ UserRepository = (*PostgresUserRepo)(nil)

const uniqueViolation = "23505"

const userColumns = `id, email, has_purchased_devhub, subscription_status, created_at, updated_at`

// PostgresUserRepo implements UserRepository against the users table directly.
type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (domain.UserRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	rec, err := scanUser(row)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("get user %s: %w", id, mapPgError(err))
	}
	return rec, nil
}

func (r *PostgresUserRepo) CreateDefault(ctx context.Context, rec domain.UserRecord) (domain.UserRecord, bool, error) {
	const insertSQL = `INSERT INTO users (id, email, has_purchased_devhub, subscription_status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING
RETURNING ` + userColumns

	row := r.pool.QueryRow(ctx, insertSQL,
		rec.ID,
		rec.Email,
		rec.HasPurchased,
		string(rec.SubscriptionStatus.OrDefault()),
	)
	created, err := scanUser(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.UserRecord{}, false, fmt.Errorf("create user %s: %w", rec.ID, mapPgError(err))
	}

	// Another request inserted the row between our lookup and insert.
	existing, err := r.GetByID(ctx, rec.ID)
	if err != nil {
		return domain.UserRecord{}, false, err
	}
	return existing, false, nil
}

func (r *PostgresUserRepo) GrantPurchase(ctx context.Context, id, email string, at time.Time) (domain.UserRecord, bool, error) {
	const upsertSQL = `INSERT INTO users (id, email, has_purchased_devhub, subscription_status, updated_at)
VALUES ($1, $2, TRUE, 'active', $3)
ON CONFLICT (id) DO UPDATE SET
	has_purchased_devhub = TRUE,
	subscription_status = 'active',
	updated_at = EXCLUDED.updated_at,
	email = CASE WHEN users.email = '' THEN EXCLUDED.email ELSE users.email END
RETURNING ` + userColumns + `, (xmax = 0) AS inserted`

	var (
		rec      domain.UserRecord
		status   string
		inserted bool
	)
	err := r.pool.QueryRow(ctx, upsertSQL, id, email, at.UTC()).Scan(
		&rec.ID,
		&rec.Email,
		&rec.HasPurchased,
		&status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return domain.UserRecord{}, false, fmt.Errorf("grant purchase %s: %w", id, mapPgError(err))
	}
	rec.SubscriptionStatus = domain.SubscriptionStatus(status)
	return rec, inserted, nil
}

func scanUser(row pgx.Row) (domain.UserRecord, error) {
	var (
		rec    domain.UserRecord
		status string
	)
	if err := row.Scan(&rec.ID, &rec.Email, &rec.HasPurchased, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return domain.UserRecord{}, err
	}
	rec.SubscriptionStatus = domain.SubscriptionStatus(status)
	return rec, nil
}

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
