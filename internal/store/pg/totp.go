package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
)

type totpRepo struct {
	pool *pgxpool.Pool
}

// NewTotpSecretRepository crea el repositorio de secretos TOTP.
func NewTotpSecretRepository(pool *pgxpool.Pool) repository.TotpSecretRepository {
	return &totpRepo{pool: pool}
}

func (r *totpRepo) Get(ctx context.Context, accountID string) (*repository.TotpSecret, error) {
	const query = `
		SELECT account_uid, secret, created_at
		FROM totp_secrets
		WHERE account_uid = $1`

	var s repository.TotpSecret
	err := r.pool.QueryRow(ctx, query, accountID).Scan(&s.AccountID, &s.Secret, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: get totp secret: %w", err)
	}
	return &s, nil
}

func (r *totpRepo) Create(ctx context.Context, accountID, secret string) error {
	const query = `
		INSERT INTO totp_secrets (account_uid, secret)
		VALUES ($1, $2)`

	if _, err := r.pool.Exec(ctx, query, accountID, secret); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("pg: create totp secret: %w", err)
	}
	return nil
}
