package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
)

type federatedRepo struct {
	pool *pgxpool.Pool
}

// NewFederatedIdentityRepository crea el repositorio de identidades federadas.
func NewFederatedIdentityRepository(pool *pgxpool.Pool) repository.FederatedIdentityRepository {
	return &federatedRepo{pool: pool}
}

const federatedColumns = `
	id, account_uid, provider_name, provider_subject, provider_email,
	claims, verified, last_used_at, created_at, updated_at`

func scanFederated(row pgx.Row) (*repository.FederatedIdentity, error) {
	var fi repository.FederatedIdentity
	err := row.Scan(
		&fi.ID, &fi.AccountID, &fi.ProviderName, &fi.ProviderSub, &fi.ProviderEmail,
		&fi.Claims, &fi.Verified, &fi.LastUsedAt, &fi.CreatedAt, &fi.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &fi, nil
}

func (r *federatedRepo) GetByProviderSubject(ctx context.Context, providerName, providerSub string) (*repository.FederatedIdentity, error) {
	const query = `
		SELECT` + federatedColumns + `
		FROM federated_identities
		WHERE provider_name = $1 AND provider_subject = $2`

	fi, err := scanFederated(r.pool.QueryRow(ctx, query, providerName, providerSub))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: get federated identity: %w", err)
	}
	return fi, nil
}

func (r *federatedRepo) ListByAccount(ctx context.Context, accountID string) ([]repository.FederatedIdentity, error) {
	const query = `
		SELECT` + federatedColumns + `
		FROM federated_identities
		WHERE account_uid = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("pg: list federated identities: %w", err)
	}
	defer rows.Close()

	var out []repository.FederatedIdentity
	for rows.Next() {
		fi, err := scanFederated(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan federated identity: %w", err)
		}
		out = append(out, *fi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list federated identities: %w", err)
	}
	return out, nil
}

func (r *federatedRepo) Create(ctx context.Context, in repository.CreateFederatedIdentityInput) (*repository.FederatedIdentity, error) {
	const query = `
		INSERT INTO federated_identities
			(account_uid, provider_name, provider_subject, provider_email, claims, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING` + federatedColumns

	fi, err := scanFederated(r.pool.QueryRow(ctx, query,
		in.AccountID, in.ProviderName, in.ProviderSub, in.ProviderEmail, in.Claims, in.Verified,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("pg: create federated identity: %w", err)
	}
	return fi, nil
}

func (r *federatedRepo) Touch(ctx context.Context, id string, claims map[string]any) error {
	const query = `
		UPDATE federated_identities
		SET claims = COALESCE($2, claims), last_used_at = now(), updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, claims)
	if err != nil {
		return fmt.Errorf("pg: touch federated identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *federatedRepo) Verify(ctx context.Context, accountID, providerName, providerSub string) error {
	const query = `
		UPDATE federated_identities
		SET verified = true, updated_at = now()
		WHERE account_uid = $1 AND provider_name = $2 AND provider_subject = $3`

	tag, err := r.pool.Exec(ctx, query, accountID, providerName, providerSub)
	if err != nil {
		return fmt.Errorf("pg: verify federated identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
