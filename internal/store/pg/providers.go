package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
)

type providerRepo struct {
	pool *pgxpool.Pool
}

// NewUpstreamProviderRepository crea el repositorio de proveedores upstream.
func NewUpstreamProviderRepository(pool *pgxpool.Pool) repository.UpstreamProviderRepository {
	return &providerRepo{pool: pool}
}

const providerColumns = `
	id, name, display_name, provider_type, client_id, client_secret,
	discovery_url, authorization_url, token_url, userinfo_url,
	scopes, icon_url, button_color, enabled, sort_order, created_at, updated_at`

func scanProvider(row pgx.Row) (*repository.UpstreamProvider, error) {
	var p repository.UpstreamProvider
	err := row.Scan(
		&p.ID, &p.Name, &p.DisplayName, &p.Type, &p.ClientID, &p.ClientSecret,
		&p.DiscoveryURL, &p.AuthorizationURL, &p.TokenURL, &p.UserinfoURL,
		&p.Scopes, &p.IconURL, &p.ButtonColor, &p.Enabled, &p.SortOrder,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *providerRepo) ListEnabled(ctx context.Context) ([]repository.UpstreamProvider, error) {
	const query = `
		SELECT` + providerColumns + `
		FROM upstream_providers
		WHERE enabled = true
		ORDER BY sort_order ASC, display_name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pg: list enabled providers: %w", err)
	}
	defer rows.Close()

	var out []repository.UpstreamProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan provider: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list enabled providers: %w", err)
	}
	return out, nil
}

func (r *providerRepo) GetEnabled(ctx context.Context, name string) (*repository.UpstreamProvider, error) {
	const query = `
		SELECT` + providerColumns + `
		FROM upstream_providers
		WHERE name = $1 AND enabled = true`

	p, err := scanProvider(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: get enabled provider: %w", err)
	}
	return p, nil
}
