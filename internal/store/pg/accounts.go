package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
)

type accountRepo struct {
	pool *pgxpool.Pool
}

// NewAccountRepository crea el repositorio de cuentas sobre PostgreSQL.
func NewAccountRepository(pool *pgxpool.Pool) repository.AccountRepository {
	return &accountRepo{pool: pool}
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*repository.Account, error) {
	const query = `
		SELECT uid, email, password_hash, name, admin, created_at, updated_at
		FROM accounts
		WHERE uid = $1`

	var acc repository.Account
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&acc.ID, &acc.Email, &acc.PasswordHash, &acc.Name, &acc.Admin, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: get account by id: %w", err)
	}
	return &acc, nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*repository.Account, error) {
	const query = `
		SELECT uid, email, password_hash, name, admin, created_at, updated_at
		FROM accounts
		WHERE lower(email) = lower($1)`

	var acc repository.Account
	err := r.pool.QueryRow(ctx, query, strings.TrimSpace(email)).Scan(
		&acc.ID, &acc.Email, &acc.PasswordHash, &acc.Name, &acc.Admin, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pg: get account by email: %w", err)
	}
	return &acc, nil
}

func (r *accountRepo) Create(ctx context.Context, email string, passwordHash *string) (*repository.Account, error) {
	const query = `
		INSERT INTO accounts (email, password_hash)
		VALUES ($1, $2)
		RETURNING uid, email, password_hash, name, admin, created_at, updated_at`

	var acc repository.Account
	err := r.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email)), passwordHash).Scan(
		&acc.ID, &acc.Email, &acc.PasswordHash, &acc.Name, &acc.Admin, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("pg: create account: %w", err)
	}
	return &acc, nil
}

// FindOrCreateByEmail es idempotente: si otro proceso gana la carrera del
// INSERT, re-lee la fila ganadora.
func (r *accountRepo) FindOrCreateByEmail(ctx context.Context, email string) (*repository.Account, error) {
	acc, err := r.GetByEmail(ctx, email)
	if err == nil {
		return acc, nil
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}

	acc, err = r.Create(ctx, email, nil)
	if err == nil {
		return acc, nil
	}
	if repository.IsConflict(err) {
		return r.GetByEmail(ctx, email)
	}
	return nil, err
}

func (r *accountRepo) CheckPassword(hash *string, password string) bool {
	if hash == nil || *hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(password)) == nil
}
