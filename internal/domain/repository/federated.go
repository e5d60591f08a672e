package repository

import (
	"context"
	"time"
)

// FederatedIdentity vincula el subject de un upstream provider con
// exactamente una cuenta local. El par (provider, subject) es único.
type FederatedIdentity struct {
	ID            string
	AccountID     string
	ProviderName  string
	ProviderSub   string
	ProviderEmail string
	Claims        map[string]any
	// Verified pasa de false a true exactamente una vez, cuando el dueño
	// de la cuenta prueba ownership. Un link no verificado es inerte para
	// login.
	Verified   bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateFederatedIdentityInput datos para crear un link federado.
type CreateFederatedIdentityInput struct {
	AccountID     string
	ProviderName  string
	ProviderSub   string
	ProviderEmail string
	Claims        map[string]any
	Verified      bool
}

// FederatedIdentityRepository define operaciones sobre links federados.
type FederatedIdentityRepository interface {
	// GetByProviderSubject busca el link por (provider, subject).
	// Retorna ErrNotFound si no existe.
	GetByProviderSubject(ctx context.Context, provider, subject string) (*FederatedIdentity, error)

	// ListByAccount lista los links de una cuenta.
	ListByAccount(ctx context.Context, accountID string) ([]FederatedIdentity, error)

	// Create inserta un link nuevo.
	// Retorna ErrConflict si (provider, subject) ya existe: el caller debe
	// releer y seguir por el camino de link conocido.
	Create(ctx context.Context, input CreateFederatedIdentityInput) (*FederatedIdentity, error)

	// Touch actualiza last_used_at y el snapshot de claims de un link.
	Touch(ctx context.Context, id string, claims map[string]any) error

	// Verify marca verified=true para el link (accountID, provider, subject).
	// Retorna ErrNotFound si no existe un link con ese triple.
	Verify(ctx context.Context, accountID, provider, subject string) error
}
