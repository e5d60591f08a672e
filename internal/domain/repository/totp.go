package repository

import (
	"context"
	"time"
)

// TotpSecret es el secreto compartido TOTP de una cuenta.
// Exactamente uno por cuenta; nunca se rota una vez creado.
type TotpSecret struct {
	AccountID string
	Secret    string // base32 sin padding
	CreatedAt time.Time
}

// TotpSecretRepository define operaciones sobre secretos TOTP.
type TotpSecretRepository interface {
	// Get obtiene el secreto de una cuenta.
	// Retorna ErrNotFound si no está enrolada.
	Get(ctx context.Context, accountID string) (*TotpSecret, error)

	// Create persiste el secreto de una cuenta.
	// Retorna ErrConflict si ya existe: el caller debe releer y usar el
	// secreto ganador (enrollment idempotente).
	Create(ctx context.Context, accountID, secret string) error
}
