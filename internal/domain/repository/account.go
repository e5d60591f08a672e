package repository

import (
	"context"
	"time"
)

// Account representa una identidad local de este deployment.
// El ID es opaco y estable; nunca se reutiliza.
type Account struct {
	ID           string
	Email        string
	PasswordHash *string // nil para cuentas creadas por federación
	Name         *string
	Admin        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountRepository define operaciones sobre cuentas.
//
// Este core nunca borra cuentas; el borrado es una acción administrativa
// externa.
type AccountRepository interface {
	// GetByID busca una cuenta por su identificador.
	// Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByEmail busca una cuenta por email.
	// Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// Create crea una cuenta. passwordHash puede ser nil (cuenta federada).
	// Retorna ErrConflict si el email ya existe.
	Create(ctx context.Context, email string, passwordHash *string) (*Account, error)

	// FindOrCreateByEmail retorna la cuenta con ese email, creándola sin
	// password si no existe. Absorbe la carrera de dos creates concurrentes.
	FindOrCreateByEmail(ctx context.Context, email string) (*Account, error)

	// CheckPassword compara el password contra el hash. No toca la BD.
	CheckPassword(hash *string, password string) bool
}
