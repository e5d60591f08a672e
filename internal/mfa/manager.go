// Package mfa gestiona el ciclo de vida del segundo factor TOTP por cuenta:
// enrolamiento idempotente, verificación de códigos y consulta de estado.
package mfa

import (
	"context"
	"time"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
	"github.com/dropDatabas3/idbridge/internal/metrics"
	"github.com/dropDatabas3/idbridge/internal/observability/logger"
	"github.com/dropDatabas3/idbridge/internal/security/totp"
)

// Manager coordina secretos TOTP contra el repositorio persistente.
type Manager struct {
	repo       repository.TotpSecretRepository
	issuerName string
	now        func() time.Time
}

// NewManager crea el gestor de segundo factor. issuerName es el nombre que
// verá el usuario en su app autenticadora.
func NewManager(repo repository.TotpSecretRepository, issuerName string) *Manager {
	return &Manager{repo: repo, issuerName: issuerName, now: time.Now}
}

// HasSecret reporta si la cuenta ya tiene TOTP enrolado. Los errores de
// lectura degradan a false: el policy engine pedirá enrolamiento y el
// enrolamiento idempotente absorbe el duplicado.
func (m *Manager) HasSecret(ctx context.Context, accountID string) bool {
	_, err := m.repo.Get(ctx, accountID)
	if err != nil {
		if !repository.IsNotFound(err) {
			logger.From(ctx).Warn("totp secret lookup failed",
				logger.AccountID(accountID), logger.Err(err))
		}
		return false
	}
	return true
}

// GetOrCreateSecretURI devuelve la URI otpauth:// de la cuenta, generando y
// persistiendo el secreto si aún no existe. Idempotente: si dos peticiones
// concurrentes enrolan a la vez, ambas terminan con el secreto ganador.
func (m *Manager) GetOrCreateSecretURI(ctx context.Context, accountID, accountName string) (string, error) {
	existing, err := m.repo.Get(ctx, accountID)
	if err == nil {
		return totp.OTPAuthURL(m.issuerName, accountName, existing.Secret), nil
	}
	if !repository.IsNotFound(err) {
		return "", err
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return "", err
	}

	if err := m.repo.Create(ctx, accountID, secret); err != nil {
		if repository.IsConflict(err) {
			// otro proceso ganó la carrera: usamos su secreto
			winner, rerr := m.repo.Get(ctx, accountID)
			if rerr != nil {
				return "", rerr
			}
			return totp.OTPAuthURL(m.issuerName, accountName, winner.Secret), nil
		}
		return "", err
	}

	logger.From(ctx).Info("totp secret enrolled", logger.AccountID(accountID))
	return totp.OTPAuthURL(m.issuerName, accountName, secret), nil
}

// VerifyCode valida un código de 6 dígitos contra el secreto de la cuenta.
// Sin secreto enrolado no hay nada que verificar: false.
func (m *Manager) VerifyCode(ctx context.Context, accountID, code string) bool {
	s, err := m.repo.Get(ctx, accountID)
	if err != nil {
		if !repository.IsNotFound(err) {
			logger.From(ctx).Warn("totp secret lookup failed",
				logger.AccountID(accountID), logger.Err(err))
		}
		metrics.TOTPVerifications.WithLabelValues("no_secret").Inc()
		return false
	}

	ok := totp.Verify(s.Secret, code, m.now())
	if ok {
		metrics.TOTPVerifications.WithLabelValues("ok").Inc()
	} else {
		metrics.TOTPVerifications.WithLabelValues("invalid").Inc()
	}
	return ok
}
