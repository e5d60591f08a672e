// Package identity resuelve identidades federadas a cuentas locales
// aplicando la política anti-takeover, y autentica logins locales.
//
// La asimetría central: un dominio operado por este despliegue exige prueba
// de titularidad antes de activar un link federado; un dominio externo se
// confía al primer uso. Auto-vincular en dominios propios sería un vector de
// escalada — un atacante con una cuenta upstream y un email local falsificado
// secuestra la cuenta local.
package identity

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dropDatabas3/idbridge/internal/audit"
	"github.com/dropDatabas3/idbridge/internal/domain/repository"
	"github.com/dropDatabas3/idbridge/internal/metrics"
	"github.com/dropDatabas3/idbridge/internal/observability/logger"
	"github.com/dropDatabas3/idbridge/internal/rate"
)

// DomainClassifier decide si el dominio de un email es de este despliegue.
type DomainClassifier interface {
	IsOwnedDomain(ctx context.Context, email string) bool
}

// Resolution es el resultado de resolver un login federado.
type Resolution struct {
	Account *repository.Account
	// RequiresVerification indica que el link existe pero está inerte hasta
	// que el dueño pruebe titularidad re-autenticándose localmente.
	RequiresVerification bool
}

// Resolver ejecuta el árbol de decisión de federación.
type Resolver struct {
	accounts  repository.AccountRepository
	federated repository.FederatedIdentityRepository
	oracle    DomainClassifier
	limiter   rate.Limiter // nil = sin rate limit en login local
}

// NewResolver crea el resolver.
func NewResolver(accounts repository.AccountRepository, federated repository.FederatedIdentityRepository, oracle DomainClassifier) *Resolver {
	return &Resolver{accounts: accounts, federated: federated, oracle: oracle}
}

// WithLoginLimiter activa rate limiting por email en AuthenticateLocal.
func (r *Resolver) WithLoginLimiter(l rate.Limiter) *Resolver {
	r.limiter = l
	return r
}

// ResolveFederated mapea (provider, claims del upstream) a una cuenta local.
// El orden de evaluación es fijo: link conocido, luego dominio propio, luego
// dominio externo.
func (r *Resolver) ResolveFederated(ctx context.Context, providerName string, claims map[string]any) (*Resolution, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrMissingSubject
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return nil, ErrMissingEmail
	}
	email = strings.ToLower(strings.TrimSpace(email))

	log := logger.From(ctx).With(
		logger.Component("identity.resolver"),
		logger.Provider(providerName),
		logger.Subject(sub),
	)

	// 1. Link conocido
	fi, err := r.federated.GetByProviderSubject(ctx, providerName, sub)
	if err == nil {
		return r.resolveKnownLink(ctx, log, fi, claims)
	}
	if !repository.IsNotFound(err) {
		metrics.FederatedResolutions.WithLabelValues(providerName, "error").Inc()
		return nil, err
	}

	// 2. Link nuevo, dominio propio: la cuenta debe preexistir y el link
	// nace sin verificar.
	if r.oracle.IsOwnedDomain(ctx, email) {
		return r.linkOwnedDomain(ctx, log, providerName, sub, email, claims)
	}

	// 3. Link nuevo, dominio externo: se confía la verificación del IdP
	// upstream; find-or-create y link verificado de entrada.
	return r.linkExternalDomain(ctx, log, providerName, sub, email, claims)
}

func (r *Resolver) resolveKnownLink(ctx context.Context, log *zap.Logger, fi *repository.FederatedIdentity, claims map[string]any) (*Resolution, error) {
	if err := r.federated.Touch(ctx, fi.ID, claims); err != nil {
		log.Warn("failed to refresh federated link", logger.Err(err))
	}

	acc, err := r.accounts.GetByID(ctx, fi.AccountID)
	if err != nil {
		metrics.FederatedResolutions.WithLabelValues(fi.ProviderName, "error").Inc()
		return nil, err
	}

	if fi.Verified {
		metrics.FederatedResolutions.WithLabelValues(fi.ProviderName, "linked").Inc()
		log.Debug("known federated link", logger.AccountID(acc.ID))
		return &Resolution{Account: acc}, nil
	}
	metrics.FederatedResolutions.WithLabelValues(fi.ProviderName, "pending_verification").Inc()
	log.Info("federated link still pending ownership proof", logger.AccountID(acc.ID))
	return &Resolution{Account: acc, RequiresVerification: true}, nil
}

func (r *Resolver) linkOwnedDomain(ctx context.Context, log *zap.Logger, provider, sub, email string, claims map[string]any) (*Resolution, error) {
	acc, err := r.accounts.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			metrics.FederatedResolutions.WithLabelValues(provider, "denied_owned_domain").Inc()
			log.Warn("owned-domain federation denied, no local account", logger.Email(email))
			return nil, ErrOwnedDomainAccountNotFound
		}
		metrics.FederatedResolutions.WithLabelValues(provider, "error").Inc()
		return nil, err
	}

	_, err = r.federated.Create(ctx, repository.CreateFederatedIdentityInput{
		AccountID:     acc.ID,
		ProviderName:  provider,
		ProviderSub:   sub,
		ProviderEmail: email,
		Claims:        claims,
		Verified:      false,
	})
	if err != nil {
		if repository.IsConflict(err) {
			// otro callback concurrente creó el link: seguimos por el
			// camino conocido
			return r.rereadAfterConflict(ctx, log, provider, sub, claims)
		}
		metrics.FederatedResolutions.WithLabelValues(provider, "error").Inc()
		return nil, err
	}

	metrics.FederatedResolutions.WithLabelValues(provider, "pending_verification").Inc()
	audit.Event(ctx, "federated_link_created",
		logger.Provider(provider), logger.Subject(sub),
		logger.AccountID(acc.ID), logger.Email(email),
		zap.Bool("verified", false))
	log.Debug("owned-domain link created, ownership proof required", logger.AccountID(acc.ID))
	return &Resolution{Account: acc, RequiresVerification: true}, nil
}

func (r *Resolver) linkExternalDomain(ctx context.Context, log *zap.Logger, provider, sub, email string, claims map[string]any) (*Resolution, error) {
	acc, err := r.accounts.FindOrCreateByEmail(ctx, email)
	if err != nil {
		metrics.FederatedResolutions.WithLabelValues(provider, "error").Inc()
		return nil, err
	}

	_, err = r.federated.Create(ctx, repository.CreateFederatedIdentityInput{
		AccountID:     acc.ID,
		ProviderName:  provider,
		ProviderSub:   sub,
		ProviderEmail: email,
		Claims:        claims,
		Verified:      true,
	})
	if err != nil {
		if repository.IsConflict(err) {
			return r.rereadAfterConflict(ctx, log, provider, sub, claims)
		}
		metrics.FederatedResolutions.WithLabelValues(provider, "error").Inc()
		return nil, err
	}

	metrics.FederatedResolutions.WithLabelValues(provider, "linked").Inc()
	audit.Event(ctx, "federated_link_created",
		logger.Provider(provider), logger.Subject(sub),
		logger.AccountID(acc.ID), logger.Email(email),
		zap.Bool("verified", true))
	log.Debug("external-domain link created", logger.AccountID(acc.ID))
	return &Resolution{Account: acc}, nil
}

func (r *Resolver) rereadAfterConflict(ctx context.Context, log *zap.Logger, provider, sub string, claims map[string]any) (*Resolution, error) {
	fi, err := r.federated.GetByProviderSubject(ctx, provider, sub)
	if err != nil {
		metrics.FederatedResolutions.WithLabelValues(provider, "error").Inc()
		return nil, err
	}
	return r.resolveKnownLink(ctx, log, fi, claims)
}

// VerifyFederatedIdentity transiciona verified false→true para exactamente un
// link. NO autentica: el caller debe haber re-autenticado al dueño de la
// cuenta (AuthenticateLocal) antes de llamar.
func (r *Resolver) VerifyFederatedIdentity(ctx context.Context, accountID, provider, subject string) error {
	if err := r.federated.Verify(ctx, accountID, provider, subject); err != nil {
		return err
	}
	audit.Event(ctx, "federated_link_verified",
		logger.AccountID(accountID), logger.Provider(provider), logger.Subject(subject))
	return nil
}

// AuthenticateLocal valida email + password contra la cuenta local. Cualquier
// fallo (email desconocido, cuenta sin password, password incorrecto) retorna
// el mismo ErrAuthenticationFailed: sin enumeración de cuentas.
func (r *Resolver) AuthenticateLocal(ctx context.Context, email, password string) (*repository.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if r.limiter != nil {
		res, err := r.limiter.Allow(ctx, "login:"+email)
		if err != nil {
			// el limiter caído no bloquea logins
			logger.From(ctx).Warn("login rate limiter unavailable", logger.Err(err))
		} else if !res.Allowed {
			audit.Event(ctx, "login_rate_limited", logger.Email(email))
			return nil, ErrTooManyAttempts
		}
	}

	acc, err := r.accounts.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}
	if !r.accounts.CheckPassword(acc.PasswordHash, password) {
		return nil, ErrAuthenticationFailed
	}
	return acc, nil
}

// FindAccount busca una cuenta por su identificador opaco (contrato de
// account-lookup del motor de protocolo).
func (r *Resolver) FindAccount(ctx context.Context, accountID string) (*repository.Account, error) {
	return r.accounts.GetByID(ctx, accountID)
}

// FindByEmail busca una cuenta por email.
func (r *Resolver) FindByEmail(ctx context.Context, email string) (*repository.Account, error) {
	return r.accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// Claims arma el claim set OIDC de una cuenta. sub siempre está; email y
// profile se incluyen según el scope pedido. admin es un claim custom que
// las aplicaciones downstream usan para autorización gruesa.
func Claims(acc *repository.Account, scope string) map[string]any {
	out := map[string]any{"sub": acc.ID, "admin": acc.Admin}

	scopes := strings.Fields(scope)
	for _, s := range scopes {
		switch s {
		case "email":
			out["email"] = acc.Email
			out["email_verified"] = true
		case "profile":
			if acc.Name != nil {
				out["name"] = *acc.Name
			}
		}
	}
	return out
}
