package identity

import "errors"

var (
	// ErrMissingSubject el claim set del upstream no trae sub. Precondición:
	// se rechaza antes de tocar la base.
	ErrMissingSubject = errors.New("identity: upstream claims missing sub")

	// ErrMissingEmail el claim set del upstream no trae email.
	ErrMissingEmail = errors.New("identity: upstream claims missing email")

	// ErrOwnedDomainAccountNotFound el email pertenece a un dominio propio
	// pero no hay cuenta local con ese email. La federación NUNCA auto-crea
	// cuentas en dominios que este despliegue controla.
	ErrOwnedDomainAccountNotFound = errors.New("identity: owned-domain email has no local account")

	// ErrAuthenticationFailed login local fallido. Deliberadamente genérico:
	// no distingue email desconocido de password incorrecto.
	ErrAuthenticationFailed = errors.New("identity: authentication failed")

	// ErrTooManyAttempts la ventana de rate limit para ese email está agotada.
	// A diferencia de ErrAuthenticationFailed sí es distinguible: el caller
	// debe responder 429 con Retry-After, no "credenciales inválidas".
	ErrTooManyAttempts = errors.New("identity: too many login attempts")
)
