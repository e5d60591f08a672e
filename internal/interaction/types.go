// Package interaction implementa el policy engine de interacciones: decide
// qué prompt (login, totp, consent) le falta a una authorization request, y
// confirma el consent persistiendo el Grant acumulado.
package interaction

import "time"

// Nombres de prompt, en orden de prioridad fijo.
const (
	PromptLogin   = "login"
	PromptTOTP    = "totp"
	PromptConsent = "consent"
)

// SessionState es la sesión de navegador activa, si la hay.
type SessionState struct {
	AccountID string
	AuthTime  time.Time
	ACR       string
	AMR       []string
}

// ClaimEntry es una petición de claim individual del parámetro claims.
type ClaimEntry struct {
	Essential bool
	Value     any
	Values    []any
}

// ClaimsRequest es el parámetro claims parseado (sección id_token).
type ClaimsRequest struct {
	IDToken map[string]*ClaimEntry
}

// RequestParams son los parámetros de la authorization request que el policy
// engine necesita. El parsing del wire protocol es del motor externo.
type RequestParams struct {
	ClientID     string
	ResponseType string
	Scope        string
	MaxAge       *int64 // segundos; nil si no se pidió
	LoginHint    string
	IDTokenHint  string // JWT crudo; se lee sin verificar (ya lo verificó el motor)
	Claims       *ClaimsRequest
	// Resources mapea resource indicator → scopes pedidos para ese recurso.
	Resources map[string]string
	// AuthorizationDetails es el parámetro RAR crudo (RFC 9396).
	AuthorizationDetails []map[string]any
}

// ClientInfo es lo que el engine necesita saber del client OAuth.
type ClientInfo struct {
	Native bool
}

// LoginResult es el resultado de un login ya completado en esta interacción.
type LoginResult struct {
	AccountID string
	AuthTime  time.Time
	ACR       string
	AMR       []string
}

// InteractionResult acumula lo ya resuelto en la interacción en curso.
type InteractionResult struct {
	Login        *LoginResult
	SecondFactor bool // totp ya satisfecho en esta interacción
	ConsentGiven bool
}

// GrantState es la vista acumulada del Grant existente: qué se consintió ya.
type GrantState struct {
	Scopes         map[string]struct{}
	Claims         map[string]struct{}
	ResourceScopes map[string]map[string]struct{}
	RARConsented   bool
}

// Env es el entorno completo de evaluación para una request.
type Env struct {
	Session *SessionState // nil sin sesión activa
	Client  ClientInfo
	Params  RequestParams
	Result  InteractionResult
	Grant   *GrantState // nil sin grant previo
	Now     time.Time   // zero = time.Now()
}

// Decision es la salida del engine: el próximo prompt requerido, o ninguno.
type Decision struct {
	// Prompt vacío significa autorizado sin más interacción.
	Prompt string
	// Reasons lista los checks que dispararon el prompt, en orden.
	Reasons []string
	// Details es el payload machine-readable que consume la capa de UI
	// (variante de totp, scopes/claims faltantes, etc.).
	Details map[string]any
}

// None reporta si la decisión es "sin interacción pendiente".
func (d Decision) None() bool { return d.Prompt == "" }

// Aborted es el resultado fijo que la capa de presentación devuelve al motor
// de protocolo cuando el usuario cancela la interacción.
func Aborted() map[string]any {
	return map[string]any{
		"error":             "access_denied",
		"error_description": "End-User aborted interaction",
	}
}

// Claims de identidad siempre disponibles: pedirlos nunca fuerza consent.
var alwaysAvailableClaims = map[string]struct{}{
	"sub": {}, "sid": {}, "auth_time": {}, "acr": {}, "amr": {}, "iss": {},
}
