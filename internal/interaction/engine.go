package interaction

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/idbridge/internal/metrics"
	"github.com/dropDatabas3/idbridge/internal/observability/logger"
)

// SecretChecker responde si una cuenta tiene TOTP enrolado.
type SecretChecker interface {
	HasSecret(ctx context.Context, accountID string) bool
}

// Policy evalúa los prompts en orden fijo login → totp → consent.
type Policy struct {
	mfa SecretChecker
}

// NewPolicy crea el engine.
func NewPolicy(mfa SecretChecker) *Policy {
	return &Policy{mfa: mfa}
}

// Evaluate computa el próximo prompt requerido. Los checks de login y totp
// cortocircuitan; los de consent se evalúan todos y acumulan el detalle de
// lo que falta.
func (p *Policy) Evaluate(ctx context.Context, env Env) Decision {
	if env.Now.IsZero() {
		env.Now = time.Now()
	}

	if d, needed := p.evalLogin(env); needed {
		metrics.PromptsRequired.WithLabelValues(PromptLogin).Inc()
		logger.From(ctx).Debug("interaction required",
			logger.Component("interaction.policy"), logger.Prompt(PromptLogin))
		return d
	}
	if d, needed := p.evalSecondFactor(ctx, env); needed {
		metrics.PromptsRequired.WithLabelValues(PromptTOTP).Inc()
		logger.From(ctx).Debug("interaction required",
			logger.Component("interaction.policy"), logger.Prompt(PromptTOTP))
		return d
	}
	if d, needed := p.evalConsent(env); needed {
		metrics.PromptsRequired.WithLabelValues(PromptConsent).Inc()
		logger.From(ctx).Debug("interaction required",
			logger.Component("interaction.policy"), logger.Prompt(PromptConsent))
		return d
	}
	metrics.PromptsRequired.WithLabelValues("none").Inc()
	return Decision{}
}

// ─── login ──────────────────────────────────────────────────────────────────

func (p *Policy) evalLogin(env Env) (Decision, bool) {
	need := func(reason string) (Decision, bool) {
		return Decision{Prompt: PromptLogin, Reasons: []string{reason}, Details: loginDetails(env.Params)}, true
	}

	// 1. sin sesión
	if env.Session == nil && env.Result.Login == nil {
		return need("no_session")
	}

	// 2. max_age vencido (y sin login fresco en esta interacción)
	if env.Params.MaxAge != nil && env.Result.Login == nil && env.Session != nil {
		age := env.Now.Sub(env.Session.AuthTime)
		if age > time.Duration(*env.Params.MaxAge)*time.Second {
			return need("max_age")
		}
	}

	subject := sessionSubject(env)

	// 3. id_token_hint con subject distinto
	if env.Params.IDTokenHint != "" && subject != "" {
		if hintSub := idTokenHintSubject(env.Params.IDTokenHint); hintSub != "" && hintSub != subject {
			return need("id_token_hint")
		}
	}

	// 4. claim sub pedido con valor que no coincide
	if sub := claimEntry(env.Params.Claims, "sub"); sub != nil && sub.Value != nil && subject != "" {
		if want, _ := sub.Value.(string); want != "" && want != subject {
			return need("claims_sub_mismatch")
		}
	}

	// 5. acr esencial no satisfecho por la sesión
	if acr := claimEntry(env.Params.Claims, "acr"); acr != nil && acr.Essential {
		if !acrSatisfied(acr, sessionACR(env)) {
			return need("essential_acr")
		}
	}

	return Decision{}, false
}

// loginDetails reenvía a la pantalla de login los parámetros que afectan cómo
// se presenta (hints y frescura exigida), cuando vienen en la request.
func loginDetails(p RequestParams) map[string]any {
	d := map[string]any{}
	if p.MaxAge != nil {
		d["max_age"] = *p.MaxAge
	}
	if p.LoginHint != "" {
		d["login_hint"] = p.LoginHint
	}
	if p.IDTokenHint != "" {
		d["id_token_hint"] = p.IDTokenHint
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

func sessionSubject(env Env) string {
	if env.Result.Login != nil {
		return env.Result.Login.AccountID
	}
	if env.Session != nil {
		return env.Session.AccountID
	}
	return ""
}

func sessionACR(env Env) string {
	if env.Result.Login != nil && env.Result.Login.ACR != "" {
		return env.Result.Login.ACR
	}
	if env.Session != nil {
		return env.Session.ACR
	}
	return ""
}

// idTokenHintSubject extrae el sub del hint SIN verificar la firma: el motor
// de protocolo ya validó el token; aquí solo comparamos identidad.
func idTokenHintSubject(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

func claimEntry(cr *ClaimsRequest, name string) *ClaimEntry {
	if cr == nil {
		return nil
	}
	return cr.IDToken[name]
}

func acrSatisfied(entry *ClaimEntry, sessionACR string) bool {
	if sessionACR == "" {
		return false
	}
	if entry.Value != nil {
		want, _ := entry.Value.(string)
		return want == sessionACR
	}
	for _, v := range entry.Values {
		if want, _ := v.(string); want == sessionACR {
			return true
		}
	}
	// acr esencial sin value ni values: cualquier acr de sesión sirve
	return len(entry.Values) == 0 && entry.Value == nil
}

// ─── segundo factor ─────────────────────────────────────────────────────────

// evalSecondFactor solo aplica inmediatamente después de un login exitoso en
// esta misma interacción; una sesión preexistente no re-dispara el factor.
func (p *Policy) evalSecondFactor(ctx context.Context, env Env) (Decision, bool) {
	if env.Session == nil || env.Result.SecondFactor || env.Result.Login == nil {
		return Decision{}, false
	}

	variant := "enroll"
	if p.mfa.HasSecret(ctx, env.Result.Login.AccountID) {
		variant = "verify"
	}
	return Decision{
		Prompt:  PromptTOTP,
		Reasons: []string{"second_factor_required"},
		Details: map[string]any{"variant": variant},
	}, true
}

// ─── consent ────────────────────────────────────────────────────────────────

func (p *Policy) evalConsent(env Env) (Decision, bool) {
	var reasons []string
	details := map[string]any{}

	// 1. client nativo sin consent previo
	if env.Client.Native && env.Params.ResponseType != "none" && !env.Result.ConsentGiven {
		reasons = append(reasons, "native_client_prompt")
	}

	// 2. scopes OIDC no consentidos aún
	if missing := missingScopes(splitFields(env.Params.Scope), grantScopes(env.Grant)); len(missing) > 0 {
		reasons = append(reasons, "op_scopes_missing")
		details["missingOIDCScope"] = missing
	}

	// 3. claims pedidos no consentidos (los de identidad básica no cuentan)
	if missing := missingClaims(env.Params.Claims, env.Grant); len(missing) > 0 {
		reasons = append(reasons, "op_claims_missing")
		details["missingOIDCClaims"] = missing
	}

	// 4. scopes por resource indicator
	if missing := missingResourceScopes(env.Params.Resources, env.Grant); len(missing) > 0 {
		reasons = append(reasons, "resource_scopes_missing")
		details["missingResourceScopes"] = missing
	}

	// 5. rich authorization details sin consentir
	if len(env.Params.AuthorizationDetails) > 0 && (env.Grant == nil || !env.Grant.RARConsented) {
		reasons = append(reasons, "rar_prompt")
		details["rar"] = env.Params.AuthorizationDetails
	}

	if len(reasons) == 0 {
		return Decision{}, false
	}
	if len(details) == 0 {
		details = nil
	}
	return Decision{Prompt: PromptConsent, Reasons: reasons, Details: details}, true
}

func grantScopes(g *GrantState) map[string]struct{} {
	if g == nil {
		return nil
	}
	return g.Scopes
}

func missingScopes(requested []string, granted map[string]struct{}) []string {
	var missing []string
	for _, s := range requested {
		if _, ok := granted[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

func missingClaims(cr *ClaimsRequest, g *GrantState) []string {
	if cr == nil {
		return nil
	}
	var missing []string
	for name := range cr.IDToken {
		if _, always := alwaysAvailableClaims[name]; always {
			continue
		}
		if g != nil {
			if _, ok := g.Claims[name]; ok {
				continue
			}
		}
		missing = append(missing, name)
	}
	sortStrings(missing)
	return missing
}

func missingResourceScopes(resources map[string]string, g *GrantState) map[string][]string {
	missing := map[string][]string{}
	for indicator, scope := range resources {
		var grantedForRes map[string]struct{}
		if g != nil {
			grantedForRes = g.ResourceScopes[indicator]
		}
		if m := missingScopes(splitFields(scope), grantedForRes); len(m) > 0 {
			missing[indicator] = m
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return missing
}

// ─── redirect ───────────────────────────────────────────────────────────────

// URLFor construye la ruta de redirect hacia la UI del prompt. El prompt
// totp tiene su propia pantalla; login y consent comparten la base.
func URLFor(uid, prompt string, forwarded url.Values) string {
	base := fmt.Sprintf("/interaction/%s", url.PathEscape(uid))
	if prompt == PromptTOTP {
		base += "/totp"
	}
	if len(forwarded) > 0 {
		base += "?" + forwarded.Encode()
	}
	return base
}
