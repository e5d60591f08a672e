package interaction

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/idbridge/internal/audit"
	"github.com/dropDatabas3/idbridge/internal/domain/repository"
	"github.com/dropDatabas3/idbridge/internal/observability/logger"
	"github.com/dropDatabas3/idbridge/internal/validation"
)

// GrantRecords es la vista del storage adapter que necesita el consent:
// el adaptador de la Kind Grant.
type GrantRecords interface {
	Find(ctx context.Context, id string) (map[string]any, error)
	Upsert(ctx context.Context, id string, payload map[string]any, ttlSeconds int) error
}

// Granter confirma consents persistiendo el Grant acumulado.
type Granter struct {
	grants     GrantRecords
	ttlSeconds int
}

// NewGranter crea el confirmador de consent. ttlSeconds <= 0 significa
// grants sin expiración.
func NewGranter(grants GrantRecords, ttlSeconds int) *Granter {
	return &Granter{grants: grants, ttlSeconds: ttlSeconds}
}

// ConsentInput es lo aprobado explícitamente por el usuario en la UI.
type ConsentInput struct {
	// GrantID del grant existente de la interacción; vacío crea uno nuevo.
	GrantID   string
	AccountID string
	ClientID  string
	Scopes    []string
	Claims    []string
	// ResourceScopes mapea resource indicator → scopes aprobados.
	ResourceScopes       map[string][]string
	AuthorizationDetails []map[string]any
}

// ConfirmConsent persiste lo aprobado sobre el Grant (reutilizando el
// existente si la interacción traía uno) y devuelve su id para que el motor
// de protocolo cierre la interacción. La escritura es acumulativa: scopes y
// claims ya consentidos nunca se pierden.
func (g *Granter) ConfirmConsent(ctx context.Context, in ConsentInput) (string, error) {
	for _, s := range in.Scopes {
		if !validation.ValidScopeName(s) {
			return "", fmt.Errorf("%w: invalid scope name %q", repository.ErrInvalidInput, s)
		}
	}
	for _, scopes := range in.ResourceScopes {
		for _, s := range scopes {
			if !validation.ValidScopeName(s) {
				return "", fmt.Errorf("%w: invalid scope name %q", repository.ErrInvalidInput, s)
			}
		}
	}

	grantID := in.GrantID
	payload := map[string]any{}

	if grantID != "" {
		existing, err := g.grants.Find(ctx, grantID)
		if err != nil && !repository.IsNotFound(err) {
			return "", fmt.Errorf("interaction: load grant: %w", err)
		}
		if existing != nil {
			payload = existing
		}
	} else {
		grantID = uuid.NewString()
	}

	payload["accountId"] = in.AccountID
	payload["clientId"] = in.ClientID

	openid, _ := payload["openid"].(map[string]any)
	if openid == nil {
		openid = map[string]any{}
	}
	prevScope, _ := openid["scope"].(string)
	openid["scope"] = joinSets(splitFields(prevScope), in.Scopes)
	openid["claims"] = mergeClaimList(openid["claims"], in.Claims)
	payload["openid"] = openid

	if len(in.ResourceScopes) > 0 {
		resources, _ := payload["resources"].(map[string]any)
		if resources == nil {
			resources = map[string]any{}
		}
		for indicator, scopes := range in.ResourceScopes {
			prev, _ := resources[indicator].(string)
			resources[indicator] = joinSets(splitFields(prev), scopes)
		}
		payload["resources"] = resources
	}

	if len(in.AuthorizationDetails) > 0 {
		payload["rar"] = in.AuthorizationDetails
	}

	if err := g.grants.Upsert(ctx, grantID, payload, g.ttlSeconds); err != nil {
		return "", fmt.Errorf("interaction: persist grant: %w", err)
	}

	audit.Event(ctx, "consent_confirmed",
		logger.AccountID(in.AccountID),
		logger.GrantID(grantID),
		zap.String("client_id", in.ClientID))
	return grantID, nil
}

// LoadGrantState materializa el GrantState de un grant persistido, para
// alimentar Evaluate. Un grant inexistente devuelve nil sin error: el engine
// trata nil como "nada consentido".
func (g *Granter) LoadGrantState(ctx context.Context, grantID string) (*GrantState, error) {
	if grantID == "" {
		return nil, nil
	}
	payload, err := g.grants.Find(ctx, grantID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("interaction: load grant: %w", err)
	}
	return grantStateFromPayload(payload), nil
}

func grantStateFromPayload(payload map[string]any) *GrantState {
	st := &GrantState{
		Scopes:         map[string]struct{}{},
		Claims:         map[string]struct{}{},
		ResourceScopes: map[string]map[string]struct{}{},
	}

	if openid, ok := payload["openid"].(map[string]any); ok {
		if scope, ok := openid["scope"].(string); ok {
			for _, s := range splitFields(scope) {
				st.Scopes[s] = struct{}{}
			}
		}
		if claims, ok := openid["claims"].([]any); ok {
			for _, c := range claims {
				if name, ok := c.(string); ok {
					st.Claims[name] = struct{}{}
				}
			}
		}
	}

	if resources, ok := payload["resources"].(map[string]any); ok {
		for indicator, v := range resources {
			scope, _ := v.(string)
			set := map[string]struct{}{}
			for _, s := range splitFields(scope) {
				set[s] = struct{}{}
			}
			st.ResourceScopes[indicator] = set
		}
	}

	switch rar := payload["rar"].(type) {
	case []any:
		st.RARConsented = len(rar) > 0
	case []map[string]any: // antes del roundtrip JSON
		st.RARConsented = len(rar) > 0
	}

	return st
}

// ─── helpers ────────────────────────────────────────────────────────────────

func splitFields(s string) []string {
	return strings.Fields(s)
}

func sortStrings(s []string) {
	sort.Strings(s)
}

// joinSets une dos listas de scopes sin duplicados, en orden estable.
func joinSets(a, b []string) string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range append(a, b...) {
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

func mergeClaimList(existing any, add []string) []any {
	seen := map[string]struct{}{}
	var out []any
	if list, ok := existing.([]any); ok {
		for _, c := range list {
			if name, ok := c.(string); ok {
				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					out = append(out, name)
				}
			}
		}
	}
	for _, name := range add {
		if _, dup := seen[name]; !dup && name != "" {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
