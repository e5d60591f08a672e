// Package upstream gestiona los identity providers externos contra los que
// este deployment federa: descubrimiento OIDC, construcción de URLs de
// autorización y canje de códigos.
//
// Dos sabores de provider:
//   - oidc: discovery de metadata + PKCE S256 + verificación de ID token.
//   - oauth2: endpoints explícitos, sin discovery ni PKCE; los claims salen
//     del userinfo endpoint.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
	"github.com/dropDatabas3/idbridge/internal/metrics"
	"github.com/dropDatabas3/idbridge/internal/observability/logger"
)

const wellKnownSuffix = "/.well-known/openid-configuration"

// Client es el handle inicializado de un provider para un callback concreto.
// Para providers OIDC lleva el resultado del discovery y el verificador de
// ID tokens; para oauth2 plano solo la config de endpoints.
type Client struct {
	Provider repository.UpstreamProvider
	OAuth2   oauth2.Config

	oidcProvider *oidc.Provider        // nil para type=oauth2
	verifier     *oidc.IDTokenVerifier // nil para type=oauth2
}

// Identity es el resultado de un canje exitoso.
type Identity struct {
	AccessToken string
	RawIDToken  string // vacío si el provider no emitió ID token
	Claims      map[string]any
}

// Registry resuelve providers habilitados y cachea los handles de discovery.
type Registry struct {
	repo     repository.UpstreamProviderRepository
	clients  *gocache.Cache
	httpc    *http.Client
	cacheTTL time.Duration
}

// NewRegistry crea el registro. clientTTL <= 0 usa la ventana de 10 minutos;
// exchangeTimeout <= 0 acota discovery/token/userinfo a 15 segundos.
func NewRegistry(repo repository.UpstreamProviderRepository, clientTTL, exchangeTimeout time.Duration) *Registry {
	if clientTTL <= 0 {
		clientTTL = 10 * time.Minute
	}
	if exchangeTimeout <= 0 {
		exchangeTimeout = 15 * time.Second
	}
	return &Registry{
		repo:     repo,
		clients:  gocache.New(clientTTL, 2*clientTTL),
		httpc:    &http.Client{Timeout: exchangeTimeout},
		cacheTTL: clientTTL,
	}
}

// ListEnabled devuelve los providers habilitados en orden de presentación.
func (r *Registry) ListEnabled(ctx context.Context) ([]repository.UpstreamProvider, error) {
	return r.repo.ListEnabled(ctx)
}

// GetProvider devuelve un provider habilitado por nombre.
// repository.ErrNotFound si no existe o está deshabilitado.
func (r *Registry) GetProvider(ctx context.Context, name string) (*repository.UpstreamProvider, error) {
	return r.repo.GetEnabled(ctx, name)
}

// InitializeClient construye el handle para (provider, callbackURL). Los
// handles OIDC se cachean: el discovery es una ida a red que no queremos
// repetir por login. Un fallo de discovery se propaga, nunca se degrada.
func (r *Registry) InitializeClient(ctx context.Context, p *repository.UpstreamProvider, callbackURL string) (*Client, error) {
	key := p.Name + "|" + callbackURL
	if cached, ok := r.clients.Get(key); ok {
		metrics.ProviderClientCache.WithLabelValues("hit").Inc()
		return cached.(*Client), nil
	}
	metrics.ProviderClientCache.WithLabelValues("miss").Inc()

	c, err := r.buildClient(ctx, p, callbackURL)
	if err != nil {
		return nil, err
	}
	r.clients.Set(key, c, r.cacheTTL)
	return c, nil
}

// ClearClientCache descarta todos los handles cacheados (reset operativo,
// p.ej. tras rotar credenciales de un provider).
func (r *Registry) ClearClientCache() {
	r.clients.Flush()
}

func (r *Registry) buildClient(ctx context.Context, p *repository.UpstreamProvider, callbackURL string) (*Client, error) {
	base := oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  callbackURL,
		Scopes:       splitScopes(p.Scopes),
	}

	switch p.Type {
	case repository.ProviderTypeOIDC:
		issuer := strings.TrimSuffix(p.DiscoveryURL, wellKnownSuffix)
		op, err := oidc.NewProvider(oidc.ClientContext(ctx, r.httpc), issuer)
		if err != nil {
			return nil, fmt.Errorf("upstream: discovery for %s: %w", p.Name, err)
		}
		base.Endpoint = op.Endpoint()
		logger.From(ctx).Debug("oidc discovery completed",
			logger.Provider(p.Name), logger.Component("upstream.registry"))
		return &Client{
			Provider:     *p,
			OAuth2:       base,
			oidcProvider: op,
			verifier:     op.Verifier(&oidc.Config{ClientID: p.ClientID}),
		}, nil

	case repository.ProviderTypeOAuth2:
		base.Endpoint = oauth2.Endpoint{
			AuthURL:  p.AuthorizationURL,
			TokenURL: p.TokenURL,
		}
		return &Client{Provider: *p, OAuth2: base}, nil

	default:
		return nil, fmt.Errorf("upstream: provider %s has unknown type %q", p.Name, p.Type)
	}
}

// NewCodeVerifier genera un verificador PKCE aleatorio fresco. Uno por
// intento de autorización, nunca derivado de material estático.
func NewCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

func splitScopes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
