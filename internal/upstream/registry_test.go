package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
)

type fakeProviderRepo struct {
	providers map[string]repository.UpstreamProvider
}

func (f *fakeProviderRepo) ListEnabled(context.Context) ([]repository.UpstreamProvider, error) {
	var out []repository.UpstreamProvider
	for _, p := range f.providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProviderRepo) GetEnabled(_ context.Context, name string) (*repository.UpstreamProvider, error) {
	p, ok := f.providers[name]
	if !ok || !p.Enabled {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func manualProvider(tokenURL, userinfoURL string) repository.UpstreamProvider {
	return repository.UpstreamProvider{
		Name:             "legacy",
		DisplayName:      "Legacy SSO",
		Type:             repository.ProviderTypeOAuth2,
		ClientID:         "client-1",
		ClientSecret:     "secret-1",
		AuthorizationURL: "https://sso.example.com/authorize",
		TokenURL:         tokenURL,
		UserinfoURL:      userinfoURL,
		Scopes:           "profile email",
		Enabled:          true,
	}
}

func TestSplitScopes(t *testing.T) {
	assert.Equal(t, []string{"openid", "email"}, splitScopes("openid email"))
	assert.Equal(t, []string{"openid", "email"}, splitScopes("openid,email"))
	assert.Equal(t, []string{"openid", "email"}, splitScopes(" openid,  email "))
	assert.Nil(t, splitScopes(""))
}

func TestNewRegistryTimeouts(t *testing.T) {
	r := NewRegistry(&fakeProviderRepo{}, time.Minute, 3*time.Second)
	assert.Equal(t, 3*time.Second, r.httpc.Timeout)

	// sin configurar, aplican los defaults
	r = NewRegistry(&fakeProviderRepo{}, 0, 0)
	assert.Equal(t, 15*time.Second, r.httpc.Timeout)
	assert.Equal(t, 10*time.Minute, r.cacheTTL)
}

func TestBuildAuthorizationURLManual(t *testing.T) {
	r := NewRegistry(&fakeProviderRepo{}, time.Minute, 0)
	p := manualProvider("https://sso.example.com/token", "https://sso.example.com/me")
	c, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	require.NoError(t, err)

	raw := r.BuildAuthorizationURL(c, "state-xyz", "ignored-verifier")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "https://idp.example.com/cb", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Equal(t, "profile email", q.Get("scope"))
	// sin PKCE en el camino manual
	assert.Empty(t, q.Get("code_challenge"))
}

func TestExchangeCodeRejectsStateBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	r := NewRegistry(&fakeProviderRepo{}, time.Minute, 0)
	p := manualProvider(srv.URL+"/token", srv.URL+"/me")
	c, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	require.NoError(t, err)

	params := url.Values{"state": {"evil"}, "code": {"abc"}}
	_, err = r.ExchangeCode(context.Background(), c, params, "", "good")
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.False(t, called, "state mismatch must not reach the token endpoint")

	_, err = r.ExchangeCode(context.Background(), c, url.Values{"state": {"good"}}, "", "good")
	assert.ErrorIs(t, err, ErrMissingCode)
	assert.False(t, called)
}

func TestExchangeCodeManual(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-123","token_type":"bearer"}`)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sub":"u-9","email":"ana@gmail.com","name":"Ana"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewRegistry(&fakeProviderRepo{}, time.Minute, 0)
	p := manualProvider(srv.URL+"/token", srv.URL+"/me")
	c, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	require.NoError(t, err)

	params := url.Values{"state": {"s1"}, "code": {"the-code"}}
	id, err := r.ExchangeCode(context.Background(), c, params, "", "s1")
	require.NoError(t, err)

	assert.Equal(t, "at-123", id.AccessToken)
	assert.Equal(t, "u-9", id.Claims["sub"])
	assert.Equal(t, "ana@gmail.com", id.Claims["email"])
}

func TestExchangeCodeManualSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer srv.Close()

	r := NewRegistry(&fakeProviderRepo{}, time.Minute, 0)
	p := manualProvider(srv.URL+"/token", srv.URL+"/me")
	c, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	require.NoError(t, err)

	params := url.Values{"state": {"s1"}, "code": {"the-code"}}
	_, err = r.ExchangeCode(context.Background(), c, params, "", "s1")

	he, ok := IsHTTPError(err)
	require.True(t, ok, "expected *HTTPError, got %v", err)
	assert.Equal(t, "token", he.Op)
	assert.Equal(t, http.StatusBadGateway, he.Status)
	assert.Contains(t, he.Body, "upstream exploded")
}

func newDiscoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"userinfo_endpoint":      srv.URL + "/userinfo",
			"jwks_uri":               srv.URL + "/keys",
		})
	})
	return srv
}

func oidcProvider(name, discoveryURL string) repository.UpstreamProvider {
	return repository.UpstreamProvider{
		Name:         name,
		DisplayName:  "Corp OIDC",
		Type:         repository.ProviderTypeOIDC,
		ClientID:     "client-oidc",
		ClientSecret: "secret-oidc",
		DiscoveryURL: discoveryURL,
		Scopes:       "openid email profile",
		Enabled:      true,
	}
}

func TestInitializeClientOIDCDiscoveryAndCache(t *testing.T) {
	srv := newDiscoveryServer(t)

	r := NewRegistry(&fakeProviderRepo{}, time.Minute, 0)
	p := oidcProvider("corp", srv.URL+"/.well-known/openid-configuration")

	c1, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/authorize", c1.OAuth2.Endpoint.AuthURL)
	assert.Equal(t, srv.URL+"/token", c1.OAuth2.Endpoint.TokenURL)

	// mismo (provider, callback) dentro de la ventana: mismo handle
	c2, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	// callback distinto: handle distinto
	c3, err := r.InitializeClient(context.Background(), &p, "https://other.example.com/cb")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)

	r.ClearClientCache()
	c4, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	require.NoError(t, err)
	assert.NotSame(t, c1, c4)
}

func TestBuildAuthorizationURLOIDCCarriesPKCE(t *testing.T) {
	srv := newDiscoveryServer(t)

	r := NewRegistry(&fakeProviderRepo{}, time.Minute, 0)
	p := oidcProvider("corp", srv.URL+"/.well-known/openid-configuration")
	c, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	require.NoError(t, err)

	verifier := NewCodeVerifier()
	raw := r.BuildAuthorizationURL(c, "state-1", verifier)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.True(t, strings.HasPrefix(raw, srv.URL+"/authorize"))
}

func TestNewCodeVerifierIsFreshPerAttempt(t *testing.T) {
	assert.NotEqual(t, NewCodeVerifier(), NewCodeVerifier())
}

func TestInitializeClientUnknownType(t *testing.T) {
	r := NewRegistry(&fakeProviderRepo{}, time.Minute, 0)
	p := repository.UpstreamProvider{Name: "odd", Type: "saml", Enabled: true}
	_, err := r.InitializeClient(context.Background(), &p, "https://idp.example.com/cb")
	assert.Error(t, err)
}
