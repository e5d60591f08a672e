package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/idbridge/internal/domain/repository"
)

// BuildAuthorizationURL arma la URL a la que redirigir al usuario. El camino
// OIDC lleva challenge PKCE S256 derivado de codeVerifier; el camino oauth2
// plano no usa PKCE porque no hay garantía de soporte.
func (r *Registry) BuildAuthorizationURL(c *Client, state, codeVerifier string) string {
	if c.Provider.Type == repository.ProviderTypeOIDC {
		return c.OAuth2.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
	}

	q := url.Values{}
	q.Set("client_id", c.OAuth2.ClientID)
	q.Set("redirect_uri", c.OAuth2.RedirectURL)
	q.Set("response_type", "code")
	q.Set("state", state)
	if len(c.OAuth2.Scopes) > 0 {
		q.Set("scope", strings.Join(c.OAuth2.Scopes, " "))
	}

	sep := "?"
	if strings.Contains(c.OAuth2.Endpoint.AuthURL, "?") {
		sep = "&"
	}
	return c.OAuth2.Endpoint.AuthURL + sep + q.Encode()
}

// ExchangeCode canjea el código del callback por la identidad del usuario.
// El state se comprueba ANTES de cualquier llamada al provider: un state
// ajeno no merece una ida al token endpoint.
func (r *Registry) ExchangeCode(ctx context.Context, c *Client, params url.Values, codeVerifier, expectedState string) (*Identity, error) {
	if params.Get("state") != expectedState || expectedState == "" {
		return nil, ErrStateMismatch
	}
	code := params.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	if c.Provider.Type == repository.ProviderTypeOIDC {
		return r.exchangeOIDC(ctx, c, code, codeVerifier)
	}
	return r.exchangeManual(ctx, c, code)
}

// ─── camino OIDC ────────────────────────────────────────────────────────────

func (r *Registry) exchangeOIDC(ctx context.Context, c *Client, code, codeVerifier string) (*Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpc)

	token, err := c.OAuth2.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, tokenExchangeError(err)
	}

	id := &Identity{AccessToken: token.AccessToken, Claims: map[string]any{}}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken != "" {
		idToken, err := c.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("upstream: verify id_token from %s: %w", c.Provider.Name, err)
		}
		if err := idToken.Claims(&id.Claims); err != nil {
			return nil, fmt.Errorf("upstream: parse id_token claims: %w", err)
		}
		id.RawIDToken = rawIDToken
	}

	// Si el ID token no trae email (o no hubo ID token), el userinfo
	// endpoint es la fuente de respaldo.
	if email, _ := id.Claims["email"].(string); email == "" {
		info, err := c.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err != nil {
			return nil, fmt.Errorf("upstream: userinfo for %s: %w", c.Provider.Name, err)
		}
		var uc map[string]any
		if err := info.Claims(&uc); err != nil {
			return nil, fmt.Errorf("upstream: parse userinfo claims: %w", err)
		}
		for k, v := range uc {
			if _, present := id.Claims[k]; !present {
				id.Claims[k] = v
			}
		}
	}

	return id, nil
}

// tokenExchangeError convierte el error de oauth2 en *HTTPError cuando el
// provider respondió no-2xx, preservando status y cuerpo.
func tokenExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &HTTPError{Op: "token", Status: re.Response.StatusCode, Body: truncate(string(re.Body), 512)}
	}
	return fmt.Errorf("upstream: token exchange: %w", err)
}

// ─── camino oauth2 plano ────────────────────────────────────────────────────

func (r *Registry) exchangeManual(ctx context.Context, c *Client, code string) (*Identity, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.OAuth2.RedirectURL)
	form.Set("client_id", c.OAuth2.ClientID)
	form.Set("client_secret", c.OAuth2.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.OAuth2.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("upstream: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := r.doJSON(req, "token")
	if err != nil {
		return nil, err
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("upstream: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, &HTTPError{Op: "token", Status: http.StatusOK, Body: "response carried no access_token"}
	}

	// El cuerpo del userinfo ES el claim set en el camino manual.
	uireq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Provider.UserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build userinfo request: %w", err)
	}
	uireq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	uireq.Header.Set("Accept", "application/json")

	uibody, err := r.doJSON(uireq, "userinfo")
	if err != nil {
		return nil, err
	}

	var claims map[string]any
	if err := json.Unmarshal(uibody, &claims); err != nil {
		return nil, fmt.Errorf("upstream: decode userinfo response: %w", err)
	}

	return &Identity{AccessToken: tok.AccessToken, RawIDToken: tok.IDToken, Claims: claims}, nil
}

// doJSON ejecuta la request y devuelve el cuerpo, mapeando no-2xx a
// *HTTPError con el cuerpo truncado.
func (r *Registry) doJSON(req *http.Request, op string) ([]byte, error) {
	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("upstream: read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Op: op, Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
