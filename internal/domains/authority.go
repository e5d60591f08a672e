// Package domains implementa el Domain Ownership Oracle: responde si el
// dominio de un email pertenece a este despliegue. Es el pivote de la
// política anti-takeover del resolver de identidades federadas.
package domains

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Authority es la fuente autoritativa de dominios propios: el sistema de
// gestión de cuentas externo al IdP.
type Authority interface {
	ListDomains(ctx context.Context) ([]string, error)
	ListSubdomains(ctx context.Context) ([]string, error)
}

// AuthorityConfig configura el cliente HTTP hacia el account-management.
type AuthorityConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpAuthority struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPAuthority crea el cliente JSON contra el account-management.
func NewHTTPAuthority(cfg AuthorityConfig) Authority {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpAuthority{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *httpAuthority) ListDomains(ctx context.Context) ([]string, error) {
	return a.list(ctx, "/api/v1/domains")
}

func (a *httpAuthority) ListSubdomains(ctx context.Context) ([]string, error) {
	return a.list(ctx, "/api/v1/subdomains")
}

func (a *httpAuthority) list(ctx context.Context, path string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("domains: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("domains: authority %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("domains: authority %s: status %d: %s", path, resp.StatusCode, body)
	}

	var payload struct {
		Items []string `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("domains: decode %s: %w", path, err)
	}
	return payload.Items, nil
}
