package repository

import (
	"context"
	"time"
)

// ProviderType indica el protocolo de un upstream provider.
type ProviderType string

const (
	// ProviderTypeOIDC provider OIDC con discovery de metadata.
	ProviderTypeOIDC ProviderType = "oidc"
	// ProviderTypeOAuth2 provider OAuth2 plano con endpoints explícitos.
	ProviderTypeOAuth2 ProviderType = "oauth2"
)

// UpstreamProvider es la configuración estática de un identity provider
// externo. Read-mostly: solo cambia por configuración administrativa.
type UpstreamProvider struct {
	ID           int64
	Name         string // key única
	DisplayName  string
	Type         ProviderType
	ClientID     string
	ClientSecret string
	// DiscoveryURL para type=oidc; los endpoints explícitos para type=oauth2.
	DiscoveryURL     string
	AuthorizationURL string
	TokenURL         string
	UserinfoURL      string
	Scopes           string
	IconURL          string
	ButtonColor      string
	Enabled          bool
	SortOrder        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UpstreamProviderRepository define lecturas de providers.
type UpstreamProviderRepository interface {
	// ListEnabled retorna los providers habilitados ordenados por
	// (sort_order asc, display_name asc).
	ListEnabled(ctx context.Context) ([]UpstreamProvider, error)

	// GetEnabled busca un provider habilitado por nombre.
	// Retorna ErrNotFound si no existe o está deshabilitado.
	GetEnabled(ctx context.Context, name string) (*UpstreamProvider, error)
}
