package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/idbridge/internal/cache"
)

// PendingLink son los claims federados retenidos entre el callback del
// upstream y la prueba de titularidad. Vive en cache, no en la base: si el
// usuario abandona el flujo, expira solo.
type PendingLink struct {
	Provider string         `json:"provider"`
	Subject  string         `json:"subject"`
	Email    string         `json:"email"`
	Claims   map[string]any `json:"claims"`
}

// PendingLinks guarda los links pendientes keyed por uid de interacción.
type PendingLinks struct {
	cache cache.Client
	ttl   time.Duration
}

// NewPendingLinks crea el stash. ttl <= 0 usa 10 minutos.
func NewPendingLinks(c cache.Client, ttl time.Duration) *PendingLinks {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PendingLinks{cache: c, ttl: ttl}
}

func pendingKey(uid string) string { return "pending_link:" + uid }

// Put retiene el link pendiente para una interacción.
func (p *PendingLinks) Put(ctx context.Context, uid string, link PendingLink) error {
	raw, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("identity: marshal pending link: %w", err)
	}
	return p.cache.Set(ctx, pendingKey(uid), string(raw), p.ttl)
}

// Get recupera el link pendiente. cache.ErrNotFound si no existe o expiró.
func (p *PendingLinks) Get(ctx context.Context, uid string) (*PendingLink, error) {
	raw, err := p.cache.Get(ctx, pendingKey(uid))
	if err != nil {
		return nil, err
	}
	var link PendingLink
	if err := json.Unmarshal([]byte(raw), &link); err != nil {
		return nil, fmt.Errorf("identity: unmarshal pending link: %w", err)
	}
	return &link, nil
}

// Delete descarta el link pendiente (tras verificarlo o abortar el flujo).
func (p *PendingLinks) Delete(ctx context.Context, uid string) error {
	return p.cache.Delete(ctx, pendingKey(uid))
}
