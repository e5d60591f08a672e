package domains

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/idbridge/internal/cache"
	"github.com/dropDatabas3/idbridge/internal/metrics"
	"github.com/dropDatabas3/idbridge/internal/observability/logger"
)

const cacheKey = "domains:owned"

// Oracle clasifica dominios de email como propios o externos, con el set de
// dominios cacheado 5 minutos.
//
// Semántica de fallo deliberada: si la autoridad no responde, el set queda
// VACÍO durante una ventana de cache — toda clasificación degrada a
// "externo". El camino externo auto-crea cuentas con menos fricción; el
// camino propio exige prueba de titularidad. Fallar hacia "propio" bloquearía
// logins legítimos cada vez que la autoridad parpadea.
type Oracle struct {
	cache     cache.Client
	authority Authority
	ttl       time.Duration
}

// NewOracle crea el oracle. ttl <= 0 usa la ventana de 5 minutos.
func NewOracle(c cache.Client, authority Authority, ttl time.Duration) *Oracle {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Oracle{cache: c, authority: authority, ttl: ttl}
}

// IsOwnedDomain reporta si el dominio del email (tras la última '@',
// case-folded) pertenece a este despliegue.
func (o *Oracle) IsOwnedDomain(ctx context.Context, email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(email[at+1:])

	owned := o.OwnedDomains(ctx)
	_, ok := owned[domain]
	return ok
}

// OwnedDomains devuelve el set de dominios propios, refrescándolo de la
// autoridad si la ventana de cache expiró. El set vacío cacheado tras un
// fallo también cuenta como resultado válido: acota las tormentas de retry.
func (o *Oracle) OwnedDomains(ctx context.Context) map[string]struct{} {
	if raw, err := o.cache.Get(ctx, cacheKey); err == nil {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return toSet(list)
		}
		// entrada corrupta: la tratamos como miss
		_ = o.cache.Delete(ctx, cacheKey)
	}

	list, err := o.fetch(ctx)
	if err != nil {
		logger.From(ctx).Warn("domain authority unreachable, classifying all domains as external",
			logger.Component("domains.oracle"), logger.Err(err))
		metrics.DomainOracleRefreshes.WithLabelValues("error").Inc()
		list = nil // fail-open: set vacío
	} else {
		metrics.DomainOracleRefreshes.WithLabelValues("ok").Inc()
	}

	if encoded, err := json.Marshal(list); err == nil {
		_ = o.cache.Set(ctx, cacheKey, string(encoded), o.ttl)
	}
	return toSet(list)
}

// ClearCache fuerza un refresh en la próxima consulta.
func (o *Oracle) ClearCache(ctx context.Context) error {
	return o.cache.Delete(ctx, cacheKey)
}

// fetch trae dominios y subdominios en paralelo y los une en minúsculas.
func (o *Oracle) fetch(ctx context.Context) ([]string, error) {
	var domains, subdomains []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		domains, err = o.authority.ListDomains(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		subdomains, err = o.authority.ListSubdomains(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(domains)+len(subdomains))
	seen := make(map[string]struct{}, cap(out))
	for _, d := range append(domains, subdomains...) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, d := range list {
		set[d] = struct{}{}
	}
	return set
}
