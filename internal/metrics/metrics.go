// Package metrics define los collectors Prometheus del core. Viven en un
// package standalone para evitar ciclos de import entre services y HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FederatedResolutions cuenta resoluciones federadas por provider y outcome
	// (linked | pending_verification | denied_owned_domain | error).
	FederatedResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idbridge_federated_resolutions_total",
		Help: "Resoluciones de identidad federada por provider y outcome",
	}, []string{"provider", "outcome"})

	// PromptsRequired cuenta decisiones del policy engine por prompt
	// ("none" cuando el request queda autorizado sin interacción).
	PromptsRequired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idbridge_prompts_required_total",
		Help: "Prompts requeridos por el interaction policy engine",
	}, []string{"prompt"})

	// DomainOracleRefreshes cuenta refreshes del cache de dominios propios
	// por resultado (ok | error).
	DomainOracleRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idbridge_domain_oracle_refreshes_total",
		Help: "Refreshes del set de dominios propios contra la authority",
	}, []string{"result"})

	// ProviderClientCache cuenta hits/misses del cache de client handles.
	ProviderClientCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idbridge_provider_client_cache_total",
		Help: "Accesos al cache de clients de upstream providers",
	}, []string{"result"})

	// TOTPVerifications cuenta verificaciones TOTP por resultado
	// (ok | invalid | no_secret).
	TOTPVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idbridge_totp_verifications_total",
		Help: "Verificaciones de códigos TOTP",
	}, []string{"result"})
)

// Register registra los collectors en el registry dado (default si es nil).
// Tolera AlreadyRegisteredError para permitir registros repetidos en tests.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		FederatedResolutions,
		PromptsRequired,
		DomainOracleRefreshes,
		ProviderClientCache,
		TOTPVerifications,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
