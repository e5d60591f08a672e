// Package config carga la configuración del servicio desde YAML con
// overrides por variables de entorno para secretos.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration acepta valores tipo "10s" / "5m" en el YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std convierte al time.Duration estándar.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	// Server expone únicamente /healthz y /metrics. El routing del IdP
	// vive en el protocol engine externo.
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	// Issuer identifica este deployment; se usa como etiqueta en las URIs
	// otpauth y como nombre base en logs.
	Issuer struct {
		URL  string `yaml:"url"`
		Name string `yaml:"name"`
	} `yaml:"issuer"`

	// Authority es el sistema externo de gestión de cuentas que responde
	// la lista de dominios operados por este deployment.
	Authority struct {
		BaseURL string   `yaml:"base_url"`
		APIKey  string   `yaml:"api_key"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"authority"`

	Federation struct {
		// PendingLinkTTL cuánto vive el stash de claims pendientes de
		// verificación de ownership.
		PendingLinkTTL Duration `yaml:"pending_link_ttl"`
		// ClientCacheTTL cuánto se cachea un client handle de provider.
		ClientCacheTTL Duration `yaml:"client_cache_ttl"`
		// ExchangeTimeout límite para discovery/token/userinfo upstream.
		ExchangeTimeout Duration `yaml:"exchange_timeout"`
	} `yaml:"federation"`

	Domains struct {
		// CacheTTL ventana del cache de dominios propios.
		CacheTTL Duration `yaml:"cache_ttl"`
	} `yaml:"domains"`

	// RateLimit frena fuerza bruta en el login local. Fixed window por email.
	RateLimit struct {
		Enabled     bool     `yaml:"enabled"`
		MaxAttempts int      `yaml:"max_attempts"`
		Window      Duration `yaml:"window"`
	} `yaml:"rate_limit"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9090"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Issuer.Name == "" {
		c.Issuer.Name = "idbridge"
	}
	if c.Authority.Timeout == 0 {
		c.Authority.Timeout = Duration(10 * time.Second)
	}
	if c.Federation.PendingLinkTTL == 0 {
		c.Federation.PendingLinkTTL = Duration(10 * time.Minute)
	}
	if c.Federation.ClientCacheTTL == 0 {
		c.Federation.ClientCacheTTL = Duration(10 * time.Minute)
	}
	if c.Federation.ExchangeTimeout == 0 {
		c.Federation.ExchangeTimeout = Duration(15 * time.Second)
	}
	if c.Domains.CacheTTL == 0 {
		c.Domains.CacheTTL = Duration(5 * time.Minute)
	}
	if c.RateLimit.MaxAttempts == 0 {
		c.RateLimit.MaxAttempts = 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = Duration(time.Minute)
	}

	c.applyEnvOverrides()

	return &c, nil
}

// applyEnvOverrides permite inyectar secretos por entorno sin tocar el YAML.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("IDBRIDGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("IDBRIDGE_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("IDBRIDGE_REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvStr("IDBRIDGE_AUTHORITY_URL"); ok {
		c.Authority.BaseURL = v
	}
	if v, ok := getEnvStr("IDBRIDGE_AUTHORITY_KEY"); ok {
		c.Authority.APIKey = v
	}
	if v, ok := getEnvStr("IDBRIDGE_ISSUER_URL"); ok {
		c.Issuer.URL = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
}

// Validate verifica los campos sin default razonable.
func (c *Config) Validate() error {
	if c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required")
	}
	if c.Issuer.URL == "" {
		return fmt.Errorf("config: issuer.url is required")
	}
	if c.Cache.Kind == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("config: cache.redis.addr is required for redis cache")
	}
	return nil
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
