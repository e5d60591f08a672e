package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/idbridge/internal/cache"
	"github.com/dropDatabas3/idbridge/internal/config"
	"github.com/dropDatabas3/idbridge/internal/domains"
	httpsrv "github.com/dropDatabas3/idbridge/internal/http"
	"github.com/dropDatabas3/idbridge/internal/identity"
	"github.com/dropDatabas3/idbridge/internal/interaction"
	"github.com/dropDatabas3/idbridge/internal/metrics"
	"github.com/dropDatabas3/idbridge/internal/mfa"
	"github.com/dropDatabas3/idbridge/internal/observability/logger"
	"github.com/dropDatabas3/idbridge/internal/rate"
	"github.com/dropDatabas3/idbridge/internal/store/pg"
	"github.com/dropDatabas3/idbridge/internal/store/protocol"
	"github.com/dropDatabas3/idbridge/internal/upstream"
)

func main() {
	// .env es opcional; en producción todo llega por entorno real
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:   "idbridge",
		Short: "Capa de identidad federada + política de interacciones para el IdP",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("CONFIG_PATH", "configs/config.yaml"), "ruta del YAML de configuración")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servicio (health + metrics) con todos los componentes cableados",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgPath)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Valida configuración, conectividad y esquema; sale sin servir",
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cfgPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de esquema embebidas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cfgPath)
		},
	}

	root.AddCommand(serveCmd, checkCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "idbridge",
	})
	defer logger.Sync()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	log.Info("idbridge up",
		logger.Component("main"),
		logger.Any("addr", cfg.Server.Addr),
		logger.Any("cache", cfg.Cache.Kind),
	)

	router := httpsrv.NewRouter(deps.pool, deps.cache)
	return httpsrv.Start(ctx, cfg.Server.Addr, router)
}

func check(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: "warn", ServiceName: "idbridge"})
	defer logger.Sync()

	ctx := context.Background()
	deps, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	fmt.Println("ok: config, storage, cache y esquema verificados")
	return nil
}

func migrate(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pg.Open(ctx, pg.PoolConfig{DSN: cfg.Storage.DSN})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.RunMigrations(ctx, pool); err != nil {
		return err
	}
	fmt.Println("ok: migraciones aplicadas")
	return nil
}

// deps agrupa todo lo cableado para poder cerrarlo ordenado.
type deps struct {
	pool  *pgxpool.Pool
	cache cache.Client

	Store    *protocol.Store
	Resolver *identity.Resolver
	Pending  *identity.PendingLinks
	Registry *upstream.Registry
	MFA      *mfa.Manager
	Policy   *interaction.Policy
	Granter  *interaction.Granter
	Oracle   *domains.Oracle
}

func (d *deps) close() {
	if d.cache != nil {
		_ = d.cache.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

func wire(ctx context.Context, cfg *config.Config) (*deps, error) {
	pool, err := pg.Open(ctx, pg.PoolConfig{
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	cacheClient, err := cache.New(cache.Config{
		Kind:     cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}

	store := protocol.NewStore(pool)
	// esquema incompleto = arranque fatal, no degradable
	if err := store.EnsureTables(ctx); err != nil {
		pool.Close()
		_ = cacheClient.Close()
		return nil, err
	}

	accounts := pg.NewAccountRepository(pool)
	federated := pg.NewFederatedIdentityRepository(pool)
	providers := pg.NewUpstreamProviderRepository(pool)
	totpSecrets := pg.NewTotpSecretRepository(pool)

	oracle := domains.NewOracle(
		cacheClient,
		domains.NewHTTPAuthority(domains.AuthorityConfig{
			BaseURL: cfg.Authority.BaseURL,
			APIKey:  cfg.Authority.APIKey,
			Timeout: cfg.Authority.Timeout.Std(),
		}),
		cfg.Domains.CacheTTL.Std(),
	)

	mfaManager := mfa.NewManager(totpSecrets, cfg.Issuer.Name)

	resolver := identity.NewResolver(accounts, federated, oracle)
	if cfg.RateLimit.Enabled {
		resolver.WithLoginLimiter(loginLimiter(cfg, cacheClient))
	}

	return &deps{
		pool:     pool,
		cache:    cacheClient,
		Store:    store,
		Resolver: resolver,
		Pending:  identity.NewPendingLinks(cacheClient, cfg.Federation.PendingLinkTTL.Std()),
		Registry: upstream.NewRegistry(providers, cfg.Federation.ClientCacheTTL.Std(), cfg.Federation.ExchangeTimeout.Std()),
		MFA:      mfaManager,
		Policy:   interaction.NewPolicy(mfaManager),
		Granter:  interaction.NewGranter(store.Kind(protocol.KindGrant), 0),
		Oracle:   oracle,
	}, nil
}

// loginLimiter: Redis compartido cuando el cache es redis, si no el limiter
// in-process (suficiente para dev de una sola réplica).
func loginLimiter(cfg *config.Config, c cache.Client) rate.Limiter {
	if rc, ok := c.(interface{ Redis() *rdb.Client }); ok {
		return rate.NewRedisLimiter(rc.Redis(), "rl:", cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window.Std())
	}
	return rate.NewMemoryLimiter(cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window.Std())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
