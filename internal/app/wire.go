package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/cpmoracle/internal/blob/s3"
	"github.com/alanyoungcy/cpmoracle/internal/cache/redis"
	"github.com/alanyoungcy/cpmoracle/internal/chain"
	"github.com/alanyoungcy/cpmoracle/internal/config"
	"github.com/alanyoungcy/cpmoracle/internal/crypto"
	"github.com/alanyoungcy/cpmoracle/internal/domain"
	"github.com/alanyoungcy/cpmoracle/internal/metrics"
	"github.com/alanyoungcy/cpmoracle/internal/notify"
	"github.com/alanyoungcy/cpmoracle/internal/oracle"
	"github.com/alanyoungcy/cpmoracle/internal/service"
	"github.com/alanyoungcy/cpmoracle/internal/store/postgres"
)

const metricsNamespace = "cpmoracle"

// Dependencies bundles everything the modes need. Optional backends stay nil
// when the mode does not use them. It is constructed by Wire and torn down by
// the returned cleanup function.
type Dependencies struct {
	// Chain
	Chain    *chain.Client
	Reserves *chain.ReserveReader
	Feeds    *chain.FeedReader
	Registry *oracle.Registry
	Signer   *crypto.Signer

	// Stores
	Postgres    *postgres.Client
	AnswerStore *postgres.AnswerStore
	AuditStore  *postgres.AuditStore

	// Caches
	Redis       *redis.Client
	AnswerCache *redis.AnswerCache
	RateLimiter *redis.RateLimiter
	LockManager *redis.LockManager
	SignalBus   *redis.SignalBus

	// Blob storage
	S3         *s3blob.Client
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Observability
	Metrics    *metrics.Metrics
	Prometheus *prometheus.Registry
	Notifier   *notify.Notifier

	Oracle *service.OracleService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Prometheus: prometheus.NewRegistry()}
	deps.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Prometheus, metricsNamespace)

	// --- PostgreSQL ---
	if cfg.NeedsPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		deps.Postgres = pgClient
		deps.AnswerStore = postgres.NewAnswerStore(pgClient.Pool())
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Redis ---
	if cfg.NeedsRedis() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.AnswerCache = redis.NewAnswerCache(redisClient, cfg.Oracle.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Oracle.StreamLimit))
	}

	// --- S3 blob storage ---
	if cfg.NeedsS3() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.S3 = s3Client
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		if deps.AnswerStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), reader, deps.AnswerStore, deps.AuditStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if cfg.Mode == "archive" {
		return deps, cleanup, nil
	}

	// --- Chain ---
	chainClient, err := chain.Dial(ctx, chain.ClientConfig{
		RPCURL:            cfg.Chain.RPCURL,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		Burst:             cfg.Chain.Burst,
		CallTimeout:       cfg.Chain.CallTimeout.Duration,
		BreakerFailures:   uint32(max(cfg.Chain.BreakerFailures, 0)),
		BreakerCooldown:   cfg.Chain.BreakerCooldown.Duration,
		OnBreakerChange: func(open bool) {
			v := 0.0
			if open {
				v = 1
			}
			deps.Metrics.BreakerOpenState.Set(v)
		},
	}, logger)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient
	deps.Reserves = chain.NewReserveReader(chainClient)
	deps.Feeds = chain.NewFeedReader(chainClient)

	bindings, err := cfg.TokenBindings()
	if err != nil {
		return fail("tokens", err)
	}
	if bindings, err = resolvePools(ctx, deps.Reserves, cfg.Chain.UniswapV1Factory, bindings, logger); err != nil {
		return fail("tokens", err)
	}
	if deps.Registry, err = oracle.NewRegistry(bindings); err != nil {
		return fail("registry", err)
	}

	if cfg.Signer.Enabled() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Signer.PrivateKey,
			EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
			KeyPassword:      cfg.Signer.KeyPassword,
		})
		if err != nil {
			return fail("signer", err)
		}
		if deps.Signer, err = crypto.NewSigner(key, cfg.Chain.ChainID); err != nil {
			return fail("signer", err)
		}
		logger.Info("answers will be signed", slog.String("signer", deps.Signer.Address().Hex()))
	}

	oracleDeps := service.Deps{
		Registry:    deps.Registry,
		Blocks:      deps.Chain,
		Reserves:    deps.Reserves,
		Feeds:       deps.Feeds,
		Metrics:     deps.Metrics,
		Notifier:    deps.Notifier,
		LockTTL:     cfg.Oracle.LockTTL.Duration,
		Concurrency: 4,
		Logger:      logger,
	}
	// Typed nils must not reach the interfaces.
	if deps.Signer != nil {
		oracleDeps.Signer = deps.Signer
	}
	if deps.AnswerCache != nil {
		oracleDeps.Cache = deps.AnswerCache
		oracleDeps.Bus = deps.SignalBus
		oracleDeps.Locks = deps.LockManager
	}
	if deps.AnswerStore != nil {
		oracleDeps.Store = deps.AnswerStore
		oracleDeps.Audit = deps.AuditStore
	}
	if deps.Oracle, err = service.NewOracleService(oracleDeps); err != nil {
		return fail("oracle service", err)
	}

	return deps, cleanup, nil
}

// resolvePools fills in missing Uniswap V1 exchange addresses from the
// factory.
func resolvePools(
	ctx context.Context,
	reserves *chain.ReserveReader,
	factoryHex string,
	bindings []domain.TokenBinding,
	logger *slog.Logger,
) ([]domain.TokenBinding, error) {
	for i, b := range bindings {
		if b.Pool != (common.Address{}) {
			continue
		}
		if b.Oracle.VenueID != domain.VenueUniswapV1 || factoryHex == "" {
			return nil, fmt.Errorf("%s: no pool address: %w", b.Symbol, domain.ErrInvalidConfig)
		}
		pool, err := reserves.ResolveExchange(ctx, common.HexToAddress(factoryHex), b.Token)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Symbol, err)
		}
		logger.Info("resolved uniswap v1 exchange",
			slog.String("symbol", b.Symbol),
			slog.String("pool", pool.Hex()),
		)
		bindings[i].Pool = pool
	}
	return bindings, nil
}
