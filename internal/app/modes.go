package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cpmoracle/internal/pipeline"
	"github.com/alanyoungcy/cpmoracle/internal/server"
	"github.com/alanyoungcy/cpmoracle/internal/server/handler"
	"github.com/alanyoungcy/cpmoracle/internal/server/ws"
	"github.com/alanyoungcy/cpmoracle/internal/service"
)

// ServeMode runs the poller, the HTTP and WebSocket API, and the archive
// schedule until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Int("tokens", len(deps.Registry.Symbols())),
		slog.Duration("poll_interval", a.cfg.Oracle.PollInterval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Oracle.Run(ctx, a.cfg.Oracle.PollInterval.Duration)
	})

	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger).
			WithCounter(deps.Metrics.ArchivedTotal)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	if a.cfg.Server.Enabled {
		srv, hub := a.buildServer(deps)
		if hub != nil {
			g.Go(func() error { return hub.Run(ctx) })
		}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(srv.Start)
	}

	if err := deps.Notifier.NotifyAll(ctx, "cpmoracle started",
		fmt.Sprintf("serving %d tokens", len(deps.Registry.Symbols()))); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

// buildServer wires the HTTP handlers, the WebSocket hub and the metrics
// endpoint. The hub is nil without a signal bus; the caller runs it.
func (a *App) buildServer(deps *Dependencies) (*server.Server, *ws.Hub) {
	symbols := deps.Registry.Symbols()

	var hub *ws.Hub
	if deps.SignalBus != nil {
		channels := make([]string, len(symbols))
		for i, s := range symbols {
			channels[i] = service.AnswerChannel(s)
		}
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Channels:  channels,
			Tokens:    symbols,
			StartedAt: a.startedAt,
		})
	}

	pingers := map[string]handler.Pinger{"chain": chainPinger{deps}}
	status := handler.NewStatusHandler(a.cfg.Mode, "", a.startedAt)
	status.Breaker = deps.Chain.BreakerState
	if deps.Signer != nil {
		status.Signer = deps.Signer.Address().Hex()
	}
	if deps.Redis != nil {
		pingers["redis"] = deps.Redis
		status.Pools["redis"] = func() (int64, int64) {
			total, idle := deps.Redis.PoolStats()
			return int64(total), int64(idle)
		}
	}
	if deps.S3 != nil {
		pingers["s3"] = deps.S3
	}
	if deps.Postgres != nil {
		pingers["postgres"] = deps.Postgres
		status.Pools["postgres"] = func() (int64, int64) {
			total, idle := deps.Postgres.Stats()
			return int64(total), int64(idle)
		}
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(pingers, a.logger),
		Status:  status,
		Oracle:  handler.NewOracleHandler(deps.Oracle, a.logger),
		Archive: handler.NewArchiveHandler(deps.BlobReader, a.logger),
		Audit:   handler.NewAuditHandler(nil, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	cfg := server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimitPerMinute,
		RateLimitWindow: time.Minute,
	}
	if deps.RateLimiter != nil {
		return server.NewServer(cfg, handlers, hub, deps.Prometheus, deps.RateLimiter, a.logger), hub
	}
	return server.NewServer(cfg, handlers, hub, deps.Prometheus, nil, a.logger), hub
}

// chainPinger reports the RPC endpoint healthy when it returns a head block.
type chainPinger struct{ deps *Dependencies }

func (p chainPinger) Ping(ctx context.Context) error {
	_, err := p.deps.Chain.LatestBlock(ctx)
	return err
}

// PollMode runs only the poller, with no API. Several replicas may share
// the work through the per-token locks.
func (a *App) PollMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting poll mode")
	return deps.Oracle.Run(ctx, a.cfg.Oracle.PollInterval.Duration)
}

// OnceMode computes one answer per token and writes them to the output as
// JSON lines.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	answers, pollErr := deps.Oracle.PollOnce(ctx)

	enc := json.NewEncoder(a.out)
	for _, ans := range answers {
		if err := enc.Encode(ans); err != nil {
			return fmt.Errorf("app: write answer: %w", err)
		}
	}
	if pollErr != nil {
		return fmt.Errorf("app: once: %w", pollErr)
	}
	return nil
}

// ArchiveMode performs a single archive run and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires postgres and s3")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger).
		WithCounter(deps.Metrics.ArchivedTotal)
	n, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("answers", n))
	return nil
}
