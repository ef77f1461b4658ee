// Package service orchestrates answer computation: it pins a block, reads
// the pool and the reference feeds there, runs the oracle engine and fans
// the result out to the cache, the history store and the signal bus.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
	"github.com/alanyoungcy/cpmoracle/internal/metrics"
	"github.com/alanyoungcy/cpmoracle/internal/notify"
	"github.com/alanyoungcy/cpmoracle/internal/oracle"
)

// AnswerSigner attests computed answers.
type AnswerSigner interface {
	SignAnswer(a domain.Answer) (string, error)
	Address() common.Address
}

// Deps lists the collaborators of an OracleService. Registry, Blocks,
// Reserves and Feeds are required; the rest may be nil, which disables the
// corresponding side effect.
type Deps struct {
	Registry *oracle.Registry
	Blocks   domain.BlockSource
	Reserves domain.ReserveReader
	Feeds    domain.PriceFeedReader

	Signer   AnswerSigner
	Cache    domain.AnswerCache
	Store    domain.AnswerStore
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Audit    domain.AuditStore

	LockTTL     time.Duration
	Concurrency int
	Logger      *slog.Logger
}

// OracleService computes, records and serves answers for the registered
// tokens.
type OracleService struct {
	d      Deps
	now    func() time.Time
	logger *slog.Logger
}

// NewOracleService checks the required dependencies and returns a service.
func NewOracleService(d Deps) (*OracleService, error) {
	if d.Registry == nil || d.Blocks == nil || d.Reserves == nil || d.Feeds == nil {
		return nil, errors.New("service: registry, block source, reserve reader and feed reader are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.LockTTL <= 0 {
		d.LockTTL = 30 * time.Second
	}
	if d.Concurrency <= 0 {
		d.Concurrency = 4
	}
	return &OracleService{
		d:      d,
		now:    time.Now,
		logger: d.Logger.With(slog.String("component", "oracle_service")),
	}, nil
}

// Tokens returns every registered binding in symbol order.
func (s *OracleService) Tokens() []domain.TokenBinding {
	symbols := s.d.Registry.Symbols()
	out := make([]domain.TokenBinding, 0, len(symbols))
	for _, sym := range symbols {
		b, err := s.d.Registry.Binding(sym)
		if err == nil {
			out = append(out, b)
		}
	}
	return out
}

// TokenConfig returns the oracle configuration for symbol.
func (s *OracleService) TokenConfig(symbol string) (domain.TokenOracleConfig, error) {
	return s.d.Registry.Config(symbol)
}

// LatestAnswer computes a fresh answer for symbol at the current head and
// records it. A zero answer with SourceNone is returned, not an error, when
// no reference feed is available.
func (s *OracleService) LatestAnswer(ctx context.Context, symbol string) (domain.Answer, error) {
	start := s.now()

	binding, err := s.d.Registry.Binding(symbol)
	if err != nil {
		return domain.Answer{}, err
	}
	engine, err := s.d.Registry.Engine(symbol)
	if err != nil {
		return domain.Answer{}, err
	}
	symbol = binding.Symbol

	block, err := s.d.Blocks.LatestBlock(ctx)
	if err != nil {
		s.readError(symbol, "head")
		return domain.Answer{}, fmt.Errorf("service: latest block: %w", err)
	}

	var primary, fallback domain.ReferencePrice
	if !binding.Oracle.PeggedToBase {
		primary, fallback = s.readFeeds(ctx, binding, block)
	}

	var res oracle.Result
	if binding.Oracle.PeggedToBase || primary.Valid || fallback.Valid {
		snap, err := s.d.Reserves.ReadReserves(ctx, binding, block)
		if err != nil {
			s.readError(symbol, "reserves")
			s.alert(ctx, notify.EventSnapshotUnavailable, symbol,
				fmt.Sprintf("reserves unreadable at block %d: %v", block, err))
			return domain.Answer{}, fmt.Errorf("service: %s: %w", symbol, err)
		}
		if res, err = engine.LatestAnswer(snap, primary, fallback); err != nil {
			return domain.Answer{}, fmt.Errorf("service: %s: %w", symbol, err)
		}
	} else {
		res = oracle.Result{Source: domain.SourceNone, Path: domain.PathNone}
	}

	answer := domain.Answer{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Value:        res.Answer,
		Reference:    res.Reference,
		Source:       res.Source,
		Path:         res.Path,
		DeviationBps: res.DeviationBps,
		BlockNumber:  block,
		ComputedAt:   s.now().UTC(),
	}

	if s.d.Signer != nil {
		sig, err := s.d.Signer.SignAnswer(answer)
		if err != nil {
			return domain.Answer{}, fmt.Errorf("service: sign %s: %w: %w", symbol, domain.ErrSigningFailed, err)
		}
		answer.Signature = sig
		answer.Signer = s.d.Signer.Address().Hex()
	}

	s.record(ctx, answer)
	if s.d.Metrics != nil {
		s.d.Metrics.ObserveAnswer(answer, s.now().Sub(start))
	}

	switch {
	case answer.Source == domain.SourceNone:
		s.alert(ctx, notify.EventNoAnswer, symbol,
			fmt.Sprintf("no valid reference price at block %d", block))
	case answer.Path == domain.PathNormalized:
		s.alert(ctx, notify.EventDeviation, symbol,
			fmt.Sprintf("spot deviates %d bps from reference at block %d; normalized answer %s",
				answer.DeviationBps, block, answer.Value.Dec()))
	}

	s.logger.DebugContext(ctx, "answer computed",
		slog.String("symbol", symbol),
		slog.String("answer", answer.Value.Dec()),
		slog.String("source", string(answer.Source)),
		slog.String("path", string(answer.Path)),
		slog.Uint64("block", block),
	)
	return answer, nil
}

// readFeeds reads both feeds concurrently. A failed read counts as an
// invalid reference so the other feed can still serve.
func (s *OracleService) readFeeds(ctx context.Context, b domain.TokenBinding, block uint64) (primary, fallback domain.ReferencePrice) {
	var g errgroup.Group
	read := func(kind string, feed domain.FeedRef, dst *domain.ReferencePrice) {
		if !feed.Configured() {
			return
		}
		g.Go(func() error {
			p, err := s.d.Feeds.ReadPrice(ctx, feed, block)
			if err != nil {
				s.readError(b.Symbol, kind)
				s.logger.WarnContext(ctx, "feed read failed",
					slog.String("symbol", b.Symbol),
					slog.String("feed", kind),
					slog.String("address", feed.Address.Hex()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			*dst = p
			return nil
		})
	}
	read("primary", b.Primary, &primary)
	read("fallback", b.Fallback, &fallback)
	_ = g.Wait()
	return primary, fallback
}

// record fans an answer out to the cache, store and bus. Failures are logged
// and do not fail the computation.
func (s *OracleService) record(ctx context.Context, a domain.Answer) {
	warn := func(op string, err error) {
		s.logger.WarnContext(ctx, "oracle_service: "+op+" failed",
			slog.String("symbol", a.Symbol),
			slog.String("error", err.Error()),
		)
	}

	if s.d.Cache != nil {
		if err := s.d.Cache.SetAnswer(ctx, a); err != nil {
			warn("cache answer", err)
		}
	}
	if s.d.Store != nil {
		if err := s.d.Store.Insert(ctx, a); err != nil {
			warn("store answer", err)
		}
	}
	if s.d.Bus != nil {
		evt, err := EncodeAnswerEvent(a)
		if err != nil {
			warn("encode answer", err)
			return
		}
		if err := s.d.Bus.Publish(ctx, AnswerChannel(a.Symbol), evt); err != nil {
			warn("publish answer", err)
		}
		if err := s.d.Bus.StreamAppend(ctx, AnswerStream, evt); err != nil {
			warn("stream answer", err)
		}
	}
}

func (s *OracleService) readError(symbol, kind string) {
	if s.d.Metrics != nil {
		s.d.Metrics.ReadError(symbol, kind)
	}
}

// alert records an anomaly in the audit log and forwards it to the notifier
// when the event is enabled there.
func (s *OracleService) alert(ctx context.Context, event, symbol, msg string) {
	if s.d.Audit != nil {
		if err := s.d.Audit.Log(ctx, "answer."+event, map[string]any{
			"symbol":  symbol,
			"message": msg,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}
	if !s.d.Notifier.Enabled(event) {
		return
	}
	if err := s.d.Notifier.Notify(ctx, event, "cpmoracle "+symbol+": "+event, msg); err != nil {
		s.logger.WarnContext(ctx, "notify failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// CachedAnswer returns the most recent recorded answer for symbol without
// touching the chain: the cache first, then the history store.
func (s *OracleService) CachedAnswer(ctx context.Context, symbol string) (domain.Answer, error) {
	b, err := s.d.Registry.Binding(symbol)
	if err != nil {
		return domain.Answer{}, err
	}
	if s.d.Cache != nil {
		a, err := s.d.Cache.GetAnswer(ctx, b.Symbol)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "cache read failed", slog.String("symbol", b.Symbol), slog.String("error", err.Error()))
		}
	}
	if s.d.Store == nil {
		return domain.Answer{}, domain.ErrNotFound
	}
	return s.d.Store.Latest(ctx, b.Symbol)
}

// History lists recorded answers for symbol, newest first.
func (s *OracleService) History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Answer, error) {
	b, err := s.d.Registry.Binding(symbol)
	if err != nil {
		return nil, err
	}
	if s.d.Store == nil {
		return nil, fmt.Errorf("service: history: %w", domain.ErrNotFound)
	}
	return s.d.Store.ListBySymbol(ctx, b.Symbol, opts)
}

// RecentEvents replays up to count answer events after lastID from the
// answer stream.
func (s *OracleService) RecentEvents(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.d.Bus == nil {
		return nil, nil
	}
	return s.d.Bus.StreamRead(ctx, AnswerStream, lastID, count)
}

// PollOnce computes an answer for every token, holding a per-token lock so
// concurrent replicas share the work. Tokens whose lock is held elsewhere
// are skipped. Answers come back in symbol order; failures are joined.
func (s *OracleService) PollOnce(ctx context.Context) ([]domain.Answer, error) {
	symbols := s.d.Registry.Symbols()
	results := make([]*domain.Answer, len(symbols))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.d.Concurrency)

	for i, sym := range symbols {
		g.Go(func() error {
			a, err := s.pollToken(gctx, sym)
			switch {
			case errors.Is(err, domain.ErrLockHeld):
				s.logger.DebugContext(gctx, "token locked elsewhere", slog.String("symbol", sym))
			case err != nil:
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			default:
				results[i] = &a
			}
			return nil
		})
	}
	_ = g.Wait()

	answers := make([]domain.Answer, 0, len(symbols))
	for _, a := range results {
		if a != nil {
			answers = append(answers, *a)
		}
	}
	return answers, errors.Join(errs...)
}

func (s *OracleService) pollToken(ctx context.Context, symbol string) (domain.Answer, error) {
	if s.d.Locks != nil {
		unlock, err := s.d.Locks.Acquire(ctx, "poll:"+symbol, s.d.LockTTL)
		if err != nil {
			return domain.Answer{}, err
		}
		defer unlock()
	}
	return s.LatestAnswer(ctx, symbol)
}

// Run polls every interval until ctx is cancelled, starting immediately.
func (s *OracleService) Run(ctx context.Context, interval time.Duration) error {
	s.logger.InfoContext(ctx, "poller started",
		slog.Duration("interval", interval),
		slog.Int("tokens", len(s.d.Registry.Symbols())),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		answers, err := s.PollOnce(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "poll failed", slog.String("error", err.Error()))
		}
		s.logger.InfoContext(ctx, "poll complete", slog.Int("answers", len(answers)))

		select {
		case <-ctx.Done():
			s.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
