package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
	"github.com/alanyoungcy/cpmoracle/internal/metrics"
	"github.com/alanyoungcy/cpmoracle/internal/notify"
	"github.com/alanyoungcy/cpmoracle/internal/oracle"
)

var (
	daiPrimary  = common.HexToAddress("0x01")
	daiFallback = common.HexToAddress("0x02")
)

func dec(t *testing.T, s string) uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	require.NoError(t, err)
	return *v
}

type fakeChain struct {
	mu         sync.Mutex
	block      uint64
	headErr    error
	snap       domain.ReserveSnapshot
	snapErr    error
	prices     map[common.Address]string
	feedErr    map[common.Address]error
	snapReads  int
	blocksSeen []uint64
}

func (f *fakeChain) LatestBlock(context.Context) (uint64, error) {
	return f.block, f.headErr
}

func (f *fakeChain) ReadReserves(_ context.Context, _ domain.TokenBinding, block uint64) (domain.ReserveSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapReads++
	f.blocksSeen = append(f.blocksSeen, block)
	if f.snapErr != nil {
		return domain.ReserveSnapshot{}, f.snapErr
	}
	s := f.snap
	s.BlockNumber = block
	return s, nil
}

func (f *fakeChain) ReadPrice(_ context.Context, feed domain.FeedRef, block uint64) (domain.ReferencePrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocksSeen = append(f.blocksSeen, block)
	if err := f.feedErr[feed.Address]; err != nil {
		return domain.ReferencePrice{}, err
	}
	v, err := uint256.FromDecimal(f.prices[feed.Address])
	if err != nil {
		return domain.ReferencePrice{}, nil
	}
	return domain.NewReferencePrice(v), nil
}

type memCache struct {
	mu      sync.Mutex
	answers map[string]domain.Answer
}

func (c *memCache) SetAnswer(_ context.Context, a domain.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers[a.Symbol] = a
	return nil
}

func (c *memCache) GetAnswer(_ context.Context, symbol string) (domain.Answer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.answers[symbol]
	if !ok {
		return domain.Answer{}, domain.ErrNotFound
	}
	return a, nil
}

type memStore struct {
	mu   sync.Mutex
	rows []domain.Answer
}

func (s *memStore) Insert(_ context.Context, a domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, a)
	return nil
}

func (s *memStore) Latest(_ context.Context, symbol string) (domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].Symbol == symbol {
			return s.rows[i], nil
		}
	}
	return domain.Answer{}, domain.ErrNotFound
}

func (s *memStore) ListBySymbol(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Answer
	for _, a := range s.rows {
		if a.Symbol == symbol {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListBefore(context.Context, time.Time, int) ([]domain.Answer, error) {
	return nil, nil
}

func (s *memStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memAudit struct {
	mu     sync.Mutex
	events []string
	detail []map[string]any
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.StreamMessage, len(b.stream))
	for i, p := range b.stream {
		out[i] = domain.StreamMessage{ID: "x", Payload: p}
	}
	return out, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type stubSigner struct{}

func (stubSigner) SignAnswer(a domain.Answer) (string, error) { return "0xsig-" + a.Symbol, nil }
func (stubSigner) Address() common.Address                    { return common.HexToAddress("0xabc") }

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "rec" }

type harness struct {
	svc    *OracleService
	chain  *fakeChain
	cache  *memCache
	store  *memStore
	audit  *memAudit
	bus    *memBus
	locks  *memLocks
	m      *metrics.Metrics
	sender *recordingSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := oracle.NewRegistry([]domain.TokenBinding{
		{
			Symbol:   "DAI",
			Oracle:   domain.TokenOracleConfig{DeviationBps: 300, Topology: domain.TopologyMultiSided, VenueID: domain.VenueUniswapV1},
			Primary:  domain.FeedRef{Kind: domain.FeedChainlink, Address: daiPrimary},
			Fallback: domain.FeedRef{Kind: domain.FeedAssetOracle, Address: daiFallback},
		},
		{
			Symbol: "sETH",
			Oracle: domain.TokenOracleConfig{PeggedToBase: true, DeviationBps: 300, Topology: domain.TopologyMultiSided, VenueID: domain.VenueUniswapV1},
		},
	})
	require.NoError(t, err)

	h := &harness{
		chain: &fakeChain{
			block: 9_500_000,
			snap: domain.ReserveSnapshot{
				BaseReserve:   dec(t, "19459612149632905006122"),
				TokenReserve:  dec(t, "3648060747043017549501706"),
				TotalShares:   dec(t, "19459612149632905006122"),
				TokenDecimals: 18,
			},
			prices: map[common.Address]string{
				daiPrimary:  "5354890000000000",
				daiFallback: "5555550000000000",
			},
			feedErr: map[common.Address]error{},
		},
		cache:  &memCache{answers: map[string]domain.Answer{}},
		store:  &memStore{},
		audit:  &memAudit{},
		bus:    &memBus{published: map[string][][]byte{}},
		locks:  &memLocks{held: map[string]bool{}},
		m:      metrics.New(nil, "test"),
		sender: &recordingSender{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h.svc, err = NewOracleService(Deps{
		Registry: reg,
		Blocks:   h.chain,
		Reserves: h.chain,
		Feeds:    h.chain,
		Signer:   stubSigner{},
		Cache:    h.cache,
		Store:    h.store,
		Bus:      h.bus,
		Locks:    h.locks,
		Metrics:  h.m,
		Notifier: notify.NewNotifier([]notify.Sender{h.sender}, nil, logger),
		Audit:    h.audit,
		Logger:   logger,
	})
	require.NoError(t, err)
	h.svc.now = func() time.Time { return time.Unix(1_600_000_000, 0) }
	return h
}

func TestNewOracleService_RequiresReaders(t *testing.T) {
	_, err := NewOracleService(Deps{})
	assert.Error(t, err)
}

func TestLatestAnswer_PrimaryFeed(t *testing.T) {
	h := newHarness(t)

	a, err := h.svc.LatestAnswer(context.Background(), "dai")
	require.NoError(t, err)

	assert.Equal(t, "DAI", a.Symbol)
	assert.Equal(t, "2003872218188156474", a.Value.Dec())
	assert.Equal(t, "5354890000000000", a.Reference.Dec())
	assert.Equal(t, domain.SourcePrimary, a.Source)
	assert.Equal(t, domain.PathSpot, a.Path)
	assert.Equal(t, uint64(9_500_000), a.BlockNumber)
	assert.Equal(t, "0xsig-DAI", a.Signature)
	assert.Equal(t, common.HexToAddress("0xabc").Hex(), a.Signer)
	assert.NotEmpty(t, a.ID)

	for _, b := range h.chain.blocksSeen {
		assert.Equal(t, uint64(9_500_000), b)
	}

	cached, err := h.svc.CachedAnswer(context.Background(), "DAI")
	require.NoError(t, err)
	assert.Equal(t, a, cached)
	require.Len(t, h.store.rows, 1)
	require.Len(t, h.bus.published[AnswerChannel("DAI")], 1)
	require.Len(t, h.bus.stream, 1)

	evt, err := DecodeAnswerEvent(h.bus.stream[0])
	require.NoError(t, err)
	assert.Equal(t, a.Value, evt.Value)
	assert.Equal(t, a.ID, evt.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.AnswersTotal.WithLabelValues("DAI", "primary", "spot")))
	assert.Empty(t, h.sender.titles)
}

func TestLatestAnswer_PrimaryFailureUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.chain.feedErr[daiPrimary] = errors.New("execution reverted")

	a, err := h.svc.LatestAnswer(context.Background(), "DAI")
	require.NoError(t, err)
	assert.Equal(t, "2041067966294721303", a.Value.Dec())
	assert.Equal(t, domain.SourceFallback, a.Source)
	assert.Equal(t, domain.PathNormalized, a.Path)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.ReadErrorsTotal.WithLabelValues("DAI", "primary")))
	assert.Equal(t, []string{"cpmoracle DAI: deviation"}, h.sender.titles)
	assert.Equal(t, []string{"answer.deviation"}, h.audit.events)
	assert.Equal(t, "DAI", h.audit.detail[0]["symbol"])
}

func TestLatestAnswer_NoFeedSkipsReserves(t *testing.T) {
	h := newHarness(t)
	h.chain.prices[daiPrimary] = "0"
	h.chain.prices[daiFallback] = "0"

	a, err := h.svc.LatestAnswer(context.Background(), "DAI")
	require.NoError(t, err)
	assert.True(t, a.Value.IsZero())
	assert.Equal(t, domain.SourceNone, a.Source)
	assert.Equal(t, domain.PathNone, a.Path)
	assert.Zero(t, h.chain.snapReads)
	assert.Equal(t, []string{"cpmoracle DAI: no_answer"}, h.sender.titles)
	assert.Equal(t, []string{"answer.no_answer"}, h.audit.events)
	assert.Len(t, h.store.rows, 1)
}

func TestLatestAnswer_PeggedSkipsFeeds(t *testing.T) {
	h := newHarness(t)
	h.chain.snap = domain.ReserveSnapshot{
		BaseReserve:   dec(t, "14666310396622461599163"),
		TokenReserve:  dec(t, "14666310396622461599163"),
		TotalShares:   dec(t, "14666310396622461599163"),
		TokenDecimals: 18,
	}

	a, err := h.svc.LatestAnswer(context.Background(), "SETH")
	require.NoError(t, err)
	assert.Equal(t, "sETH", a.Symbol)
	assert.Equal(t, "2000000000000000000", a.Value.Dec())
	assert.Equal(t, domain.SourcePegged, a.Source)
	assert.Len(t, h.chain.blocksSeen, 1)
}

func TestLatestAnswer_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.LatestAnswer(context.Background(), "WBTC")
	assert.ErrorIs(t, err, domain.ErrUnknownToken)

	h.chain.snapErr = domain.ErrSnapshotUnavailable
	_, err = h.svc.LatestAnswer(context.Background(), "DAI")
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
	assert.Equal(t, []string{"cpmoracle DAI: snapshot_unavailable"}, h.sender.titles)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.ReadErrorsTotal.WithLabelValues("DAI", "reserves")))
	assert.Empty(t, h.store.rows)

	h.chain.headErr = errors.New("rpc down")
	_, err = h.svc.LatestAnswer(context.Background(), "DAI")
	assert.ErrorContains(t, err, "latest block")
}

func TestCachedAnswer_FallsBackToStore(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CachedAnswer(context.Background(), "DAI")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored := domain.Answer{ID: "old", Symbol: "DAI"}
	require.NoError(t, h.store.Insert(context.Background(), stored))
	got, err := h.svc.CachedAnswer(context.Background(), "DAI")
	require.NoError(t, err)
	assert.Equal(t, "old", got.ID)
}

func TestPollOnce(t *testing.T) {
	h := newHarness(t)

	answers, err := h.svc.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "DAI", answers[0].Symbol)
	assert.Equal(t, "sETH", answers[1].Symbol)
	assert.Empty(t, h.locks.held)

	h.locks.held["poll:DAI"] = true
	answers, err = h.svc.PollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "sETH", answers[0].Symbol)
}

func TestPollOnce_JoinsErrors(t *testing.T) {
	h := newHarness(t)
	h.chain.snapErr = domain.ErrSnapshotUnavailable

	answers, err := h.svc.PollOnce(context.Background())
	assert.Empty(t, answers)
	assert.ErrorIs(t, err, domain.ErrSnapshotUnavailable)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.svc.Run(ctx, time.Hour), context.Canceled)
}

func TestHistoryAndTokens(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.LatestAnswer(context.Background(), "DAI")
	require.NoError(t, err)

	hist, err := h.svc.History(context.Background(), "dai", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	tokens := h.svc.Tokens()
	require.Len(t, tokens, 2)
	assert.Equal(t, "DAI", tokens[0].Symbol)

	cfg, err := h.svc.TokenConfig("seth")
	require.NoError(t, err)
	assert.True(t, cfg.PeggedToBase)

	events, err := h.svc.RecentEvents(context.Background(), "0", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
