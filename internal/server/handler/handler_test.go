package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
	"github.com/alanyoungcy/cpmoracle/internal/service"
)

type fakeOracle struct {
	answer   domain.Answer
	err      error
	lastOpts domain.ListOpts
	events   []domain.StreamMessage
}

func (f *fakeOracle) Tokens() []domain.TokenBinding {
	return []domain.TokenBinding{{
		Symbol:  "DAI",
		Pool:    common.HexToAddress("0x2a1530C4C41db0B0b2bB646CB5Eb1A67b7158667"),
		Oracle:  domain.TokenOracleConfig{DeviationBps: 300, Topology: domain.TopologyMultiSided, VenueID: domain.VenueUniswapV1},
		Primary: domain.FeedRef{Kind: domain.FeedChainlink, Address: common.HexToAddress("0x01")},
	}}
}

func (f *fakeOracle) TokenConfig(symbol string) (domain.TokenOracleConfig, error) {
	if !strings.EqualFold(symbol, "DAI") {
		return domain.TokenOracleConfig{}, domain.ErrUnknownToken
	}
	return domain.TokenOracleConfig{DeviationBps: 300, Topology: domain.TopologyMultiSided, VenueID: 2}, nil
}

func (f *fakeOracle) LatestAnswer(context.Context, string) (domain.Answer, error) {
	return f.answer, f.err
}

func (f *fakeOracle) CachedAnswer(context.Context, string) (domain.Answer, error) {
	return f.answer, f.err
}

func (f *fakeOracle) History(_ context.Context, _ string, opts domain.ListOpts) ([]domain.Answer, error) {
	f.lastOpts = opts
	return nil, f.err
}

func (f *fakeOracle) RecentEvents(context.Context, string, int) ([]domain.StreamMessage, error) {
	return f.events, f.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testAnswer() domain.Answer {
	a := domain.Answer{
		ID:          "a1",
		Symbol:      "DAI",
		Source:      domain.SourcePrimary,
		Path:        domain.PathSpot,
		BlockNumber: 9_500_000,
		ComputedAt:  time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	a.Value.SetUint64(2003872218188156474)
	a.Reference.SetUint64(5354890000000000)
	return a
}

func serve(t *testing.T, pattern string, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestOracleHandler_LatestAnswer(t *testing.T) {
	h := NewOracleHandler(&fakeOracle{answer: testAnswer()}, quietLogger())
	rec := serve(t, "GET /api/oracle/{symbol}/latest-answer", h.LatestAnswer, "/api/oracle/DAI/latest-answer")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2003872218188156474", body["answer"])
	assert.Equal(t, "primary", body["source"])
	assert.EqualValues(t, 9_500_000, body["block_number"])
}

func TestOracleHandler_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnknownToken, http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrSnapshotUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := NewOracleHandler(&fakeOracle{err: tt.err}, quietLogger())
		rec := serve(t, "GET /api/oracle/{symbol}/cached", h.CachedAnswer, "/api/oracle/DAI/cached")
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestOracleHandler_History(t *testing.T) {
	f := &fakeOracle{}
	h := NewOracleHandler(f, quietLogger())

	rec := serve(t, "GET /api/oracle/{symbol}/history", h.History,
		"/api/oracle/DAI/history?limit=9999&offset=5&since=2020-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLimit, f.lastOpts.Limit)
	assert.Equal(t, 5, f.lastOpts.Offset)
	require.NotNil(t, f.lastOpts.Since)
	assert.Equal(t, 2020, f.lastOpts.Since.Year())
	assert.JSONEq(t, `{"symbol":"DAI","answers":[],"limit":500,"offset":5}`, rec.Body.String())

	rec = serve(t, "GET /api/oracle/{symbol}/history", h.History, "/api/oracle/DAI/history?until=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOracleHandler_TokensAndConfig(t *testing.T) {
	h := NewOracleHandler(&fakeOracle{}, quietLogger())

	rec := serve(t, "GET /api/tokens", h.ListTokens, "/api/tokens")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"DAI"`)
	assert.Contains(t, rec.Body.String(), `"primary_feed":"0x0000000000000000000000000000000000000001"`)
	assert.NotContains(t, rec.Body.String(), "fallback_feed")

	rec = serve(t, "GET /api/tokens/{symbol}/config", h.GetConfig, "/api/tokens/DAI/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbol":"DAI","pegged_to_base":false,"deviation_bps":300,"topology":"multi_sided","venue_id":2}`, rec.Body.String())

	rec = serve(t, "GET /api/tokens/{symbol}/config", h.GetConfig, "/api/tokens/dai/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"DAI"`)

	rec = serve(t, "GET /api/tokens/{symbol}/config", h.GetConfig, "/api/tokens/WBTC/config")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOracleHandler_Stream(t *testing.T) {
	payload, err := service.EncodeAnswerEvent(testAnswer())
	require.NoError(t, err)
	f := &fakeOracle{events: []domain.StreamMessage{
		{ID: "1-0", Payload: payload},
		{ID: "2-0", Payload: []byte("junk")},
	}}
	h := NewOracleHandler(f, quietLogger())

	rec := serve(t, "GET /api/stream", h.Stream, "/api/stream?after=0&count=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []struct {
			ID     string        `json:"id"`
			Answer domain.Answer `json:"answer"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "1-0", body.Events[0].ID)
	assert.Equal(t, testAnswer().Value, body.Events[0].Answer.Value)
}

type fakeBlobs struct {
	prefix string
	infos  []domain.BlobInfo
}

func (f *fakeBlobs) Get(context.Context, string) (io.ReadCloser, error) { return nil, nil }
func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.prefix = prefix
	return f.infos, nil
}

func TestArchiveHandler(t *testing.T) {
	blobs := &fakeBlobs{infos: []domain.BlobInfo{{
		Path:         "archive/answers/2020-03.jsonl",
		Size:         1234,
		LastModified: time.Date(2020, 4, 1, 3, 0, 0, 0, time.UTC),
	}}}
	h := NewArchiveHandler(blobs, quietLogger())

	rec := serve(t, "GET /api/archive", h.List, "/api/archive")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive/answers/", blobs.prefix)
	assert.Contains(t, rec.Body.String(), `"size":1234`)
	assert.Contains(t, rec.Body.String(), `"last_modified":"2020-04-01T03:00:00Z"`)

	rec = serve(t, "GET /api/archive", h.List, "/api/archive?prefix=secrets/")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, "GET /api/archive", NewArchiveHandler(nil, quietLogger()).List, "/api/archive")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeAudit struct {
	opts    domain.ListOpts
	entries []domain.AuditEntry
	err     error
}

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.opts = opts
	return f.entries, f.err
}

func TestAuditHandler(t *testing.T) {
	audit := &fakeAudit{entries: []domain.AuditEntry{{
		ID:        7,
		Event:     "answer.deviation",
		Detail:    map[string]any{"symbol": "DAI"},
		CreatedAt: time.Date(2020, 9, 13, 12, 0, 0, 0, time.UTC),
	}}}
	h := NewAuditHandler(audit, quietLogger())

	rec := serve(t, "GET /api/audit", h.List, "/api/audit?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, audit.opts.Limit)
	assert.Contains(t, rec.Body.String(), `"event":"answer.deviation"`)
	assert.Contains(t, rec.Body.String(), `"created_at":"2020-09-13T12:00:00Z"`)

	rec = serve(t, "GET /api/audit", h.List, "/api/audit?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	audit.err = errors.New("pool closed")
	rec = serve(t, "GET /api/audit", h.List, "/api/audit")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(t, "GET /api/audit", NewAuditHandler(nil, quietLogger()).List, "/api/audit")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthAndStatus(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{"redis": pinger{}, "postgres": pinger{}}, quietLogger())
	rec := serve(t, "GET /api/health", h.HealthCheck, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	h = NewHealthHandler(map[string]Pinger{"redis": pinger{err: errors.New("refused")}}, quietLogger())
	rec = serve(t, "GET /api/health", h.HealthCheck, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"refused"`)

	s := NewStatusHandler("serve", "0xabc", time.Now())
	s.Breaker = func() string { return "closed" }
	s.Pools["redis"] = func() (int64, int64) { return 10, 7 }
	rec = serve(t, "GET /api/status", s.GetStatus, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rpc_breaker":"closed"`)
	assert.Contains(t, rec.Body.String(), `"redis":{"idle":7,"total":10}`)
}
