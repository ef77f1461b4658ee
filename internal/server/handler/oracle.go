package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
	"github.com/alanyoungcy/cpmoracle/internal/service"
)

// OracleService defines the methods the oracle handler requires from the
// service layer.
type OracleService interface {
	Tokens() []domain.TokenBinding
	TokenConfig(symbol string) (domain.TokenOracleConfig, error)
	LatestAnswer(ctx context.Context, symbol string) (domain.Answer, error)
	CachedAnswer(ctx context.Context, symbol string) (domain.Answer, error)
	History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Answer, error)
	RecentEvents(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// OracleHandler serves token and answer endpoints.
type OracleHandler struct {
	oracle OracleService
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler with the given service and logger.
func NewOracleHandler(oracle OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{oracle: oracle, logger: logHandler(logger, "oracle")}
}

type tokenResponse struct {
	Symbol       string `json:"symbol"`
	Pool         string `json:"pool"`
	Token        string `json:"token"`
	Venue        uint32 `json:"venue_id"`
	Topology     string `json:"topology"`
	PeggedToBase bool   `json:"pegged_to_base"`
	DeviationBps uint32 `json:"deviation_bps"`
	Primary      string `json:"primary_feed,omitempty"`
	Fallback     string `json:"fallback_feed,omitempty"`
}

type configResponse struct {
	Symbol       string `json:"symbol"`
	PeggedToBase bool   `json:"pegged_to_base"`
	DeviationBps uint32 `json:"deviation_bps"`
	Topology     string `json:"topology"`
	VenueID      uint32 `json:"venue_id"`
}

type historyResponse struct {
	Symbol  string          `json:"symbol"`
	Answers []domain.Answer `json:"answers"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

type streamEntry struct {
	ID     string        `json:"id"`
	Answer domain.Answer `json:"answer"`
}

// ListTokens returns every configured token.
// GET /api/tokens
func (h *OracleHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	bindings := h.oracle.Tokens()
	out := make([]tokenResponse, 0, len(bindings))
	for _, b := range bindings {
		t := tokenResponse{
			Symbol:       b.Symbol,
			Pool:         b.Pool.Hex(),
			Token:        b.Token.Hex(),
			Venue:        b.Oracle.VenueID,
			Topology:     string(b.Oracle.Topology),
			PeggedToBase: b.Oracle.PeggedToBase,
			DeviationBps: b.Oracle.DeviationBps,
		}
		if b.Primary.Configured() {
			t.Primary = b.Primary.Address.Hex()
		}
		if b.Fallback.Configured() {
			t.Fallback = b.Fallback.Address.Hex()
		}
		out = append(out, t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

// GetConfig returns the oracle configuration for one token.
// GET /api/tokens/{symbol}/config
func (h *OracleHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	cfg, err := h.oracle.TokenConfig(symbol)
	if err != nil {
		h.fail(w, r, "token config", symbol, err)
		return
	}
	for _, b := range h.oracle.Tokens() {
		if strings.EqualFold(b.Symbol, symbol) {
			symbol = b.Symbol
			break
		}
	}
	writeJSON(w, http.StatusOK, configResponse{
		Symbol:       symbol,
		PeggedToBase: cfg.PeggedToBase,
		DeviationBps: cfg.DeviationBps,
		Topology:     string(cfg.Topology),
		VenueID:      cfg.VenueID,
	})
}

// LatestAnswer computes a fresh answer at the chain head.
// GET /api/oracle/{symbol}/latest-answer
func (h *OracleHandler) LatestAnswer(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	a, err := h.oracle.LatestAnswer(r.Context(), symbol)
	if err != nil {
		h.fail(w, r, "latest answer", symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CachedAnswer returns the last recorded answer without reading the chain.
// GET /api/oracle/{symbol}/cached
func (h *OracleHandler) CachedAnswer(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	a, err := h.oracle.CachedAnswer(r.Context(), symbol)
	if err != nil {
		h.fail(w, r, "cached answer", symbol, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// History lists recorded answers, newest first.
// GET /api/oracle/{symbol}/history?limit=50&offset=0&since=...&until=...
func (h *OracleHandler) History(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	answers, err := h.oracle.History(r.Context(), symbol, opts)
	if err != nil {
		h.fail(w, r, "history", symbol, err)
		return
	}
	if answers == nil {
		answers = []domain.Answer{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Symbol:  symbol,
		Answers: answers,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// Stream replays answer events recorded after the given stream id.
// GET /api/stream?after=0&count=100
func (h *OracleHandler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			count = n
		}
	}

	msgs, err := h.oracle.RecentEvents(r.Context(), q.Get("after"), count)
	if err != nil {
		h.fail(w, r, "stream", "", err)
		return
	}

	out := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		a, err := service.DecodeAnswerEvent(m.Payload)
		if err != nil {
			h.logger.WarnContext(r.Context(), "skipping undecodable stream entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, streamEntry{ID: m.ID, Answer: a})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *OracleHandler) fail(w http.ResponseWriter, r *http.Request, op, symbol string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, err.Error())
}
