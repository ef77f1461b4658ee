package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// AnswerCache implements domain.AnswerCache using Redis hashes. Each token's
// latest answer lives at "answer:{symbol}" with decimal-string amounts and a
// Unix nanosecond "ts".
type AnswerCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAnswerCache creates an AnswerCache backed by the given Client. A
// positive ttl expires entries that stop being refreshed.
func NewAnswerCache(c *Client, ttl time.Duration) *AnswerCache {
	return &AnswerCache{rdb: c.Underlying(), ttl: ttl}
}

// SetAnswer replaces the cached answer for answer.Symbol. The write and the
// expiry run in one MULTI so readers never see an entry without a TTL.
func (ac *AnswerCache) SetAnswer(ctx context.Context, a domain.Answer) error {
	key := answerKey(a.Symbol)
	_, err := ac.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", a.ID,
			"value", a.Value.Dec(),
			"reference", a.Reference.Dec(),
			"source", string(a.Source),
			"path", string(a.Path),
			"deviation_bps", strconv.FormatUint(a.DeviationBps, 10),
			"block", strconv.FormatUint(a.BlockNumber, 10),
			"signature", a.Signature,
			"signer", a.Signer,
			"ts", strconv.FormatInt(a.ComputedAt.UnixNano(), 10),
		)
		if ac.ttl > 0 {
			pipe.Expire(ctx, key, ac.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set answer %s: %w", a.Symbol, err)
	}
	return nil
}

// GetAnswer returns the cached answer for symbol, or domain.ErrNotFound.
func (ac *AnswerCache) GetAnswer(ctx context.Context, symbol string) (domain.Answer, error) {
	vals, err := ac.rdb.HGetAll(ctx, answerKey(symbol)).Result()
	if err != nil {
		return domain.Answer{}, fmt.Errorf("redis: get answer %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Answer{}, domain.ErrNotFound
	}

	a := domain.Answer{
		ID:        vals["id"],
		Symbol:    symbol,
		Source:    domain.PriceSource(vals["source"]),
		Path:      domain.ValuationPath(vals["path"]),
		Signature: vals["signature"],
		Signer:    vals["signer"],
	}
	if err := a.Value.SetFromDecimal(vals["value"]); err != nil {
		return domain.Answer{}, fmt.Errorf("redis: parse value %s: %w", symbol, err)
	}
	if err := a.Reference.SetFromDecimal(vals["reference"]); err != nil {
		return domain.Answer{}, fmt.Errorf("redis: parse reference %s: %w", symbol, err)
	}
	if a.DeviationBps, err = parseUint(vals["deviation_bps"]); err != nil {
		return domain.Answer{}, fmt.Errorf("redis: parse deviation %s: %w", symbol, err)
	}
	if a.BlockNumber, err = parseUint(vals["block"]); err != nil {
		return domain.Answer{}, fmt.Errorf("redis: parse block %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}
	a.ComputedAt = time.Unix(0, tsNano).UTC()
	return a, nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// Compile-time interface check.
var _ domain.AnswerCache = (*AnswerCache)(nil)
