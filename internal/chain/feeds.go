package chain

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// FeedReader reads reference prices from Chainlink aggregators and
// asset-price oracles.
type FeedReader struct {
	client *Client
}

var _ domain.PriceFeedReader = (*FeedReader)(nil)

// NewFeedReader returns a feed reader backed by client.
func NewFeedReader(client *Client) *FeedReader {
	return &FeedReader{client: client}
}

// ReadPrice reads feed at block. An unconfigured feed, a non-positive
// aggregator answer and a zero oracle price all yield an invalid price with
// a nil error. RPC failures are returned so the caller can log them; the
// caller treats them as an invalid price too.
func (r *FeedReader) ReadPrice(ctx context.Context, feed domain.FeedRef, block uint64) (domain.ReferencePrice, error) {
	if !feed.Configured() {
		return domain.ReferencePrice{}, nil
	}
	switch feed.Kind {
	case domain.FeedChainlink:
		return r.readAggregator(ctx, feed, block)
	case domain.FeedAssetOracle:
		return r.readAssetOracle(ctx, feed, block)
	default:
		return domain.ReferencePrice{}, fmt.Errorf("chain: feed %s: unknown kind %q", feed.Address.Hex(), feed.Kind)
	}
}

func (r *FeedReader) readAggregator(ctx context.Context, feed domain.FeedRef, block uint64) (domain.ReferencePrice, error) {
	data, err := aggregatorABI.Pack("latestAnswer")
	if err != nil {
		return domain.ReferencePrice{}, err
	}
	out, err := r.client.call(ctx, feed.Address, data, block)
	if err != nil {
		return domain.ReferencePrice{}, fmt.Errorf("chain: latestAnswer %s: %w", feed.Address.Hex(), err)
	}
	answer, err := unpackBig(aggregatorABI, "latestAnswer", out)
	if err != nil {
		return domain.ReferencePrice{}, fmt.Errorf("chain: %w", err)
	}
	if answer.Sign() <= 0 {
		return domain.ReferencePrice{}, nil
	}
	v, overflow := uint256.FromBig(answer)
	if overflow {
		return domain.ReferencePrice{}, fmt.Errorf("chain: latestAnswer %s: %w", feed.Address.Hex(), domain.ErrArithmeticOverflow)
	}
	return domain.NewReferencePrice(v), nil
}

func (r *FeedReader) readAssetOracle(ctx context.Context, feed domain.FeedRef, block uint64) (domain.ReferencePrice, error) {
	data, err := assetOracleABI.Pack("getAssetPrice", feed.Asset)
	if err != nil {
		return domain.ReferencePrice{}, err
	}
	out, err := r.client.call(ctx, feed.Address, data, block)
	if err != nil {
		return domain.ReferencePrice{}, fmt.Errorf("chain: getAssetPrice %s: %w", feed.Asset.Hex(), err)
	}
	price, err := unpackBig(assetOracleABI, "getAssetPrice", out)
	if err != nil {
		return domain.ReferencePrice{}, fmt.Errorf("chain: %w", err)
	}
	v, overflow := uint256.FromBig(price)
	if overflow {
		return domain.ReferencePrice{}, fmt.Errorf("chain: getAssetPrice %s: %w", feed.Asset.Hex(), domain.ErrArithmeticOverflow)
	}
	return domain.NewReferencePrice(v), nil
}
