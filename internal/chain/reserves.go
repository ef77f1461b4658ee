package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

type venueReader func(ctx context.Context, r *ReserveReader, token domain.TokenBinding, block uint64) (domain.ReserveSnapshot, error)

// ReserveReader reads pool snapshots for the supported venues.
type ReserveReader struct {
	client   *Client
	venues   map[uint32]venueReader
	decimals sync.Map // common.Address -> uint8
}

var _ domain.ReserveReader = (*ReserveReader)(nil)

// NewReserveReader returns a reader for Uniswap V1 exchanges and Uniswap V2
// pairs.
func NewReserveReader(client *Client) *ReserveReader {
	return &ReserveReader{
		client: client,
		venues: map[uint32]venueReader{
			domain.VenueUniswapV1: readUniswapV1,
			domain.VenueUniswapV2: readUniswapV2,
		},
	}
}

// ReadReserves reads the pool behind token at block. Every failure wraps
// domain.ErrSnapshotUnavailable.
func (r *ReserveReader) ReadReserves(ctx context.Context, token domain.TokenBinding, block uint64) (domain.ReserveSnapshot, error) {
	read, ok := r.venues[token.Oracle.VenueID]
	if !ok {
		return domain.ReserveSnapshot{}, fmt.Errorf("chain: %s: venue %d not supported: %w",
			token.Symbol, token.Oracle.VenueID, domain.ErrSnapshotUnavailable)
	}
	snap, err := read(ctx, r, token, block)
	if err != nil {
		return domain.ReserveSnapshot{}, fmt.Errorf("chain: %s reserves at block %d: %w: %w",
			token.Symbol, block, domain.ErrSnapshotUnavailable, err)
	}
	snap.BlockNumber = block
	return snap, nil
}

// readUniswapV1 reads an exchange contract: the base reserve is the
// exchange's ETH balance, the token reserve its token balance, and the
// exchange itself is the share token.
func readUniswapV1(ctx context.Context, r *ReserveReader, token domain.TokenBinding, block uint64) (domain.ReserveSnapshot, error) {
	var (
		snap                 domain.ReserveSnapshot
		ethBal, tokBal, supp *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ethBal, err = r.client.balance(gctx, token.Pool, block)
		if err != nil {
			return fmt.Errorf("eth balance: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tokBal, err = r.balanceOf(gctx, token.Token, token.Pool, block)
		return err
	})
	g.Go(func() error {
		var err error
		supp, err = r.totalSupply(gctx, token.Pool, block)
		return err
	})
	g.Go(func() error {
		var err error
		snap.TokenDecimals, err = r.tokenDecimals(gctx, token.Token, block)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.ReserveSnapshot{}, err
	}
	if err := setAll(&snap, ethBal, tokBal, supp); err != nil {
		return domain.ReserveSnapshot{}, err
	}
	return snap, nil
}

// readUniswapV2 reads a pair contract, orienting reserve0/reserve1 by
// token0.
func readUniswapV2(ctx context.Context, r *ReserveReader, token domain.TokenBinding, block uint64) (domain.ReserveSnapshot, error) {
	var (
		snap   domain.ReserveSnapshot
		r0, r1 *big.Int
		token0 common.Address
		supp   *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := uniswapV2PairABI.Pack("getReserves")
		if err != nil {
			return err
		}
		out, err := r.client.call(gctx, token.Pool, data, block)
		if err != nil {
			return fmt.Errorf("getReserves: %w", err)
		}
		vals, err := uniswapV2PairABI.Unpack("getReserves", out)
		if err != nil {
			return fmt.Errorf("unpack getReserves: %w", err)
		}
		if len(vals) != 3 {
			return fmt.Errorf("unpack getReserves: %d values", len(vals))
		}
		a, okA := vals[0].(*big.Int)
		b, okB := vals[1].(*big.Int)
		if !okA || !okB {
			return fmt.Errorf("unpack getReserves: unexpected types %T, %T", vals[0], vals[1])
		}
		r0, r1 = a, b
		return nil
	})
	g.Go(func() error {
		data, err := uniswapV2PairABI.Pack("token0")
		if err != nil {
			return err
		}
		out, err := r.client.call(gctx, token.Pool, data, block)
		if err != nil {
			return fmt.Errorf("token0: %w", err)
		}
		token0, err = unpackAddress(uniswapV2PairABI, "token0", out)
		return err
	})
	g.Go(func() error {
		var err error
		supp, err = r.totalSupply(gctx, token.Pool, block)
		return err
	})
	g.Go(func() error {
		var err error
		snap.TokenDecimals, err = r.tokenDecimals(gctx, token.Token, block)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.ReserveSnapshot{}, err
	}

	base, tok := r1, r0
	if token0 != token.Token {
		base, tok = r0, r1
	}
	if err := setAll(&snap, base, tok, supp); err != nil {
		return domain.ReserveSnapshot{}, err
	}
	return snap, nil
}

func (r *ReserveReader) balanceOf(ctx context.Context, token, owner common.Address, block uint64) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	out, err := r.client.call(ctx, token, data, block)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return unpackBig(erc20ABI, "balanceOf", out)
}

func (r *ReserveReader) totalSupply(ctx context.Context, token common.Address, block uint64) (*big.Int, error) {
	data, err := erc20ABI.Pack("totalSupply")
	if err != nil {
		return nil, err
	}
	out, err := r.client.call(ctx, token, data, block)
	if err != nil {
		return nil, fmt.Errorf("totalSupply: %w", err)
	}
	return unpackBig(erc20ABI, "totalSupply", out)
}

// tokenDecimals reads decimals() once per token and caches it.
func (r *ReserveReader) tokenDecimals(ctx context.Context, token common.Address, block uint64) (uint8, error) {
	if v, ok := r.decimals.Load(token); ok {
		return v.(uint8), nil
	}
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := r.client.call(ctx, token, data, block)
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("unpack decimals: %d values", len(vals))
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unpack decimals: unexpected type %T", vals[0])
	}
	r.decimals.Store(token, dec)
	return dec, nil
}

func setAll(snap *domain.ReserveSnapshot, base, token, shares *big.Int) error {
	for _, f := range []struct {
		name string
		src  *big.Int
		dst  *uint256.Int
	}{
		{"base reserve", base, &snap.BaseReserve},
		{"token reserve", token, &snap.TokenReserve},
		{"total shares", shares, &snap.TotalShares},
	} {
		if f.src == nil || f.src.Sign() < 0 {
			return fmt.Errorf("%s missing", f.name)
		}
		if f.dst.SetFromBig(f.src) {
			return fmt.Errorf("%s exceeds 256 bits", f.name)
		}
	}
	return nil
}

// ResolveExchange looks up the Uniswap V1 exchange for token on factory.
func (r *ReserveReader) ResolveExchange(ctx context.Context, factory, token common.Address) (common.Address, error) {
	data, err := uniswapV1FactoryABI.Pack("getExchange", token)
	if err != nil {
		return common.Address{}, err
	}
	out, err := r.client.call(ctx, factory, data, 0)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: getExchange %s: %w", token.Hex(), err)
	}
	exchange, err := unpackAddress(uniswapV1FactoryABI, "getExchange", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: %w", err)
	}
	if exchange == (common.Address{}) {
		return common.Address{}, fmt.Errorf("chain: no exchange for %s: %w", token.Hex(), domain.ErrNotFound)
	}
	return exchange, nil
}
