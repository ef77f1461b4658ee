package oracle

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// ComputeAnswer returns the fair value of one pool share (or one token for
// single-sided pools) at reference price ref, scaled by 1e18.
//
// The reserves are replaced by the balanced pair a pool with the same
// invariant K = base*token would hold at price ref:
//
//	token' = isqrt(K * 10^dec / ref)
//	base'  = K / token'
//	answer = (base' + token'*ref/10^dec) * 1e18 / shares
//
// The result depends on the snapshot only through K, the token decimals and
// the share count, so any trade that preserves K leaves it unchanged.
// Pegged tokens ignore ref and use 1e18.
func ComputeAnswer(cfg domain.TokenOracleConfig, snap domain.ReserveSnapshot, ref *uint256.Int) (*uint256.Int, error) {
	shares, err := sharesFor(cfg, snap)
	if err != nil {
		return nil, err
	}
	if cfg.PeggedToBase {
		ref = Scale
	}
	base, token, err := NormalizedReserves(snap, ref)
	if err != nil {
		return nil, err
	}
	return valueShares(base, token, ref, shares, snap.TokenDecimals)
}

// SpotValue values the live reserves at ref without normalizing them. It is
// only meaningful while the pool's spot price tracks ref.
func SpotValue(cfg domain.TokenOracleConfig, snap domain.ReserveSnapshot, ref *uint256.Int) (*uint256.Int, error) {
	shares, err := sharesFor(cfg, snap)
	if err != nil {
		return nil, err
	}
	if cfg.PeggedToBase {
		ref = Scale
	}
	return valueShares(&snap.BaseReserve, &snap.TokenReserve, ref, shares, snap.TokenDecimals)
}

// NormalizedReserves re-derives the base and token reserves of a balanced
// pool with the snapshot's invariant at price ref.
func NormalizedReserves(snap domain.ReserveSnapshot, ref *uint256.Int) (base, token *uint256.Int, err error) {
	if err := checkReserves(snap); err != nil {
		return nil, nil, err
	}
	if ref == nil || ref.IsZero() {
		return nil, nil, fmt.Errorf("oracle: zero reference price: %w", domain.ErrArithmeticOverflow)
	}
	unit, err := pow10(snap.TokenDecimals)
	if err != nil {
		return nil, nil, err
	}

	// K*10^dec/ref, keeping the full product in 512 bits.
	scaledBase, err := mul(&snap.BaseReserve, unit)
	if err != nil {
		return nil, nil, fmt.Errorf("oracle: scale base reserve: %w", err)
	}
	radicand, err := mulDiv(scaledBase, &snap.TokenReserve, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("oracle: normalized token radicand: %w", err)
	}

	token = new(uint256.Int).Sqrt(radicand)
	if token.IsZero() {
		return nil, nil, fmt.Errorf("oracle: normalized token reserve rounds to zero: %w", domain.ErrEmptyPool)
	}
	base, err = mulDiv(&snap.BaseReserve, &snap.TokenReserve, token)
	if err != nil {
		return nil, nil, fmt.Errorf("oracle: normalized base reserve: %w", err)
	}
	return base, token, nil
}

// SpotPrice is the pool's own token price in base-asset wei, scaled by 1e18.
func SpotPrice(snap domain.ReserveSnapshot) (*uint256.Int, error) {
	if err := checkReserves(snap); err != nil {
		return nil, err
	}
	unit, err := pow10(snap.TokenDecimals)
	if err != nil {
		return nil, err
	}
	return mulDiv(&snap.BaseReserve, unit, &snap.TokenReserve)
}

func valueShares(base, token, ref, shares *uint256.Int, decimals uint8) (*uint256.Int, error) {
	unit, err := pow10(decimals)
	if err != nil {
		return nil, err
	}
	tokenValue, err := mulDiv(token, ref, unit)
	if err != nil {
		return nil, fmt.Errorf("oracle: token side value: %w", err)
	}
	total, err := add(base, tokenValue)
	if err != nil {
		return nil, fmt.Errorf("oracle: pool value: %w", err)
	}
	answer, err := mulDiv(total, Scale, shares)
	if err != nil {
		return nil, fmt.Errorf("oracle: value per share: %w", err)
	}
	return answer, nil
}

// sharesFor returns the divisor that turns total pool value into a per-unit
// answer.
func sharesFor(cfg domain.TokenOracleConfig, snap domain.ReserveSnapshot) (*uint256.Int, error) {
	switch cfg.Topology {
	case domain.TopologyMultiSided:
		if snap.TotalShares.IsZero() {
			return nil, fmt.Errorf("oracle: zero share supply: %w", domain.ErrEmptyPool)
		}
		shares := snap.TotalShares
		return &shares, nil
	case domain.TopologySingleSided:
		return pow10(snap.TokenDecimals)
	default:
		return nil, fmt.Errorf("oracle: topology %q: %w", cfg.Topology, domain.ErrUnsupportedTopology)
	}
}

func checkReserves(snap domain.ReserveSnapshot) error {
	if snap.BaseReserve.IsZero() || snap.TokenReserve.IsZero() {
		return fmt.Errorf("oracle: block %d: %w", snap.BlockNumber, domain.ErrEmptyPool)
	}
	return nil
}
