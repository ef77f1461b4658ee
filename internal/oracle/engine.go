// Package oracle computes manipulation-resistant fair values for
// constant-product pool shares from a reserve snapshot and reference feeds.
// Everything here is synchronous and free of I/O; reading reserves and feeds
// belongs to the caller.
package oracle

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Result is the outcome of one LatestAnswer call. A zero Answer with
// Source == SourceNone is the "no reference price" sentinel, not an error.
type Result struct {
	Answer       uint256.Int
	Reference    uint256.Int
	Source       domain.PriceSource
	Path         domain.ValuationPath
	DeviationBps uint64
}

// ValidateConfig rejects configurations the engine cannot serve.
func ValidateConfig(cfg domain.TokenOracleConfig) error {
	switch cfg.Topology {
	case domain.TopologySingleSided, domain.TopologyMultiSided:
	default:
		return fmt.Errorf("oracle: topology %q: %w", cfg.Topology, domain.ErrUnsupportedTopology)
	}
	if !domain.ValidDeviationTier(cfg.DeviationBps) {
		return fmt.Errorf("oracle: deviation %d bps is not a risk tier: %w", cfg.DeviationBps, domain.ErrInvalidConfig)
	}
	if cfg.VenueID == 0 {
		return fmt.Errorf("oracle: venue id must be set: %w", domain.ErrInvalidConfig)
	}
	return nil
}

// LatestAnswer computes the fair value of one share for the given snapshot
// and feeds.
//
// Pegged tokens price at 1e18 regardless of the feeds. Otherwise the primary
// feed wins over the fallback, and with neither valid the answer is zero.
// When the pool's spot price sits within cfg.DeviationBps of the reference the
// live reserves are valued directly; outside that band the reserves are
// normalized from the pool invariant first.
func LatestAnswer(cfg domain.TokenOracleConfig, snap domain.ReserveSnapshot, primary, fallback domain.ReferencePrice) (Result, error) {
	if cfg.Topology != domain.TopologySingleSided && cfg.Topology != domain.TopologyMultiSided {
		return Result{}, fmt.Errorf("oracle: topology %q: %w", cfg.Topology, domain.ErrUnsupportedTopology)
	}

	sel := Selection{Source: domain.SourcePegged, Price: *Scale}
	if !cfg.PeggedToBase {
		sel = Select(primary, fallback)
		if !sel.Found() {
			return Result{Source: domain.SourceNone, Path: domain.PathNone}, nil
		}
	}
	ref := sel.Price

	spot, err := SpotPrice(snap)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Reference:    ref,
		Source:       sel.Source,
		DeviationBps: deviationBps(spot, &ref),
	}

	within, err := withinTolerance(spot, &ref, cfg.DeviationBps)
	if err != nil {
		return Result{}, fmt.Errorf("oracle: deviation check: %w", err)
	}

	var answer *uint256.Int
	if within {
		res.Path = domain.PathSpot
		answer, err = SpotValue(cfg, snap, &ref)
	} else {
		res.Path = domain.PathNormalized
		answer, err = ComputeAnswer(cfg, snap, &ref)
	}
	if err != nil {
		return Result{}, err
	}
	res.Answer = *answer
	return res, nil
}

// Engine is LatestAnswer bound to one token's immutable configuration.
type Engine struct {
	cfg domain.TokenOracleConfig
}

// NewEngine validates cfg and returns an engine for it.
func NewEngine(cfg domain.TokenOracleConfig) (*Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() domain.TokenOracleConfig {
	return e.cfg
}

// LatestAnswer evaluates the snapshot and feeds under the engine's config.
func (e *Engine) LatestAnswer(snap domain.ReserveSnapshot, primary, fallback domain.ReferencePrice) (Result, error) {
	return LatestAnswer(e.cfg, snap, primary, fallback)
}
