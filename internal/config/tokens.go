package config

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// TokenBindings converts the validated token table into domain bindings,
// sorted by symbol. Pool is left zero when it should be resolved through the
// Uniswap V1 factory.
func (c *Config) TokenBindings() ([]domain.TokenBinding, error) {
	symbols := make([]string, 0, len(c.Tokens))
	for sym := range c.Tokens {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var weth common.Address
	if c.Chain.WETH != "" {
		weth = common.HexToAddress(c.Chain.WETH)
	}

	out := make([]domain.TokenBinding, 0, len(symbols))
	for _, sym := range symbols {
		t := c.Tokens[sym]
		topo, ok := domain.ParseTopology(t.Topology)
		if !ok {
			return nil, fmt.Errorf("config: tokens.%s: topology %q: %w", sym, t.Topology, domain.ErrInvalidConfig)
		}
		b := domain.TokenBinding{
			Symbol: sym,
			Oracle: domain.TokenOracleConfig{
				PeggedToBase: t.PeggedToBase != nil && *t.PeggedToBase,
				DeviationBps: uint32(t.DeviationBps),
				Topology:     topo,
				VenueID:      uint32(t.VenueID),
			},
			Token: common.HexToAddress(t.Token),
			Base:  weth,
		}
		if t.Pool != "" {
			b.Pool = common.HexToAddress(t.Pool)
		}
		b.Primary = feedRef(t.PrimaryFeed, t.PrimaryKind, b.Token)
		b.Fallback = feedRef(t.FallbackFeed, t.FallbackKind, b.Token)
		out = append(out, b)
	}
	return out, nil
}

func feedRef(addr, kind string, asset common.Address) domain.FeedRef {
	if addr == "" {
		return domain.FeedRef{}
	}
	return domain.FeedRef{
		Kind:    domain.FeedKind(kind),
		Address: common.HexToAddress(addr),
		Asset:   asset,
	}
}
