package oracle

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Selection is the outcome of choosing between the primary and fallback
// feeds. Source is SourceNone when neither feed is valid; Price is then zero.
type Selection struct {
	Source domain.PriceSource
	Price  uint256.Int
}

// Found reports whether a reference price was selected.
func (s Selection) Found() bool {
	return s.Source != domain.SourceNone
}

// Select returns the primary feed when valid, else the fallback when valid,
// else no reference. Feeds are never combined.
func Select(primary, fallback domain.ReferencePrice) Selection {
	switch {
	case primary.Valid && !primary.Value.IsZero():
		return Selection{Source: domain.SourcePrimary, Price: primary.Value}
	case fallback.Valid && !fallback.Value.IsZero():
		return Selection{Source: domain.SourceFallback, Price: fallback.Value}
	default:
		return Selection{Source: domain.SourceNone}
	}
}
