package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Topology describes how a pool share relates to the underlying reserves.
type Topology string

const (
	TopologyNone        Topology = "none"
	TopologySingleSided Topology = "single_sided"
	TopologyMultiSided  Topology = "multi_sided"
)

// ParseTopology accepts the canonical names plus the upper-case forms used by
// the deployment tables (SINGLESIDE, MULTISIDE).
func ParseTopology(s string) (Topology, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return TopologyNone, true
	case "single_sided", "singleside", "single":
		return TopologySingleSided, true
	case "multi_sided", "multiside", "multi":
		return TopologyMultiSided, true
	}
	return TopologyNone, false
}

// Risk tiers for the tolerated spot/reference deviation, in basis points.
const (
	DeviationLow  uint32 = 300 // 3%
	DeviationHigh uint32 = 400 // 4%
)

// ValidDeviationTier reports whether bps is one of the configured risk tiers.
func ValidDeviationTier(bps uint32) bool {
	return bps == DeviationLow || bps == DeviationHigh
}

// Pool venue identifiers.
const (
	VenueUniswapV1 uint32 = 2
	VenueUniswapV2 uint32 = 3
)

// TokenOracleConfig is the immutable per-token oracle setup.
type TokenOracleConfig struct {
	PeggedToBase bool
	DeviationBps uint32
	Topology     Topology
	VenueID      uint32
}

// FeedKind selects the on-chain interface used to read a reference feed.
type FeedKind string

const (
	FeedChainlink   FeedKind = "chainlink"    // latestAnswer() on an aggregator
	FeedAssetOracle FeedKind = "asset_oracle" // getAssetPrice(asset) on a price oracle
)

// FeedRef locates one reference price feed. A zero Address means the token
// has no such feed.
type FeedRef struct {
	Kind    FeedKind
	Address common.Address
	Asset   common.Address
}

// Configured reports whether the feed points at a contract.
func (f FeedRef) Configured() bool {
	return f.Address != (common.Address{})
}

// TokenBinding ties a token symbol to its oracle config and the on-chain
// addresses needed to read its pool and feeds.
type TokenBinding struct {
	Symbol   string
	Oracle   TokenOracleConfig
	Pool     common.Address
	Token    common.Address
	Base     common.Address // wrapped base asset, Uniswap V2 only
	Primary  FeedRef
	Fallback FeedRef
}

// ReserveSnapshot is a point-in-time view of a pool. All fields are read at
// BlockNumber.
type ReserveSnapshot struct {
	BaseReserve   uint256.Int
	TokenReserve  uint256.Int
	TotalShares   uint256.Int
	TokenDecimals uint8
	BlockNumber   uint64
}

// ReferencePrice is the price of one whole token in base-asset wei, scaled by
// 1e18. Valid is false exactly when Value is zero.
type ReferencePrice struct {
	Value uint256.Int
	Valid bool
}

// NewReferencePrice wraps v, marking a zero value invalid.
func NewReferencePrice(v *uint256.Int) ReferencePrice {
	if v == nil || v.IsZero() {
		return ReferencePrice{}
	}
	return ReferencePrice{Value: *v, Valid: true}
}

// PriceSource records which reference produced an answer.
type PriceSource string

const (
	SourceNone     PriceSource = "none"
	SourcePrimary  PriceSource = "primary"
	SourceFallback PriceSource = "fallback"
	SourcePegged   PriceSource = "pegged"
)

// ValuationPath records how the reserves were valued.
type ValuationPath string

const (
	PathNone       ValuationPath = "none"
	PathSpot       ValuationPath = "spot"
	PathNormalized ValuationPath = "normalized"
)

// Answer is one computed fair value, scaled by 1e18. A zero Value with
// Source == SourceNone means no reference price was available.
type Answer struct {
	ID           string
	Symbol       string
	Value        uint256.Int
	Reference    uint256.Int
	Source       PriceSource
	Path         ValuationPath
	DeviationBps uint64 // measured spot vs reference
	BlockNumber  uint64
	Signature    string // EIP-712 hex, empty when unsigned
	Signer       string
	ComputedAt   time.Time
}

// HasValue reports whether the answer carries a usable price.
func (a Answer) HasValue() bool {
	return !a.Value.IsZero()
}

// answerJSON is the wire form of Answer. Amounts are decimal strings since
// they routinely exceed 2^53.
type answerJSON struct {
	ID           string        `json:"id"`
	Symbol       string        `json:"symbol"`
	Answer       string        `json:"answer"`
	Reference    string        `json:"reference"`
	Source       PriceSource   `json:"source"`
	Path         ValuationPath `json:"path"`
	DeviationBps uint64        `json:"deviation_bps"`
	BlockNumber  uint64        `json:"block_number"`
	Signature    string        `json:"signature,omitempty"`
	Signer       string        `json:"signer,omitempty"`
	ComputedAt   time.Time     `json:"computed_at"`
}

// MarshalJSON encodes the answer with decimal-string amounts.
func (a Answer) MarshalJSON() ([]byte, error) {
	return json.Marshal(answerJSON{
		ID:           a.ID,
		Symbol:       a.Symbol,
		Answer:       a.Value.Dec(),
		Reference:    a.Reference.Dec(),
		Source:       a.Source,
		Path:         a.Path,
		DeviationBps: a.DeviationBps,
		BlockNumber:  a.BlockNumber,
		Signature:    a.Signature,
		Signer:       a.Signer,
		ComputedAt:   a.ComputedAt,
	})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var w answerJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Answer{
		ID:           w.ID,
		Symbol:       w.Symbol,
		Source:       w.Source,
		Path:         w.Path,
		DeviationBps: w.DeviationBps,
		BlockNumber:  w.BlockNumber,
		Signature:    w.Signature,
		Signer:       w.Signer,
		ComputedAt:   w.ComputedAt,
	}
	if err := out.Value.SetFromDecimal(w.Answer); err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	if err := out.Reference.SetFromDecimal(w.Reference); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	*a = out
	return nil
}
