package oracle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

func binding(symbol string, pegged bool) domain.TokenBinding {
	cfg := multiSided(domain.DeviationLow)
	cfg.PeggedToBase = pegged
	b := domain.TokenBinding{
		Symbol: symbol,
		Oracle: cfg,
		Pool:   common.HexToAddress("0x01"),
		Token:  common.HexToAddress("0x02"),
	}
	if !pegged {
		b.Primary = domain.FeedRef{Kind: domain.FeedChainlink, Address: common.HexToAddress("0x03")}
	}
	return b
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry([]domain.TokenBinding{binding("USDC", false), binding("sETH", true), binding("DAI", false)})
	require.NoError(t, err)

	assert.Equal(t, []string{"DAI", "USDC", "sETH"}, reg.Symbols())

	cfg, err := reg.Config("seth")
	require.NoError(t, err)
	assert.True(t, cfg.PeggedToBase)

	eng, err := reg.Engine("dai")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviationLow, eng.Config().DeviationBps)

	_, err = reg.Binding("MKR")
	assert.ErrorIs(t, err, domain.ErrUnknownToken)
	_, err = reg.Engine("MKR")
	assert.ErrorIs(t, err, domain.ErrUnknownToken)
}

func TestRegistry_Rejects(t *testing.T) {
	noFeeds := binding("LINK", false)
	noFeeds.Primary = domain.FeedRef{}

	noTopology := binding("LEND", false)
	noTopology.Oracle.Topology = domain.TopologyNone

	tests := []struct {
		name     string
		bindings []domain.TokenBinding
		want     error
	}{
		{"duplicate", []domain.TokenBinding{binding("DAI", false), binding("dai", false)}, domain.ErrInvalidConfig},
		{"empty symbol", []domain.TokenBinding{binding(" ", false)}, domain.ErrInvalidConfig},
		{"no feeds", []domain.TokenBinding{noFeeds}, domain.ErrInvalidConfig},
		{"no topology", []domain.TokenBinding{noTopology}, domain.ErrUnsupportedTopology},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.bindings)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
