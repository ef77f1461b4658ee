package config

import (
	"strings"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Networks with built-in address presets.
const (
	NetworkMain    = "main"
	NetworkKovan   = "kovan"
	NetworkRopsten = "ropsten"
)

type tokenPreset struct {
	pegged    bool
	deviation uint32
	topology  domain.Topology
	venue     uint32
}

// tokenPresets is the deployed oracle configuration per symbol.
var tokenPresets = map[string]tokenPreset{
	"DAI":  {deviation: domain.DeviationLow, topology: domain.TopologyMultiSided, venue: domain.VenueUniswapV1},
	"USDC": {deviation: domain.DeviationLow, topology: domain.TopologyMultiSided, venue: domain.VenueUniswapV1},
	"SETH": {pegged: true, deviation: domain.DeviationLow, topology: domain.TopologyMultiSided, venue: domain.VenueUniswapV1},
	"LINK": {deviation: domain.DeviationLow, topology: domain.TopologyMultiSided, venue: domain.VenueUniswapV1},
	"LEND": {deviation: domain.DeviationHigh, topology: domain.TopologyMultiSided, venue: domain.VenueUniswapV1},
	"MKR":  {deviation: domain.DeviationLow, topology: domain.TopologyMultiSided, venue: domain.VenueUniswapV1},
}

type networkPreset struct {
	chainID        int
	factory        string
	weth           string
	fallbackOracle string
	tokens         map[string]string
	aggregators    map[string]string
}

var networkPresets = map[string]networkPreset{
	NetworkMain: {
		chainID:        1,
		factory:        "0xc0a47dFe034B400B8bDb65E2eD6E0F7E9C2f5A17",
		weth:           "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		fallbackOracle: "0xd6d88f2eba3d9a27b24bf77932fdeb547b93df58",
		tokens: map[string]string{
			"DAI":  "0x6b175474e89094c44da98b954eedeac495271d0f",
			"USDC": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			"SETH": "0x5e74c9036fb86bd7ecdcb084a0673efc32ea31cb",
			"LINK": "0x514910771af9ca656af840dff83e8264ecf986ca",
			"LEND": "0x80fB784B7eD66730e8b1DBd9820aFD29931aab03",
			"MKR":  "0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2",
		},
		aggregators: map[string]string{
			"DAI":  "0x037E8F2125bF532F3e228991e051c8A7253B642c",
			"USDC": "0xdE54467873c3BCAA76421061036053e371721708",
			"LEND": "0x1EeaF25f2ECbcAf204ECADc8Db7B0db9DA845327",
			"MKR":  "0xda3d675d50ff6c555973c4f0424964e1f6a4e7d3",
			"LINK": "0xeCfA53A8bdA4F0c4dd39c55CC8deF3757aCFDD07",
		},
	},
	NetworkKovan: {
		chainID:        42,
		factory:        "0xD3E51Ef092B2845f10401a0159B2B96e8B6c3D30",
		fallbackOracle: "0x50913E8E1c650E790F8a1E741FF9B1B1bB251dfe",
		tokens: map[string]string{
			"DAI":  "0xFf795577d9AC8bD7D90Ee22b6C1703490b6512FD",
			"USDC": "0xe22da380ee6B445bb8273C81944ADEB6E8450422",
			"SETH": "0x40253d9c58c3d15b7709eaf2816feaea31abf725",
			"LINK": "0xAD5ce863aE3E4E9394Ab43d4ba0D80f419F61789",
			"LEND": "0x1BCe8A0757B7315b74bA1C7A731197295ca4747a",
			"MKR":  "0x61e4CAE3DA7FD189e52a4879C7B8067D7C2Cc0FA",
		},
		aggregators: map[string]string{
			"DAI":  "0x6F47077D3B6645Cb6fb7A29D280277EC1e5fFD90",
			"USDC": "0x672c1C0d1130912D83664011E7960a42E8cA05D5",
			"LEND": "0xdce38940264dfbc01ad1486c21764948e511947e",
			"MKR":  "0x14D7714eC44F44ECD0098B39e642b246fB2c38D0",
			"LINK": "0xf1e71Afd1459C05A2F898502C4025be755aa844A",
		},
	},
	NetworkRopsten: {
		chainID:        3,
		factory:        "0x9c83dCE8CA20E9aAF9D3efc003b2ea62aBC08351",
		fallbackOracle: "0xAD1a978cdbb8175b2eaeC47B01404f8AEC5f4F0d",
		tokens: map[string]string{
			"DAI":  "0xf80A32A835F79D7787E8a8ee5721D0fEaFd78108",
			"USDC": "0x851dEf71f0e6A903375C1e536Bd9ff1684BAD802",
			"SETH": "0x2709bca0Ac821dA5E7F649544F70F95E574898F1",
			"LINK": "0x1a906E71FF9e28d8E01460639EB8CF0a6f0e2486",
			"LEND": "0x217b896620AfF6518B9862160606695607A63442",
			"MKR":  "0x2eA9df3bABe04451c9C3B06a2c844587c59d9C37",
		},
		aggregators: map[string]string{
			"DAI":  "0x64b8e49baded7bfb2fd5a9235b2440c0ee02971b",
			"USDC": "0xe1480303dde539e2c241bdc527649f37c9cbef7d",
			"LEND": "0xf7b4834fe443d1E04D757b4b089b35F5A90F2847",
			"MKR":  "0x811B1f727F8F4aE899774B568d2e72916D91F392",
			"LINK": "0xb8c99b98913bE2ca4899CdcaF33a3e519C20EeEc",
		},
	},
}

// ApplyPresets fills chain addresses and unset per-token fields from the
// preset tables for cfg.Chain.Network. Values already set are kept. Feed
// kinds default to a Chainlink primary and an asset-oracle fallback for every
// token, preset or not.
func ApplyPresets(cfg *Config) {
	net, hasNet := networkPresets[strings.ToLower(cfg.Chain.Network)]
	if hasNet {
		if cfg.Chain.ChainID == 0 {
			cfg.Chain.ChainID = net.chainID
		}
		if cfg.Chain.UniswapV1Factory == "" {
			cfg.Chain.UniswapV1Factory = net.factory
		}
		if cfg.Chain.WETH == "" {
			cfg.Chain.WETH = net.weth
		}
	}

	for sym, t := range cfg.Tokens {
		key := strings.ToUpper(sym)
		if p, ok := tokenPresets[key]; ok {
			if t.PeggedToBase == nil {
				pegged := p.pegged
				t.PeggedToBase = &pegged
			}
			if t.DeviationBps == 0 {
				t.DeviationBps = int(p.deviation)
			}
			if t.Topology == "" {
				t.Topology = string(p.topology)
			}
			if t.VenueID == 0 {
				t.VenueID = int(p.venue)
			}
		}
		pegged := t.PeggedToBase != nil && *t.PeggedToBase
		if hasNet {
			if t.Token == "" {
				t.Token = net.tokens[key]
			}
			if !pegged && t.PrimaryFeed == "" {
				t.PrimaryFeed = net.aggregators[key]
			}
			if !pegged && t.FallbackFeed == "" {
				t.FallbackFeed = net.fallbackOracle
			}
		}
		if t.PrimaryKind == "" {
			t.PrimaryKind = string(domain.FeedChainlink)
		}
		if t.FallbackKind == "" {
			t.FallbackKind = string(domain.FeedAssetOracle)
		}
		cfg.Tokens[sym] = t
	}
}
