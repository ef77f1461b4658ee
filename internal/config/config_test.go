package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

const sampleTOML = `
mode = "once"
log_level = "debug"

[chain]
rpc_url = "https://eth.example/rpc"

[tokens.DAI]

[tokens.sETH]

[tokens.USDC]
pool = "0x97dec872013f6b5fb443861090ad931542878126"
deviation_bps = 400
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesPresets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "once", cfg.Mode)
	assert.Equal(t, "0xc0a47dFe034B400B8bDb65E2eD6E0F7E9C2f5A17", cfg.Chain.UniswapV1Factory)
	assert.Equal(t, 1, cfg.Chain.ChainID)

	dai := cfg.Tokens["DAI"]
	assert.Equal(t, "0x6b175474e89094c44da98b954eedeac495271d0f", dai.Token)
	assert.Equal(t, 300, dai.DeviationBps)
	assert.Equal(t, "multi_sided", dai.Topology)
	assert.Equal(t, 2, dai.VenueID)
	assert.Equal(t, "0x037E8F2125bF532F3e228991e051c8A7253B642c", dai.PrimaryFeed)
	assert.Equal(t, "0xd6d88f2eba3d9a27b24bf77932fdeb547b93df58", dai.FallbackFeed)
	require.NotNil(t, dai.PeggedToBase)
	assert.False(t, *dai.PeggedToBase)

	seth := cfg.Tokens["sETH"]
	require.NotNil(t, seth.PeggedToBase)
	assert.True(t, *seth.PeggedToBase)
	assert.Empty(t, seth.PrimaryFeed)
	assert.Empty(t, seth.FallbackFeed)

	assert.Equal(t, 400, cfg.Tokens["USDC"].DeviationBps)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CPMORACLE_CHAIN_RPC_URL", "https://override.example")
	t.Setenv("CPMORACLE_ORACLE_POLL_INTERVAL", "1m")
	t.Setenv("CPMORACLE_NOTIFY_EVENTS", "no_answer, deviation ,")
	t.Setenv("CPMORACLE_SERVER_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, "https://override.example", cfg.Chain.RPCURL)
	assert.Equal(t, time.Minute, cfg.Oracle.PollInterval.Duration)
	assert.Equal(t, []string{"no_answer", "deviation"}, cfg.Notify.Events)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestTokenBindings(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	bindings, err := cfg.TokenBindings()
	require.NoError(t, err)
	require.Len(t, bindings, 3)
	assert.Equal(t, []string{"DAI", "USDC", "sETH"}, []string{bindings[0].Symbol, bindings[1].Symbol, bindings[2].Symbol})

	dai := bindings[0]
	assert.Equal(t, domain.TopologyMultiSided, dai.Oracle.Topology)
	assert.Equal(t, domain.VenueUniswapV1, dai.Oracle.VenueID)
	assert.Equal(t, common.Address{}, dai.Pool)
	assert.Equal(t, domain.FeedChainlink, dai.Primary.Kind)
	assert.Equal(t, domain.FeedAssetOracle, dai.Fallback.Kind)
	assert.Equal(t, dai.Token, dai.Fallback.Asset)
	assert.Equal(t, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), dai.Base)

	usdc := bindings[1]
	assert.Equal(t, common.HexToAddress("0x97dec872013f6b5fb443861090ad931542878126"), usdc.Pool)
	assert.Equal(t, uint32(400), usdc.Oracle.DeviationBps)

	seth := bindings[2]
	assert.True(t, seth.Oracle.PeggedToBase)
	assert.False(t, seth.Primary.Configured())
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.LogLevel = "verbose"
	cfg.Chain.Network = "custom"
	cfg.Tokens["WBTC"] = TokenConfig{
		Token:        "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599",
		DeviationBps: 250,
		Topology:     "none",
		VenueID:      9,
		PrimaryFeed:  "not-an-address",
		PrimaryKind:  "chainlink",
	}
	cfg.Signer.EncryptedKeyPath = "/keys/signer.json"
	cfg.Postgres.PoolMinConns = 20
	ApplyPresets(&cfg)

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown log_level "verbose"`,
		"tokens.WBTC: topology must be single_sided or multi_sided",
		"tokens.WBTC: deviation_bps must be 300 or 400, got 250",
		"tokens.WBTC: unsupported venue_id 9",
		"tokens.WBTC: pool is required",
		"tokens.WBTC: primary_feed must be an address",
		"signer: key_password is required",
		"chain: chain_id must be set when signing answers",
		"postgres: pool_min_conns must not exceed pool_max_conns",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestApplyPresets_ChainID(t *testing.T) {
	for network, want := range map[string]int{NetworkMain: 1, NetworkKovan: 42, NetworkRopsten: 3, "custom": 0} {
		cfg := Defaults()
		cfg.Chain.Network = network
		ApplyPresets(&cfg)
		assert.Equal(t, want, cfg.Chain.ChainID, network)
	}

	cfg := Defaults()
	cfg.Chain.Network = NetworkKovan
	cfg.Chain.ChainID = 1337
	ApplyPresets(&cfg)
	assert.Equal(t, 1337, cfg.Chain.ChainID)
}

func TestValidate_ArchiveModeSkipsChain(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.Chain.RPCURL = ""
	assert.NoError(t, cfg.Validate())

	cfg.S3.Bucket = ""
	assert.ErrorContains(t, cfg.Validate(), "s3: bucket must not be empty")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Signer.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "k"
	cfg.Tokens["DAI"] = TokenConfig{Token: "0x01"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Signer.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Chain.RPCURL)
	assert.Empty(t, out.Redis.Password)

	out.Tokens["DAI"] = TokenConfig{Token: "0x02"}
	out.Notify.Events[0] = "changed"
	assert.Equal(t, "0x01", cfg.Tokens["DAI"].Token)
	assert.Equal(t, "no_answer", cfg.Notify.Events[0])
	assert.Equal(t, "0xdeadbeef", cfg.Signer.PrivateKey)
}
