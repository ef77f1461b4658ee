package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20JSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const uniswapV2PairJSON = `[
	{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const uniswapV1FactoryJSON = `[
	{"constant":true,"inputs":[{"name":"token","type":"address"}],"name":"getExchange","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const aggregatorJSON = `[
	{"constant":true,"inputs":[],"name":"latestAnswer","outputs":[{"name":"","type":"int256"}],"stateMutability":"view","type":"function"}
]`

const assetOracleJSON = `[
	{"constant":true,"inputs":[{"name":"asset","type":"address"}],"name":"getAssetPrice","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	erc20ABI            = mustParseABI(erc20JSON)
	uniswapV2PairABI    = mustParseABI(uniswapV2PairJSON)
	uniswapV1FactoryABI = mustParseABI(uniswapV1FactoryJSON)
	aggregatorABI       = mustParseABI(aggregatorJSON)
	assetOracleABI      = mustParseABI(assetOracleJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// unpackBig decodes a single integer return value.
func unpackBig(contract abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := contract.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack %s: %d values", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func unpackAddress(contract abi.ABI, method string, data []byte) (common.Address, error) {
	out, err := contract.Unpack(method, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unpack %s: %d values", method, len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return addr, nil
}
