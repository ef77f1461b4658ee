// Package chain reads pool reserves and reference feeds from an Ethereum
// JSON-RPC endpoint. Every read is pinned to an explicit block so a snapshot
// and the feeds used to value it describe the same chain state.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Caller is the subset of *ethclient.Client the readers need.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ClientConfig holds the parameters for the RPC client.
type ClientConfig struct {
	RPCURL            string
	RequestsPerSecond float64
	Burst             int
	CallTimeout       time.Duration
	BreakerFailures   uint32
	BreakerCooldown   time.Duration

	// OnBreakerChange, if set, is told whether the breaker is open after
	// every state change.
	OnBreakerChange func(open bool)
}

// Client wraps a Caller with a request rate limit, a per-call timeout and a
// circuit breaker. Calls are never retried.
type Client struct {
	caller  Caller
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	closeFn func()
	logger  *slog.Logger
}

// Dial connects to cfg.RPCURL and verifies the endpoint answers.
func Dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	c := NewClient(ec, cfg, logger)
	c.closeFn = ec.Close
	if _, err := c.LatestBlock(ctx); err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: probe head: %w", err)
	}
	return c, nil
}

// NewClient wraps an existing caller.
func NewClient(caller Caller, cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	logger = logger.With(slog.String("component", "chain"))

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rpc",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rpc circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if cfg.OnBreakerChange != nil {
				cfg.OnBreakerChange(to == gobreaker.StateOpen)
			}
		},
	})

	return &Client{
		caller:  caller,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		timeout: cfg.CallTimeout,
		logger:  logger,
	}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// BreakerState reports the circuit breaker state ("closed", "open",
// "half-open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// LatestBlock returns the current chain head.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	v, err := c.do(ctx, func(ctx context.Context) (any, error) {
		return c.caller.BlockNumber(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return v.(uint64), nil
}

// call executes an eth_call against to at block.
func (c *Client) call(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error) {
	v, err := c.do(ctx, func(ctx context.Context) (any, error) {
		return c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockArg(block))
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// balance returns the native balance of account at block.
func (c *Client) balance(ctx context.Context, account common.Address, block uint64) (*big.Int, error) {
	v, err := c.do(ctx, func(ctx context.Context) (any, error) {
		return c.caller.BalanceAt(ctx, account, blockArg(block))
	})
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}

func (c *Client) do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return fn(cctx)
	})
}

// blockArg maps block 0 to "latest".
func blockArg(block uint64) *big.Int {
	if block == 0 {
		return nil
	}
	return new(big.Int).SetUint64(block)
}
