package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Registry is the immutable set of tokens the service answers for. It is
// built once at startup and shared read-only.
type Registry struct {
	bindings map[string]domain.TokenBinding
	engines  map[string]*Engine
	symbols  []string
}

// NewRegistry validates every binding and builds one engine per token.
func NewRegistry(bindings []domain.TokenBinding) (*Registry, error) {
	r := &Registry{
		bindings: make(map[string]domain.TokenBinding, len(bindings)),
		engines:  make(map[string]*Engine, len(bindings)),
	}
	for _, b := range bindings {
		key := registryKey(b.Symbol)
		if key == "" {
			return nil, fmt.Errorf("oracle: registry: empty symbol: %w", domain.ErrInvalidConfig)
		}
		if _, dup := r.bindings[key]; dup {
			return nil, fmt.Errorf("oracle: registry: duplicate token %q: %w", b.Symbol, domain.ErrInvalidConfig)
		}
		eng, err := NewEngine(b.Oracle)
		if err != nil {
			return nil, fmt.Errorf("oracle: registry: %s: %w", b.Symbol, err)
		}
		if !b.Oracle.PeggedToBase && !b.Primary.Configured() && !b.Fallback.Configured() {
			return nil, fmt.Errorf("oracle: registry: %s has no reference feed: %w", b.Symbol, domain.ErrInvalidConfig)
		}
		r.bindings[key] = b
		r.engines[key] = eng
		r.symbols = append(r.symbols, b.Symbol)
	}
	sort.Strings(r.symbols)
	return r, nil
}

// Symbols returns the registered symbols in sorted order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// Binding returns the addresses and config registered for symbol.
func (r *Registry) Binding(symbol string) (domain.TokenBinding, error) {
	b, ok := r.bindings[registryKey(symbol)]
	if !ok {
		return domain.TokenBinding{}, fmt.Errorf("oracle: %q: %w", symbol, domain.ErrUnknownToken)
	}
	return b, nil
}

// Config returns the oracle configuration for symbol.
func (r *Registry) Config(symbol string) (domain.TokenOracleConfig, error) {
	b, err := r.Binding(symbol)
	if err != nil {
		return domain.TokenOracleConfig{}, err
	}
	return b.Oracle, nil
}

// Engine returns the engine bound to symbol's configuration.
func (r *Registry) Engine(symbol string) (*Engine, error) {
	e, ok := r.engines[registryKey(symbol)]
	if !ok {
		return nil, fmt.Errorf("oracle: %q: %w", symbol, domain.ErrUnknownToken)
	}
	return e, nil
}

// Symbols are matched case-insensitively so "seth" and "sETH" resolve alike.
func registryKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
