package core

import (
	"fmt"
	"sync"
)

type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[AuthScheme]AuthStrategy
}

func NewStrategyRegistry(strategies ...AuthStrategy) (*StrategyRegistry, error) {
	registry := &StrategyRegistry{strategies: make(map[AuthScheme]AuthStrategy)}
	for _, strategy := range strategies {
		if err := registry.Register(strategy); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *StrategyRegistry) Register(strategy AuthStrategy) error {
	if strategy == nil {
		return fmt.Errorf("core: auth strategy is nil")
	}
	scheme, err := ParseAuthScheme(string(strategy.Scheme()))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[scheme]; exists {
		return fmt.Errorf("core: auth strategy already registered: %s", scheme)
	}
	r.strategies[scheme] = strategy
	return nil
}

func (r *StrategyRegistry) Get(scheme AuthScheme) (AuthStrategy, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	strategy, ok := r.strategies[scheme]
	r.mu.RUnlock()
	return strategy, ok
}
