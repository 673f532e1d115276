package datasource

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/shardorch/shardorch/internal/rule"
)

// LoadBalancer picks one of n slaves.
type LoadBalancer interface {
	Next(n int) int
	Algorithm() string
}

// NewLoadBalancer returns the balancer for an algorithm identifier. An empty
// identifier means round robin.
func NewLoadBalancer(algorithm string) (LoadBalancer, error) {
	switch algorithm {
	case "", rule.LoadBalanceRoundRobin:
		return &RoundRobin{}, nil
	case rule.LoadBalanceRandom:
		return Random{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// RoundRobin cycles through slaves in order.
type RoundRobin struct {
	cnt atomic.Uint64
}

func (r *RoundRobin) Next(n int) int {
	if n <= 0 {
		return -1
	}
	return int((r.cnt.Add(1) - 1) % uint64(n))
}

func (r *RoundRobin) Algorithm() string { return rule.LoadBalanceRoundRobin }

// Random picks a slave uniformly.
type Random struct{}

func (Random) Next(n int) int {
	if n <= 0 {
		return -1
	}
	return rand.IntN(n)
}

func (Random) Algorithm() string { return rule.LoadBalanceRandom }
