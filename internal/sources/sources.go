// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources implements bibliographic API clients that collect the
// papers of a venue/year pair. Each client wraps its API in a circuit
// breaker and the shared 429 retry helper; Composite chains clients as
// ordered fallbacks so a session can survive one API being down.
package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pdiddy/paper-census/pkg/types"
)

// Client fetches the papers of one venue/year pair from a bibliographic
// API. limit caps how many papers are returned; limit <= 0 means no cap.
type Client interface {
	Name() string
	Collect(ctx context.Context, venue string, year int, limit int) ([]types.Paper, error)
}

// newBreaker builds the per-client circuit breaker. The breaker opens once
// at least BreakerMinRequests calls have been seen and the failure ratio
// reaches BreakerFailureRatio; an open breaker fails fast without touching
// the network.
func newBreaker(name string, cfg types.CollectionConfig) *gobreaker.CircuitBreaker {
	minRequests := cfg.BreakerMinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	failureRatio := cfg.BreakerFailureRatio
	if failureRatio <= 0 {
		failureRatio = 0.6
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		},
	})
}

// Composite tries each client in order and returns the first successful
// result. A success with zero papers still wins; the fallback is for
// failing APIs, not empty venues.
type Composite struct {
	clients []Client
}

// NewComposite builds a composite over the given clients in fallback order.
func NewComposite(clients ...Client) *Composite {
	return &Composite{clients: clients}
}

// Name returns the joined names of the underlying clients.
func (c *Composite) Name() string {
	names := make([]string, len(c.clients))
	for i, cl := range c.clients {
		names[i] = cl.Name()
	}
	return strings.Join(names, "+")
}

// Collect queries the clients in order until one succeeds. When every
// client fails the error lists each failure. A cancelled context stops the
// fallback chain immediately.
func (c *Composite) Collect(ctx context.Context, venue string, year int, limit int) ([]types.Paper, error) {
	if len(c.clients) == 0 {
		return nil, fmt.Errorf("no collection clients configured")
	}

	var failures []string
	for _, cl := range c.clients {
		papers, err := cl.Collect(ctx, venue, year, limit)
		if err == nil {
			return papers, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", cl.Name(), err))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("all collection sources failed: %s", strings.Join(failures, "; "))
}
