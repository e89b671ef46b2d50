// Package solana wraps the Solana JSON-RPC API behind the narrow interfaces
// the indexer consumes: slot metadata for cache warming and account state
// for the watcher.
package solana

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/senzenn/solana-indexer/internal/cache"
	"github.com/senzenn/solana-indexer/internal/platform/observability"
	"github.com/senzenn/solana-indexer/internal/platform/resilience"
)

// endpoint is a single RPC endpoint with health tracking.
type endpoint struct {
	url     string
	client  *rpc.Client
	healthy atomic.Bool
}

// Config holds Solana RPC client configuration.
type Config struct {
	Endpoints  []string
	Commitment string // processed, confirmed or finalized

	// RateLimit bounds outgoing requests per second. Defaults to 10.
	RateLimit float64
	Burst     int

	HealthCheckInterval time.Duration

	Logger *observability.Logger
	Meter  *observability.Metrics

	Retry resilience.RetryConfig
}

// Client fans requests out over a pool of RPC endpoints with round-robin
// selection, health tracking, rate limiting and retry. It implements
// cache.SlotSource.
type Client struct {
	endpoints  []*endpoint
	current    int
	mu         sync.Mutex
	commitment rpc.CommitmentType
	limiter    *resilience.RateLimiter
	retry      resilience.RetryConfig
	logger     *observability.Logger
	meter      *observability.Metrics
	cancel     context.CancelFunc
}

// NewClient creates a client pool over the configured endpoints and starts
// background health checks.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	endpoints := make([]*endpoint, 0, len(cfg.Endpoints))
	for _, url := range cfg.Endpoints {
		ep := &endpoint{
			url:    url,
			client: rpc.New(url),
		}
		// rpc.New dials lazily; the health loop demotes dead endpoints.
		ep.healthy.Store(true)
		endpoints = append(endpoints, ep)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		endpoints:  endpoints,
		commitment: parseCommitment(cfg.Commitment),
		limiter:    resilience.NewRateLimiter(cfg.RateLimit, cfg.Burst),
		retry:      cfg.Retry,
		logger:     cfg.Logger,
		meter:      cfg.Meter,
		cancel:     cancel,
	}

	go c.healthLoop(ctx, cfg.HealthCheckInterval)

	return c, nil
}

// CurrentSlot returns the most recent slot at the configured commitment.
func (c *Client) CurrentSlot(ctx context.Context) (uint64, error) {
	return call(c, ctx, "getSlot", func(cl *rpc.Client) (uint64, error) {
		return cl.GetSlot(ctx, c.commitment)
	})
}

// SlotLeader returns the leader identity for one slot.
func (c *Client) SlotLeader(ctx context.Context, slot uint64) (string, error) {
	leaders, err := call(c, ctx, "getSlotLeaders", func(cl *rpc.Client) ([]solana.PublicKey, error) {
		return cl.GetSlotLeaders(ctx, slot, 1)
	})
	if err != nil {
		return "", err
	}
	if len(leaders) == 0 {
		return "", fmt.Errorf("no leader reported for slot %d", slot)
	}
	return leaders[0].String(), nil
}

// FetchAccount fetches the current state of an account. The returned record
// carries the data length only, never the data.
func (c *Client) FetchAccount(ctx context.Context, pubkey string) (cache.AccountRecord, error) {
	pk, err := solana.PublicKeyFromBase58(pubkey)
	if err != nil {
		return cache.AccountRecord{}, fmt.Errorf("invalid pubkey %q: %w", pubkey, err)
	}

	out, err := call(c, ctx, "getAccountInfo", func(cl *rpc.Client) (*rpc.GetAccountInfoResult, error) {
		return cl.GetAccountInfo(ctx, pk)
	})
	if err != nil {
		return cache.AccountRecord{}, err
	}
	if out == nil || out.Value == nil {
		return cache.AccountRecord{}, fmt.Errorf("account %s not found", pubkey)
	}

	acct := out.Value
	dataLen := 0
	if acct.Data != nil {
		dataLen = len(acct.Data.GetBinary())
	}
	var rentEpoch uint64
	if acct.RentEpoch != nil {
		rentEpoch = acct.RentEpoch.Uint64()
	}

	return cache.AccountRecord{
		Pubkey:     pubkey,
		Lamports:   acct.Lamports,
		Owner:      acct.Owner.String(),
		Executable: acct.Executable,
		RentEpoch:  rentEpoch,
		DataLen:    dataLen,
	}, nil
}

// HealthyEndpoints returns the number of endpoints currently marked healthy.
func (c *Client) HealthyEndpoints() int {
	count := 0
	for _, ep := range c.endpoints {
		if ep.healthy.Load() {
			count++
		}
	}
	return count
}

// Close stops the health loop.
func (c *Client) Close() {
	c.cancel()
}

// call runs one RPC against the next healthy endpoint with rate limiting
// and retry. A failing endpoint is demoted; retries rotate to the next one.
func call[T any](c *Client, ctx context.Context, method string, fn func(*rpc.Client) (T, error)) (T, error) {
	return resilience.RetryWithResult(ctx, c.retry, func(ctx context.Context) (T, error) {
		var zero T

		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}

		ep, err := c.nextEndpoint()
		if err != nil {
			return zero, err
		}

		start := time.Now()
		res, err := fn(ep.client)
		if c.meter != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			c.meter.RecordRPCCall(ctx, method, status, time.Since(start))
		}

		if err != nil {
			if ctx.Err() == nil && ep.healthy.Swap(false) {
				c.logger.LogWarn(ctx, "demoting RPC endpoint after failure",
					"url", ep.url, "method", method, "error", err)
			}
			return zero, fmt.Errorf("%s via %s: %w", method, ep.url, err)
		}

		return res, nil
	})
}

// nextEndpoint returns the next healthy endpoint round-robin. When all
// endpoints are demoted it falls back to round-robin over everything, so a
// flapping network cannot wedge the client permanently.
func (c *Client) nextEndpoint() (*endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempts := 0; attempts < len(c.endpoints); attempts++ {
		ep := c.endpoints[c.current]
		c.current = (c.current + 1) % len(c.endpoints)
		if ep.healthy.Load() {
			return ep, nil
		}
	}

	ep := c.endpoints[c.current]
	c.current = (c.current + 1) % len(c.endpoints)
	return ep, nil
}

// healthLoop probes every endpoint on a ticker, demoting or promoting as
// needed.
func (c *Client) healthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ep := range c.endpoints {
				go c.checkEndpoint(ctx, ep)
			}
		}
	}
}

func (c *Client) checkEndpoint(ctx context.Context, ep *endpoint) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := ep.client.GetHealth(checkCtx)
	if err != nil {
		if checkCtx.Err() == nil && ep.healthy.Swap(false) {
			c.logger.LogWarn(ctx, "RPC endpoint health check failed",
				"url", ep.url, "error", err)
		}
		return
	}

	if !ep.healthy.Swap(true) {
		c.logger.LogInfo(ctx, "RPC endpoint is healthy again", "url", ep.url)
	}
}

func parseCommitment(s string) rpc.CommitmentType {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}
