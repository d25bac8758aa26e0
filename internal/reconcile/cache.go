package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	proposalVersionKey = "bankrec:proposals:version"
	proposalKeyPrefix  = "bankrec:proposals"
	proposalBumpTopic  = "bankrec.proposals.bump"
)

// ProposalCache memoises proposal lists in Redis under a global version that
// is bumped whenever a movement or entry changes state. A nil cache or client
// computes every request directly.
type ProposalCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewProposalCache builds the cache helper.
func NewProposalCache(client *redis.Client, ttl time.Duration) *ProposalCache {
	return &ProposalCache{client: client, ttl: ttl}
}

func (c *ProposalCache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising it when missing.
func (c *ProposalCache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, proposalVersionKey).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, proposalVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, proposalVersionKey).Int64()
	}
	return ver, err
}

// Fetch returns cached proposals for a movement or computes them with loader.
// Concurrent misses for the same key share one loader call.
func (c *ProposalCache) Fetch(ctx context.Context, movementID int64, loader func(context.Context) ([]Proposal, error)) ([]Proposal, error) {
	if loader == nil {
		return nil, errors.New("reconcile: proposal loader required")
	}
	if !c.enabled() {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("%s:%d:%d", proposalKeyPrefix, movementID, ver)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached []Proposal
		if jsonErr := json.Unmarshal(payload, &cached); jsonErr == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}

	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(value); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return value, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Proposal), nil
	}
}

// Bump invalidates every cached proposal list and publishes the new version.
func (c *ProposalCache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, proposalVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, proposalBumpTopic, strconv.FormatInt(ver, 10)).Err()
}
