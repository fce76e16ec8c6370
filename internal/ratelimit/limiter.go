package ratelimit

import "context"

// RateLimiter controls call throughput per automation endpoint.
type RateLimiter interface {
	Allow(ctx context.Context, endpoint string) (bool, error)
	Wait(ctx context.Context, endpoint string) error
}
