// Package ratelimit bounds how fast deliveries reach the transport.
package ratelimit

import "context"

// RateLimiter throttles transport calls per notification type.
type RateLimiter interface {
	Allow(ctx context.Context, notificationType string) (bool, error)
	Wait(ctx context.Context, notificationType string) error
}
