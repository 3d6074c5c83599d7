// Package ratelimit throttles the public, unauthenticated endpoints per
// client key (the remote IP).
package ratelimit

import "context"

// Limiter decides whether one more request for key is allowed now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
