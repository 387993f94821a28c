package ports

import (
	"context"
	"math/rand"
)

// RNGPort hands out seeded random streams. The same (stage, key, seed)
// always yields the same sequence regardless of scheduling, so parallel
// simulations stay reproducible.
type RNGPort interface {
	Stream(ctx context.Context, stageName, key string, baseSeed int64) (*rand.Rand, error)
}
