// Package rng derives independent math/rand streams from the run seed.
package rng

import (
	"context"
	"hash/fnv"
	"math/rand"
)

// Adapter implements ports.RNGPort
type Adapter struct{}

// NewAdapter creates a stream factory
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Stream derives a stream for one unit of work within a stage, e.g. a single
// parallel-analysis iteration
func (a *Adapter) Stream(ctx context.Context, stageName, key string, baseSeed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(DeriveSeed(baseSeed, stageName, key))), nil
}

// DeriveSeed mixes the base seed with the stage and key names
func DeriveSeed(baseSeed int64, stageName, key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(stageName))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return baseSeed ^ int64(h.Sum64())
}
