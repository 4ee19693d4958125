package engine

import (
	"math/rand/v2"
)

// randSource is a lightweight wrapper around a PCG generator.
// It is not safe for concurrent use, so each row worker owns its own instance.
type randSource struct {
	r *rand.Rand
}

func newRandSource(seed, stream uint64) *randSource {
	return &randSource{
		r: rand.New(rand.NewPCG(seed, stream)),
	}
}

func (rs *randSource) Float32() float32 {
	return rs.r.Float32()
}

// rowSeed mixes the tracer seed with the frame index so consecutive frames
// draw independent samples for the same row.
func rowSeed(seed, frame uint64) uint64 {
	// финализатор splitmix64
	x := seed ^ (frame+1)*0x9e3779b97f4a7c15
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	return x ^ (x >> 31)
}
