// Package ordernum generates human-facing order numbers that stay unique
// across concurrent processes: a timestamp, a per-process sequence and a
// random suffix so two processes sharing a clock tick cannot collide.
package ordernum

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"
)

const (
	timeLayout = "20060102150405"
	seqMod     = 1000000
	randMax    = 10000
)

// Generator produces order numbers. The zero value is not usable; call New.
type Generator struct {
	seq uint64
	now func() time.Time
}

// New builds a Generator using the wall clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock builds a Generator with an injected clock for tests.
func NewWithClock(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Next returns the next order number.
func (g *Generator) Next() string {
	ts := g.now().UTC().Format(timeLayout)
	seq := atomic.AddUint64(&g.seq, 1) % seqMod
	return fmt.Sprintf("%s%06d%04d", ts, seq, randomSuffix())
}

func randomSuffix() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(randMax))
	if err != nil {
		// Fall back to a nanosecond-derived suffix; uniqueness is still
		// carried by the sequence component.
		return time.Now().UnixNano() % randMax
	}
	return n.Int64()
}
