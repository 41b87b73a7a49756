package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Reconnect policies accepted by NewBackOff.
const (
	PolicyLinear      = "linear"
	PolicyExponential = "exponential"
)

// LinearBackOff yields base*attempt, attempt starting at 1.
type LinearBackOff struct {
	Base time.Duration

	mu      sync.Mutex
	attempt int64
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt++
	return b.Base * time.Duration(b.attempt)
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// NewBackOff builds the reconnect policy named by policy.
func NewBackOff(policy string, base time.Duration) backoff.BackOff {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case PolicyExponential:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = base
		exp.MaxInterval = 12 * base
		exp.Reset()
		return exp
	default:
		return &LinearBackOff{Base: base}
	}
}
