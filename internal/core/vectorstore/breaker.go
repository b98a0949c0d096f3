package vectorstore

import (
	"fmt"
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// circuitBreaker fails fast once an endpoint has misbehaved repeatedly.
// Closed: normal operation. Open: reject immediately. HalfOpen: a single
// probe decides.
type circuitBreaker struct {
	mu               sync.Mutex
	state            breakerState
	failures         int
	failureThreshold int
	recoveryTimeout  time.Duration
	lastFailure      time.Time
	probing          bool
	now              func() time.Time
}

func newBreaker(threshold int, recovery time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: threshold,
		recoveryTimeout:  recovery,
		now:              time.Now,
	}
}

// allow reports whether a call may proceed. In half-open state only one probe
// is admitted at a time.
func (b *circuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.state = stateHalfOpen
			b.probing = true
			return nil
		}
		return &StoreError{Kind: KindUnavailable, Err: fmt.Errorf("circuit open, retry in %s", b.recoveryTimeout)}
	default: // half-open
		if b.probing {
			return &StoreError{Kind: KindUnavailable, Err: fmt.Errorf("circuit half-open, probe in flight")}
		}
		b.probing = true
		return nil
	}
}

func (b *circuitBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
	b.probing = false
}

func (b *circuitBreaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	b.probing = false
	if b.state == stateHalfOpen || b.failures >= b.failureThreshold {
		b.state = stateOpen
	}
}

// breakerSet keys breakers by logical endpoint so one sick operation does not
// trip the others.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	build    func() *circuitBreaker
}

func newBreakerSet(threshold int, recovery time.Duration) *breakerSet {
	return &breakerSet{
		breakers: make(map[string]*circuitBreaker),
		build:    func() *circuitBreaker { return newBreaker(threshold, recovery) },
	}
}

func (s *breakerSet) get(endpoint string) *circuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[endpoint]
	if !ok {
		b = s.build()
		s.breakers[endpoint] = b
	}
	return b
}
