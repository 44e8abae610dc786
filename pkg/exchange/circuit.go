package exchange

import (
	"log"
	"sync"
	"time"
)

// CircuitBreaker counts consecutive failures across all symbols and, once
// tripped, blocks further calls to the endpoint family until the cooldown
// elapses. Prevents hammering an already-overloaded remote.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.failures < cb.threshold {
		return true
	}
	if time.Since(cb.openedAt) >= cb.cooldown {
		// Half-open: let one call through; Success/Failure decides the rest.
		cb.failures = cb.threshold - 1
		return true
	}
	return false
}

// Success resets the consecutive-failure counter.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
}

// Failure records a failed call and trips the breaker at the threshold.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures == cb.threshold {
		cb.openedAt = time.Now()
		log.Printf("⚡ circuit breaker tripped after %d consecutive failures, cooling down %v", cb.failures, cb.cooldown)
	}
}

// Open reports whether the breaker is currently blocking calls. Unlike
// Allow, it never consumes the half-open permit.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures >= cb.threshold && time.Since(cb.openedAt) < cb.cooldown
}
