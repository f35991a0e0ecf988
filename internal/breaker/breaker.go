// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package breaker guards fallible external calls with a per-dependency
// three-state circuit breaker. CLOSED passes calls through and counts
// consecutive failures; at the threshold the circuit OPENs and rejects
// immediately; after the reset timeout the next call probes HALF_OPEN,
// where one success closes the circuit and one failure reopens it.
package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Defaults per dependency.
const (
	DefaultFailureThreshold = 3
	DefaultResetTimeout     = 30 * time.Second
)

// Config tunes one breaker instance.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold uint32
	// ResetTimeout is how long the circuit stays open before the next
	// call is allowed to probe.
	ResetTimeout time.Duration
}

// Breaker wraps a single external dependency.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// New creates a breaker named after its dependency.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}

	settings := gobreaker.Settings{
		Name: name,
		// One probe call in half-open; its success closes the circuit.
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state as a string
// (closed, half-open, open).
func (b *Breaker) State() string { return b.cb.State().String() }

// Execute runs fn through the breaker. Rejections while the circuit is
// open (or saturated in half-open) surface as the breaker-open error
// code; fn's own errors pass through unchanged.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	out, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, engramerr.Wrapf(err, engramerr.CodeBreakerOpen,
				"%s circuit open, call suppressed", b.name)
		}
		return nil, err
	}
	return out, nil
}

// Do is the typed convenience wrapper around Execute.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	out, err := b.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}
