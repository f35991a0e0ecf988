// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package server

import (
	"sync"
	"time"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Rate limit defaults: 100 requests per 60 s window per tenant.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter enforces a fixed-window request budget per tenant.
type RateLimiter struct {
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	buckets map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter with the given budget per window.
func NewRateLimiter(maxRequests int, windowLen time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = DefaultRateLimit
	}
	if windowLen <= 0 {
		windowLen = DefaultRateWindow
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      windowLen,
		buckets:     make(map[string]*window),
		now:         time.Now,
	}
}

// Allow consumes one request from the tenant's window. The (max+1)-th
// call within a window fails with the rate-limit error code.
func (r *RateLimiter) Allow(tenant string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[tenant]
	if !ok || now.Sub(b.start) >= r.window {
		r.buckets[tenant] = &window{start: now, count: 1}
		r.maybeSweep(now)
		return nil
	}

	if b.count >= r.maxRequests {
		return engramerr.Errorf(engramerr.CodeServerRateLimited,
			"tenant %s exceeded %d requests per %s", tenant, r.maxRequests, r.window)
	}
	b.count++
	return nil
}

// maybeSweep drops expired windows so the bucket map stays bounded by
// the set of recently active tenants. Called with the lock held.
func (r *RateLimiter) maybeSweep(now time.Time) {
	if len(r.buckets) < 10000 {
		return
	}
	for tenant, b := range r.buckets {
		if now.Sub(b.start) >= r.window {
			delete(r.buckets, tenant)
		}
	}
}
