// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/breaker"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

var errUpstream = errors.New("upstream down")

func failing() (any, error) { return nil, errUpstream }
func succeeding() (any, error) { return "ok", nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := breaker.New("embed", breaker.Config{FailureThreshold: 2, ResetTimeout: time.Second})

	_, err := b.Execute(failing)
	assert.ErrorIs(t, err, errUpstream)
	_, err = b.Execute(failing)
	assert.ErrorIs(t, err, errUpstream)

	// Third call is rejected without invoking the action.
	invoked := false
	_, err = b.Execute(func() (any, error) {
		invoked = true
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, engramerr.IsBreakerOpen(err))
	assert.False(t, invoked)
	assert.Equal(t, "open", b.State())
}

func TestBreaker_RecoversAfterResetTimeout(t *testing.T) {
	b := breaker.New("embed", breaker.Config{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})

	_, _ = b.Execute(failing)
	_, _ = b.Execute(failing)
	_, err := b.Execute(succeeding)
	require.True(t, engramerr.IsBreakerOpen(err))

	time.Sleep(150 * time.Millisecond)

	// Half-open probe succeeds and closes the circuit.
	out, err := b.Execute(succeeding)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "closed", b.State())

	// Subsequent calls pass.
	_, err = b.Execute(succeeding)
	require.NoError(t, err)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := breaker.New("vector", breaker.Config{FailureThreshold: 1, ResetTimeout: 50 * time.Millisecond})

	_, _ = b.Execute(failing)
	time.Sleep(80 * time.Millisecond)

	_, err := b.Execute(failing)
	assert.ErrorIs(t, err, errUpstream)

	_, err = b.Execute(succeeding)
	require.Error(t, err)
	assert.True(t, engramerr.IsBreakerOpen(err))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := breaker.New("extract", breaker.Config{FailureThreshold: 2, ResetTimeout: time.Second})

	_, _ = b.Execute(failing)
	_, err := b.Execute(succeeding)
	require.NoError(t, err)

	// One more failure must not open the circuit: the success above
	// reset the consecutive count.
	_, err = b.Execute(failing)
	assert.ErrorIs(t, err, errUpstream)
	_, err = b.Execute(succeeding)
	require.NoError(t, err)
}

func TestDo_TypedResult(t *testing.T) {
	b := breaker.New("embed", breaker.Config{})

	vec, err := breaker.Do(b, func() ([]float32, error) {
		return []float32{1, 2, 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	_, err = breaker.Do(b, func() ([]float32, error) {
		return nil, errUpstream
	})
	assert.ErrorIs(t, err, errUpstream)
}
