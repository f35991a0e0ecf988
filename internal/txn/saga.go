// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package txn

import (
	"context"
	"log/slog"

	engramerr "github.com/engram-dev/engram/pkg/errors"
	"github.com/google/uuid"
)

// SagaState is the lifecycle of one saga execution.
type SagaState string

const (
	SagaStatePending    SagaState = "pending"
	SagaStateCommitted  SagaState = "committed"
	SagaStateRolledBack SagaState = "rolled_back"
)

// SagaStep pairs a forward action with its explicit compensation.
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga runs a sequence of local transactions; on any step failure, the
// compensations of previously completed steps run in reverse order. A
// saga's lifetime is bounded by one ingest operation.
type Saga struct {
	id     string
	name   string
	steps  []SagaStep
	state  SagaState
	logger *slog.Logger
}

// NewSaga creates an empty saga.
func NewSaga(name string) *Saga {
	return &Saga{
		id:     uuid.NewString(),
		name:   name,
		state:  SagaStatePending,
		logger: slog.Default(),
	}
}

// AddStep appends a step. Returns the saga for chaining.
func (s *Saga) AddStep(step SagaStep) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// ID returns the saga's unique identifier.
func (s *Saga) ID() string { return s.id }

// State returns the current saga state.
func (s *Saga) State() SagaState { return s.state }

// Run executes the steps in order. On failure it compensates completed
// steps newest-first (each isolated from the next) and returns the
// original step error.
func (s *Saga) Run(ctx context.Context) error {
	completed := 0

	for _, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			s.logger.Warn("saga step failed, compensating",
				"saga", s.name, "saga_id", s.id, "step", step.Name,
				"completed", completed, "error", err)
			s.compensate(ctx, completed)
			s.state = SagaStateRolledBack
			return engramerr.Wrapf(err, engramerr.CodeTxnDatabaseFailure,
				"saga %s failed at step %s", s.name, step.Name)
		}
		completed++
	}

	s.state = SagaStateCommitted
	return nil
}

func (s *Saga) compensate(ctx context.Context, completed int) {
	for i := completed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.Error("saga compensation failed",
				"saga", s.name, "saga_id", s.id, "step", step.Name, "error", err)
		}
	}
}
