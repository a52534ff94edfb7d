package sagas

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SagaStep is a single step of a saga operating on shared state T
type SagaStep[T any] struct {
	Name    string
	Execute func(ctx context.Context, state *T) error
}

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStatePending   SagaState = "PENDING"
	SagaStateRunning   SagaState = "RUNNING"
	SagaStateCompleted SagaState = "COMPLETED"
	SagaStateFailed    SagaState = "FAILED"
)

// StepError reports the step at which a saga stopped
type StepError struct {
	Saga  string
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga %s failed at step %s: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Saga runs its steps strictly in order and stops at the first failing step.
// Each step runs at most once and completed steps are never undone: the
// writes they made stay committed.
type Saga[T any] struct {
	id        string
	name      string
	steps     []SagaStep[T]
	state     SagaState
	completed int
	logger    *zap.Logger
	metadata  map[string]interface{}
}

// NewSaga creates a new saga instance
func NewSaga[T any](name string, logger *zap.Logger) *Saga[T] {
	return &Saga[T]{
		id:       uuid.NewString(),
		name:     name,
		steps:    make([]SagaStep[T], 0),
		state:    SagaStatePending,
		logger:   logger,
		metadata: make(map[string]interface{}),
	}
}

// AddStep adds a step to the saga
func (s *Saga[T]) AddStep(name string, execute func(ctx context.Context, state *T) error) *Saga[T] {
	s.steps = append(s.steps, SagaStep[T]{Name: name, Execute: execute})
	return s
}

// SetMetadata sets metadata logged with the saga
func (s *Saga[T]) SetMetadata(key string, value interface{}) *Saga[T] {
	s.metadata[key] = value
	return s
}

// Execute runs the saga. A cancelled context stops it before the next step.
func (s *Saga[T]) Execute(ctx context.Context, state *T) error {
	s.state = SagaStateRunning
	s.logger.Info("Starting saga execution",
		zap.String("saga_id", s.id),
		zap.String("saga_name", s.name),
		zap.Int("total_steps", len(s.steps)),
		zap.Any("metadata", s.metadata),
	)

	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.fail(i, step.Name, err)
		}

		s.logger.Debug("Executing saga step",
			zap.String("saga_id", s.id),
			zap.String("step_name", step.Name),
			zap.Int("step_number", i+1),
		)

		if err := step.Execute(ctx, state); err != nil {
			return s.fail(i, step.Name, err)
		}
		s.completed = i + 1
	}

	s.state = SagaStateCompleted
	s.logger.Info("Saga completed successfully",
		zap.String("saga_id", s.id),
		zap.String("saga_name", s.name),
		zap.Int("completed_steps", s.completed),
	)
	return nil
}

func (s *Saga[T]) fail(index int, step string, err error) error {
	s.state = SagaStateFailed
	s.logger.Warn("Saga step failed",
		zap.String("saga_id", s.id),
		zap.String("saga_name", s.name),
		zap.String("step_name", step),
		zap.Int("completed_steps", s.completed),
		zap.Error(err),
	)
	return &StepError{Saga: s.name, Step: step, Index: index, Err: err}
}

// GetState returns the current state of the saga
func (s *Saga[T]) GetState() SagaState {
	return s.state
}

// GetID returns the saga ID
func (s *Saga[T]) GetID() string {
	return s.id
}

// CompletedSteps returns how many steps finished successfully
func (s *Saga[T]) CompletedSteps() int {
	return s.completed
}
