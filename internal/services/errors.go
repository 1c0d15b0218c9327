package services

import (
  "errors"
  "fmt"
)

// Terminal error kinds surfaced to the orchestrator. Transient upstream
// failures are retried inside the provider clients and never escape as
// themselves; by the time an error reaches the state machine it is one of
// these.
var (
  ErrValidation          = errors.New("validation error")
  ErrInsufficientCredits = errors.New("insufficient credits")
  ErrAnalysisFailed      = errors.New("analysis failed")
  ErrAssemblyFailed      = errors.New("assembly failed")
  ErrCancelled           = errors.New("request cancelled")
  ErrNotFound            = errors.New("not found")
  ErrInternal            = errors.New("internal error")
)

// GenerationStepError marks the permanent failure of one step's asset job.
// StepIndex is recorded on the failed request row.
type GenerationStepError struct {
  StepIndex int
  Kind      string
  Err       error
}

func (e *GenerationStepError) Error() string {
  return fmt.Sprintf("step %d %s generation failed: %v", e.StepIndex, e.Kind, e.Err)
}

func (e *GenerationStepError) Unwrap() error { return e.Err }
