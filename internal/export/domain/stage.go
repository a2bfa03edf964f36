package domain

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageValidate   Stage = "validate"
	StageIdentifier Stage = "identifier"
	StagePayload    Stage = "payload"
	StageNormalize  Stage = "normalize"
	StageMinimalCSV Stage = "minimal_csv"
	StageFullCSV    Stage = "full_csv"
	StageNotify     Stage = "notify"
	StageRecord     Stage = "record"
)

// Kind classifies a fatal stage failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindPersistence
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// StageError is the tagged result of a failed stage. Message is safe to
// show to the caller; Err carries the internal detail for logs.
type StageError struct {
	Stage   Stage
	Kind    Kind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("export %s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("export %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func Validation(stage Stage, message string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindValidation, Message: message, Err: err}
}

func Persistence(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindPersistence, Message: "export storage failed", Err: err}
}

func Dependency(stage Stage, message string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindDependency, Message: message, Err: err}
}

// AsStageError unwraps err to a StageError when it is one.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
