package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by Orchestrator.Run wraps exactly one.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrTranscriptionEngine = errors.New("transcription engine error")
	ErrRender              = errors.New("render error")
	ErrStaging             = errors.New("audio staging error")
)

// Error records which state a job was in when it failed.
type Error struct {
	Kind  error
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (state %s): %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func fail(kind error, state State, err error) *Error {
	return &Error{Kind: kind, State: state, Err: err}
}
