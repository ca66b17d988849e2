// Package stt adapts external speech-recognition engines. A recognizer takes a
// staged audio file and returns timestamped segments.
package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-oralhistory/internal/config"
	"github.com/loqalabs/loqa-oralhistory/internal/transcript"
)

// Request describes one recognition call.
type Request struct {
	AudioPath string
	Language  string
	Prompt    string
}

// Result captures recognizer output. Segments are ordered by start time.
type Result struct {
	Language string
	Segments []transcript.Segment
	Text     string
	Duration time.Duration
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
