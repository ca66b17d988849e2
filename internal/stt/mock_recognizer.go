package stt

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/loqalabs/loqa-oralhistory/internal/transcript"
)

// mockSegmentSeconds is the length of each synthetic segment.
const mockSegmentSeconds = 20

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer that derives segments from the file
// size. One segment is produced per started 64 KiB, up to 30.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	info, err := os.Stat(req.AudioPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat audio: %w", err)
	}

	count := int(info.Size()/(64<<10)) + 1
	if count > 30 {
		count = 30
	}
	segments := make([]transcript.Segment, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i * mockSegmentSeconds)
		segments = append(segments, transcript.Segment{
			Start: start,
			End:   start + mockSegmentSeconds,
			Text:  fmt.Sprintf("[trecho %d]", i+1),
		})
	}
	return Result{
		Language: req.Language,
		Segments: segments,
		Text:     transcript.Flatten(segments),
		Duration: time.Duration(count*mockSegmentSeconds) * time.Second,
	}, nil
}
