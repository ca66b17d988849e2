package protocol

import "time"

// TranscriptionEvent reports the terminal outcome of one transcription job.
type TranscriptionEvent struct {
	JobID        string    `json:"job_id"`
	State        string    `json:"state"`
	FileName     string    `json:"file_name,omitempty"`
	Interviewee  string    `json:"interviewee,omitempty"`
	Blocks       int       `json:"blocks"`
	AudioSeconds float64   `json:"audio_seconds,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptionCompleted = "transcription.completed"
	SubjectTranscriptionFailed    = "transcription.failed"
)
