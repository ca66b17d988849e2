// Package pipeline runs one interview recording through staging,
// recognition, aggregation and document rendering.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-oralhistory/internal/document"
	"github.com/loqalabs/loqa-oralhistory/internal/eventstore"
	"github.com/loqalabs/loqa-oralhistory/internal/metadata"
	"github.com/loqalabs/loqa-oralhistory/internal/protocol"
	"github.com/loqalabs/loqa-oralhistory/internal/stt"
	"github.com/loqalabs/loqa-oralhistory/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is a step of the transcription state machine.
type State string

const (
	StateReceived    State = "received"
	StateStaged      State = "audio_staged"
	StateTranscribed State = "transcribed"
	StateAggregated  State = "aggregated"
	StateRendered    State = "rendered"
	StateDelivered   State = "delivered"
	StateFailed      State = "failed"
)

const defaultTimeout = 15 * time.Minute

// Publisher announces job outcomes. bus.Client satisfies it.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, v any) error
}

// Recorder keeps an audit trail. eventstore.Store satisfies it.
type Recorder interface {
	Append(ctx context.Context, evt eventstore.Event) error
}

// Options wires the orchestrator's collaborators. Publisher and Recorder are
// optional.
type Options struct {
	Recognizer stt.Recognizer
	Aggregator *transcript.Aggregator
	Renderer   document.Renderer
	UploadDir  string
	Language   string
	Timeout    time.Duration
	Publisher  Publisher
	Recorder   Recorder
	Logger     *slog.Logger
}

// Submission is one uploaded recording with its form fields.
type Submission struct {
	Filename string
	Audio    io.Reader
	Metadata document.Metadata
	Actor    string
}

// Result is what a delivered job hands back to the caller.
type Result struct {
	JobID         string
	PreviewText   string
	FileName      string
	Document      []byte
	Blocks        int
	AudioDuration time.Duration
}

type Orchestrator struct {
	recognizer stt.Recognizer
	aggregator *transcript.Aggregator
	renderer   document.Renderer
	uploadDir  string
	language   string
	timeout    time.Duration
	publisher  Publisher
	recorder   Recorder
	log        *slog.Logger
	newID      func() string
	clock      func() time.Time

	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	blocks   metric.Int64Histogram
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Recognizer == nil || opts.Aggregator == nil || opts.Renderer == nil {
		return nil, errors.New("pipeline requires a recognizer, an aggregator and a renderer")
	}
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	o := &Orchestrator{
		recognizer: opts.Recognizer,
		aggregator: opts.Aggregator,
		renderer:   opts.Renderer,
		uploadDir:  opts.UploadDir,
		language:   opts.Language,
		timeout:    opts.Timeout,
		publisher:  opts.Publisher,
		recorder:   opts.Recorder,
		log:        opts.Logger.With(slog.String("component", "pipeline")),
		newID:      func() string { return uuid.NewString() },
		clock:      time.Now,
		tracer:     otel.Tracer("github.com/loqalabs/loqa-oralhistory/pipeline"),
	}
	if err := o.initMetrics(); err != nil {
		o.log.Warn("failed to initialize metrics", slogError(err))
	}
	return o, nil
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-oralhistory/pipeline")
	var err error
	if o.runs, err = meter.Int64Counter("loqa.transcriptions",
		metric.WithDescription("Transcription jobs by outcome")); err != nil {
		return err
	}
	if o.duration, err = meter.Float64Histogram("loqa.transcription.duration",
		metric.WithDescription("Wall time of a transcription job"),
		metric.WithUnit("s")); err != nil {
		return err
	}
	if o.blocks, err = meter.Int64Histogram("loqa.transcript.blocks",
		metric.WithDescription("Rendered blocks per transcript")); err != nil {
		return err
	}
	return nil
}

// Run executes one job. The staged audio is removed on every exit path.
func (o *Orchestrator) Run(ctx context.Context, sub Submission) (Result, error) {
	jobID := o.newID()
	started := o.clock()
	ctx, span := o.tracer.Start(ctx, "transcription.run", trace.WithAttributes(
		attribute.String("job.id", jobID),
	))
	defer span.End()

	log := o.log.With(slog.String("job_id", jobID))
	log.Info("transcription received", slog.String("file", sub.Filename))

	state := StateReceived
	res, err := o.run(ctx, jobID, sub, &state)
	elapsed := o.clock().Sub(started)

	outcome := "delivered"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("transcription failed", slog.String("state", string(state)), slogError(err))
	} else {
		log.Info("transcription delivered",
			slog.Int("blocks", res.Blocks),
			slog.Duration("elapsed", elapsed))
	}
	o.observe(ctx, outcome, elapsed, res.Blocks, err == nil)
	o.announce(ctx, jobID, sub, res, err)

	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string, sub Submission, state *State) (Result, error) {
	meta := sub.Metadata

	stageCtx, span := o.tracer.Start(ctx, "transcription.stage")
	path, err := o.stage(stageCtx, jobID, sub)
	span.End()
	if err != nil {
		return Result{}, fail(ErrStaging, *state, err)
	}
	defer o.cleanup(path)
	*state = StateStaged

	var audioLength time.Duration
	if d, err := stt.ProbeWAVDuration(path); err == nil {
		audioLength = d
	}

	recognizeCtx, cancel := context.WithTimeout(ctx, o.timeout)
	recognizeCtx, span = o.tracer.Start(recognizeCtx, "transcription.recognize")
	recognized, err := o.recognizer.Transcribe(recognizeCtx, stt.Request{
		AudioPath: path,
		Language:  o.language,
		Prompt:    document.Prompt(meta),
	})
	span.End()
	cancel()
	if err != nil {
		return Result{}, fail(ErrTranscriptionEngine, *state, err)
	}
	*state = StateTranscribed

	if audioLength == 0 {
		audioLength = recognized.Duration
	}
	if strings.TrimSpace(meta.Duration) == "" && audioLength > 0 {
		meta.Duration = metadata.ClockDuration(audioLength)
	}

	_, span = o.tracer.Start(ctx, "transcription.aggregate")
	blocks := o.aggregator.Blocks(recognized.Segments)
	aggregated := transcript.Render(blocks)
	preview := recognized.Text
	if preview == "" {
		preview = transcript.Flatten(recognized.Segments)
	}
	span.SetAttributes(attribute.Int("transcript.blocks", len(blocks)))
	span.End()
	*state = StateAggregated

	renderCtx, span := o.tracer.Start(ctx, "transcription.render")
	doc, err := o.renderer.Render(renderCtx, document.BuildContext(meta, aggregated, preview))
	span.End()
	if err != nil {
		if errors.Is(err, document.ErrTemplateMissing) {
			return Result{}, fail(ErrConfiguration, *state, err)
		}
		return Result{}, fail(ErrRender, *state, err)
	}
	*state = StateRendered

	res := Result{
		JobID:         jobID,
		PreviewText:   preview,
		FileName:      document.OutputFileName(meta.Interviewee),
		Document:      doc,
		Blocks:        len(blocks),
		AudioDuration: audioLength,
	}
	*state = StateDelivered
	return res, nil
}

// stage writes the upload to a file named after the job id. O_EXCL guarantees
// two jobs never share a file.
func (o *Orchestrator) stage(ctx context.Context, jobID string, sub Submission) (string, error) {
	if sub.Audio == nil {
		return "", errors.New("no audio provided")
	}
	if err := os.MkdirAll(o.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(o.uploadDir, "audio-"+jobID+audioExt(sub.Filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(f, readerWithContext{ctx: ctx, r: sub.Audio}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close staged file: %w", err)
	}
	return path, nil
}

func (o *Orchestrator) cleanup(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.log.Warn("failed to remove staged audio", slog.String("path", path), slogError(err))
	}
}

func (o *Orchestrator) observe(ctx context.Context, outcome string, elapsed time.Duration, blocks int, delivered bool) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if o.runs != nil {
		o.runs.Add(ctx, 1, attrs)
	}
	if o.duration != nil {
		o.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if delivered && o.blocks != nil {
		o.blocks.Record(ctx, int64(blocks))
	}
}

// announce publishes and records the outcome. Failures are logged only.
func (o *Orchestrator) announce(ctx context.Context, jobID string, sub Submission, res Result, runErr error) {
	evt := protocol.TranscriptionEvent{
		JobID:        jobID,
		State:        string(StateDelivered),
		FileName:     res.FileName,
		Interviewee:  sub.Metadata.Interviewee,
		Blocks:       res.Blocks,
		AudioSeconds: res.AudioDuration.Seconds(),
		Timestamp:    o.clock().UTC(),
	}
	subject := protocol.SubjectTranscriptionCompleted
	auditType := eventstore.TypeTranscriptionCompleted
	if runErr != nil {
		evt.State = string(StateFailed)
		evt.Error = runErr.Error()
		subject = protocol.SubjectTranscriptionFailed
		auditType = eventstore.TypeTranscriptionFailed
	}

	if o.publisher != nil {
		if err := o.publisher.PublishJSON(ctx, subject, evt); err != nil {
			o.log.Warn("failed to publish transcription event", slog.String("job_id", jobID), slogError(err))
		}
	}
	if o.recorder != nil {
		payload, err := json.Marshal(evt)
		if err == nil {
			err = o.recorder.Append(ctx, eventstore.Event{
				Actor:   sub.Actor,
				Type:    auditType,
				Subject: jobID,
				Payload: payload,
			})
		}
		if err != nil {
			o.log.Warn("failed to record transcription event", slog.String("job_id", jobID), slogError(err))
		}
	}
}

// audioExt keeps a short alphanumeric extension from the client filename.
func audioExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ""
		}
	}
	return ext
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
