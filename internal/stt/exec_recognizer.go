package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loqalabs/loqa-oralhistory/internal/config"
	"github.com/loqalabs/loqa-oralhistory/internal/transcript"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
}

// execResult mirrors the JSON printed by whisper-style command line tools.
type execResult struct {
	Text     string               `json:"text"`
	Language string               `json:"language"`
	Duration float64              `json:"duration"`
	Segments []transcript.Segment `json:"segments"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, req Request) (Result, error) {
	if req.AudioPath == "" {
		return Result{}, errors.New("audio path is empty")
	}
	language := req.Language
	if language == "" {
		language = r.cfg.Language
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", req.AudioPath)
	if language != "" {
		args = append(args, "--language", language)
	}
	if req.Prompt != "" {
		args = append(args, "--prompt", req.Prompt)
	}
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.WaitDelay = 2 * time.Second

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("stt command aborted: %w", ctxErr)
		}
		return Result{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	if resp.Language == "" {
		resp.Language = language
	}
	if resp.Text == "" {
		resp.Text = transcript.Flatten(resp.Segments)
	}
	return Result{
		Language: resp.Language,
		Segments: resp.Segments,
		Text:     resp.Text,
		Duration: time.Duration(resp.Duration * float64(time.Second)),
	}, nil
}
