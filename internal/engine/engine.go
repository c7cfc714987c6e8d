// Package engine drives the local speech-recognition engine (the whisper
// CLI) as a subprocess and resolves the options it is invoked with.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
	"github.com/audiolibrelab/jamscribe/internal/runner"
)

// Request is one engine invocation.
type Request struct {
	AudioPath string
	Model     string
	Params    Params
}

// Result is the outcome of a successful engine run. Empty Text is valid:
// the engine heard no speech.
type Result struct {
	Text       string           `json:"text"`
	Segments   []models.Segment `json:"segments"`
	Language   string           `json:"language"`
	Duration   float64          `json:"duration"`
	Confidence *float64         `json:"confidence,omitempty"`
	Diagnostic string           `json:"-"`
	ElapsedMs  int64            `json:"elapsed_ms"`
}

// Engine invokes the recognition engine with an argument vector.
type Engine struct {
	command   string
	prefix    []string
	timeout   time.Duration
	runner    runner.Runner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	readFile  func(name string) ([]byte, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRunner replaces the process runner.
func WithRunner(r runner.Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithTimeout bounds every invocation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithPrefixArgs sets arguments placed before the engine options, e.g.
// ["-m", "whisper"] when command is a Python interpreter.
func WithPrefixArgs(args ...string) Option {
	return func(e *Engine) { e.prefix = append([]string(nil), args...) }
}

// New creates an engine adapter for command.
func New(command string, opts ...Option) *Engine {
	e := &Engine{
		command:   command,
		runner:    &runner.Exec{},
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Command returns the executable the engine runs.
func (e *Engine) Command() string { return e.command }

// BuildArgs returns the full argument vector for req writing into outDir.
// The audio path comes last, after "--", so no file name can be taken
// for an option.
func (e *Engine) BuildArgs(req Request, outDir string) ([]string, error) {
	opts, err := req.Params.Args()
	if err != nil {
		return nil, errs.Validation("%v", err)
	}
	args := append([]string(nil), e.prefix...)
	args = append(args, opts...)
	args = append(args,
		"--model", req.Model,
		"--output_dir", outDir,
		"--output_format", "json",
		"--verbose", "False",
		"--", req.AudioPath,
	)
	return args, nil
}

// Transcribe runs the engine on req.AudioPath and decodes its JSON result.
// Failures are returned as *errs.EngineError carrying the diagnostic log.
func (e *Engine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, errs.Validation("audio path is required")
	}
	if req.Model == "" {
		return nil, errs.Validation("model is required")
	}

	outDir, err := e.mkdirTemp("", "jamscribe-engine-*")
	if err != nil {
		return nil, &errs.EngineError{Message: "failed to create temporary workspace", Err: err}
	}
	defer func() { _ = e.removeAll(outDir) }()

	args, err := e.BuildArgs(req, outDir)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	slog.Info("Starting transcription engine", "command", e.command, "model", req.Model, "audio", req.AudioPath)
	start := time.Now()
	res, runErr := e.runner.Run(runCtx, e.command, args...)
	elapsed := time.Since(start).Milliseconds()

	if runErr != nil {
		return nil, e.runFailure(runCtx, res, runErr)
	}

	outPath := filepath.Join(outDir, outputName(req.AudioPath))
	data, err := e.readFile(outPath)
	if err != nil {
		return nil, &errs.EngineError{
			Message:    "engine exited successfully but produced no result file",
			Diagnostic: res.Stderr,
			Stdout:     res.Stdout,
			Err:        err,
		}
	}

	result, err := decodeOutput(data)
	if err != nil {
		return nil, &errs.EngineError{
			Message:    err.Error(),
			Diagnostic: res.Stderr,
			Stdout:     res.Stdout,
			Err:        err,
		}
	}
	result.Diagnostic = res.Stderr
	result.ElapsedMs = elapsed

	slog.Info("Transcription engine finished", "elapsed_ms", elapsed, "segments", len(result.Segments), "language", result.Language)
	return result, nil
}

func (e *Engine) runFailure(ctx context.Context, res runner.Result, runErr error) error {
	engineErr := &errs.EngineError{
		Diagnostic: res.Stderr,
		Stdout:     res.Stdout,
		ExitCode:   res.ExitCode,
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		engineErr.Message = fmt.Sprintf("timeout after %s", e.timeout)
		engineErr.Err = fmt.Errorf("%w: %w", errs.ErrTimeout, context.DeadlineExceeded)
	case errors.Is(ctx.Err(), context.Canceled):
		engineErr.Message = "cancelled"
		engineErr.Err = fmt.Errorf("%w: %w", errs.ErrCancelled, context.Canceled)
	default:
		engineErr.Message = fmt.Sprintf("%s failed", e.command)
		engineErr.Err = runErr
	}
	slog.Error("Transcription engine failed", "exit_code", res.ExitCode, "error", runErr, "stderr", tail(res.Stderr, 2000))
	return engineErr
}

// outputName is the result file the engine writes for audioPath.
func outputName(audioPath string) string {
	base := filepath.Base(audioPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}

// engineOutput is the JSON document written by --output_format json.
type engineOutput struct {
	Text     *string         `json:"text" validate:"required"`
	Language string          `json:"language"`
	Segments []engineSegment `json:"segments" validate:"dive"`
}

type engineSegment struct {
	ID           int     `json:"id" validate:"gte=0"`
	Start        float64 `json:"start" validate:"gte=0"`
	End          float64 `json:"end" validate:"gtefield=Start"`
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob" validate:"gte=0,lte=1"`
}

var validate = validator.New()

// decodeOutput parses and schema-checks the engine's JSON result. Any
// malformed shape is rejected.
func decodeOutput(data []byte) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("engine produced non-UTF-8 output")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("engine produced an empty result document")
	}

	var out engineOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("malformed engine result: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return nil, fmt.Errorf("invalid engine result: %w", err)
	}

	result := &Result{
		Text:     strings.TrimSpace(*out.Text),
		Language: out.Language,
		Segments: make([]models.Segment, 0, len(out.Segments)),
	}
	var logprob float64
	for _, seg := range out.Segments {
		result.Segments = append(result.Segments, models.Segment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
		logprob += seg.AvgLogprob
		if seg.End > result.Duration {
			result.Duration = seg.End
		}
	}
	if n := len(out.Segments); n > 0 {
		c := math.Exp(logprob / float64(n))
		c = math.Max(0, math.Min(1, c))
		result.Confidence = &c
	}
	return result, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
