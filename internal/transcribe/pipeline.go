package transcribe

import (
	"context"
	"log/slog"
	"time"

	"github.com/audiolibrelab/jamscribe/internal/audio"
	"github.com/audiolibrelab/jamscribe/internal/config"
	"github.com/audiolibrelab/jamscribe/internal/engine"
	"github.com/audiolibrelab/jamscribe/internal/output"
	"github.com/audiolibrelab/jamscribe/internal/runner"
)

// Options selects how one file is transcribed.
type Options struct {
	Language  string
	Model     string
	Overrides map[string]any
	// SkipPreprocessing disables the preprocessor in addition to any
	// skip_preprocessing override.
	SkipPreprocessing bool
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	Document         output.Document
	Confidence       *float64
	Diagnostic       string
	ProcessingTimeMs int64
}

// Text is the post-processed transcript.
func (o *Outcome) Text() string {
	return output.Text(o.Document)
}

type preparer interface {
	Prepare(ctx context.Context, path string) (*audio.Prepared, error)
}

type recognizer interface {
	Transcribe(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Pipeline runs validation, parameter resolution, preprocessing and the
// engine for one audio file.
type Pipeline struct {
	validator  *Validator
	preparer   preparer
	recognizer recognizer
	timeout    time.Duration
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout bounds a whole run, preprocessing included.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// NewPipeline builds a pipeline. A nil preparer disables preprocessing.
func NewPipeline(v *Validator, p preparer, r recognizer, opts ...Option) *Pipeline {
	if v == nil {
		v = NewValidator(nil)
	}
	pl := &Pipeline{validator: v, preparer: p, recognizer: r, now: time.Now}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// FromConfig wires the engine adapter and, when enabled, the
// preprocessor described by cfg.
func FromConfig(cfg *config.Config) *Pipeline {
	procs := &runner.Exec{}
	eng := engine.New(cfg.Engine.Command,
		engine.WithRunner(procs),
		engine.WithTimeout(cfg.Engine.Timeout),
		engine.WithPrefixArgs(cfg.Engine.Args...),
	)
	validator := NewValidator(cfg.SupportedAudioExtensions)
	timeout := WithTimeout(cfg.Engine.Timeout)
	if !cfg.Preprocess.Enabled {
		return NewPipeline(validator, nil, eng, timeout)
	}
	return NewPipeline(validator, audio.NewPreprocessor(cfg.Preprocess.FFmpeg, procs), eng, timeout)
}

// Run transcribes the file at path.
func (p *Pipeline) Run(ctx context.Context, path string, opts Options) (*Outcome, error) {
	start := p.now()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if _, err := p.validator.Validate(path); err != nil {
		return nil, err
	}

	res, err := engine.Resolve(opts.Language, opts.Model, opts.Overrides)
	if err != nil {
		return nil, err
	}
	skip := opts.SkipPreprocessing || res.SkipPreprocessing || p.preparer == nil

	audioPath := path
	applied := false
	if !skip {
		prepared, err := p.preparer.Prepare(ctx, path)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := prepared.Cleanup(); err != nil {
				slog.Warn("Failed to remove preprocessing files", "error", err)
			}
		}()
		audioPath = prepared.Path
		applied = prepared.Applied
	}

	result, err := p.recognizer.Transcribe(ctx, engine.Request{
		AudioPath: audioPath,
		Model:     res.Model,
		Params:    res.Params,
	})
	if err != nil {
		return nil, err
	}

	language := opts.Language
	if language == "" {
		language = result.Language
	}
	outcome := &Outcome{
		Document: output.Document{
			Text:          result.Text,
			Language:      language,
			Segments:      result.Segments,
			Duration:      result.Duration,
			Model:         res.Model,
			Preprocessing: applied,
		},
		Confidence:       result.Confidence,
		Diagnostic:       result.Diagnostic,
		ProcessingTimeMs: p.now().Sub(start).Milliseconds(),
	}
	return outcome, nil
}
