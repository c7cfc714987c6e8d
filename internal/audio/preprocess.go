package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/runner"
)

const (
	TargetSampleRate = 16000
	// TargetRMS is the normalized root-mean-square amplitude.
	TargetRMS = 0.1
	// TrimThresholdDB is how far below peak a sample counts as silence.
	TrimThresholdDB = 30.0
)

// Prepared is the audio handed to the engine.
type Prepared struct {
	Path    string
	Applied bool
	tempDir string
}

// Cleanup removes temporary preprocessing artifacts.
func (p *Prepared) Cleanup() error {
	if p == nil || p.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(p.tempDir); err != nil {
		return err
	}
	p.tempDir = ""
	return nil
}

// Preprocessor resamples audio to 16 kHz mono, normalizes its volume and
// trims leading and trailing silence.
type Preprocessor struct {
	ffmpeg    string
	runner    runner.Runner
	lookPath  func(file string) (string, error)
	mkdirTemp func(dir, pattern string) (string, error)
}

// NewPreprocessor creates a preprocessor using the given ffmpeg binary.
func NewPreprocessor(ffmpeg string, r runner.Runner) *Preprocessor {
	if r == nil {
		r = &runner.Exec{}
	}
	return &Preprocessor{
		ffmpeg:    ffmpeg,
		runner:    r,
		lookPath:  exec.LookPath,
		mkdirTemp: os.MkdirTemp,
	}
}

// Prepare returns the preprocessed copy of input. When ffmpeg is not
// installed it returns input unchanged with Applied=false.
func (p *Preprocessor) Prepare(ctx context.Context, input string) (*Prepared, error) {
	if _, err := p.lookPath(p.ffmpeg); err != nil {
		slog.Debug("Preprocessing unavailable, using raw audio", "ffmpeg", p.ffmpeg, "error", err)
		return &Prepared{Path: input}, nil
	}

	tempDir, err := p.mkdirTemp("", "jamscribe-preprocess-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary workspace: %w", err)
	}
	prepared := &Prepared{tempDir: tempDir}

	converted := filepath.Join(tempDir, "converted-16k-mono.wav")
	args := buildFFmpegArgs(input, converted)
	res, err := p.runner.Run(ctx, p.ffmpeg, args...)
	if err != nil {
		_ = prepared.Cleanup()
		return nil, conversionFailure(ctx, res, err)
	}

	samples, err := readMono(converted)
	if err != nil {
		_ = prepared.Cleanup()
		return nil, fmt.Errorf("failed to read converted audio: %w", err)
	}

	rms := RMS(samples)
	samples = Trim(Normalize(samples, TargetRMS), TrimThresholdDB)

	out := filepath.Join(tempDir, "preprocessed.wav")
	if err := writeMono(out, samples, TargetSampleRate); err != nil {
		_ = prepared.Cleanup()
		return nil, fmt.Errorf("failed to write preprocessed audio: %w", err)
	}

	slog.Debug("Audio preprocessed", "input", input, "rms", rms, "samples", len(samples))
	prepared.Path = out
	prepared.Applied = true
	return prepared, nil
}

// conversionFailure classifies a failed ffmpeg run. A run killed because ctx
// ended reports cancellation or timeout, not an ffmpeg error.
func conversionFailure(ctx context.Context, res runner.Result, runErr error) error {
	engineErr := &errs.EngineError{
		Message:    "ffmpeg audio conversion failed",
		Diagnostic: res.Stderr,
		Stdout:     res.Stdout,
		ExitCode:   res.ExitCode,
		Err:        runErr,
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		engineErr.Message = "timeout during audio preprocessing"
		engineErr.Err = fmt.Errorf("%w: %w", errs.ErrTimeout, context.DeadlineExceeded)
	case errors.Is(ctx.Err(), context.Canceled):
		engineErr.Message = "cancelled"
		engineErr.Err = fmt.Errorf("%w: %w", errs.ErrCancelled, context.Canceled)
	}
	return engineErr
}

// buildFFmpegArgs builds conversion args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(TargetSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Normalize scales samples so their RMS equals target, clipping to [-1, 1].
// Silent input is returned unchanged.
func Normalize(samples []float64, target float64) []float64 {
	rms := RMS(samples)
	if rms == 0 {
		return samples
	}
	gain := target / rms
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = math.Max(-1, math.Min(1, s*gain))
	}
	return out
}

// Trim drops leading and trailing samples quieter than thresholdDB below
// the peak amplitude.
func Trim(samples []float64, thresholdDB float64) []float64 {
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}
	if peak == 0 {
		return samples
	}
	threshold := peak * math.Pow(10, -thresholdDB/20)

	start, end := 0, len(samples)
	for start < end && math.Abs(samples[start]) < threshold {
		start++
	}
	for end > start && math.Abs(samples[end-1]) < threshold {
		end--
	}
	return samples[start:end]
}

func readMono(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid WAV file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}

	scale := math.Pow(2, float64(buf.SourceBitDepth)-1)
	if buf.SourceBitDepth == 0 {
		scale = 32768
	}
	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		channels = buf.Format.NumChannels
	}
	// downmix in case the converter kept more than one channel
	samples := make([]float64, len(buf.Data)/channels)
	for i := range samples {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}
	return samples, nil
}

func writeMono(path string, samples []float64, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = int(math.Round(s * 32767))
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
