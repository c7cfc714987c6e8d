package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/runner"
)

type fakeRunner struct {
	calls int
	run   func(ctx context.Context, name string, args ...string) (runner.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (runner.Result, error) {
	f.calls++
	if f.run == nil {
		return runner.Result{}, nil
	}
	return f.run(ctx, name, args...)
}

func foundFFmpeg(file string) (string, error) { return "/usr/bin/" + file, nil }

// tone returns silence, then a sine burst, then silence.
func tone(lead, body, tail int, amp float64) []float64 {
	samples := make([]float64, lead+body+tail)
	for i := 0; i < body; i++ {
		samples[lead+i] = amp * math.Sin(2*math.Pi*440*float64(i)/TargetSampleRate)
	}
	return samples
}

func TestNormalizeScalesToTargetRMS(t *testing.T) {
	in := tone(0, 16000, 0, 0.01)
	out := Normalize(in, TargetRMS)
	assert.InDelta(t, TargetRMS, RMS(out), 1e-6)
	assert.InDelta(t, 0.01/math.Sqrt2, RMS(in), 1e-4)
}

func TestNormalizeClipsAndKeepsSilence(t *testing.T) {
	in := []float64{0.001, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0.001}
	for _, s := range Normalize(in, 0.9) {
		assert.LessOrEqual(t, math.Abs(s), 1.0)
	}

	silent := []float64{0, 0, 0}
	assert.Equal(t, silent, Normalize(silent, TargetRMS))
}

func TestTrimDropsQuietEdges(t *testing.T) {
	in := tone(800, 1600, 400, 0.5)
	in[10] = 0.001   // below -30 dB of 0.5
	in[2790] = 0.001 // same on the tail

	out := Trim(in, TrimThresholdDB)
	assert.Less(t, len(out), len(in))
	assert.Greater(t, len(out), 1000)
	threshold := 0.5 * math.Pow(10, -1.5)
	assert.GreaterOrEqual(t, math.Abs(out[0]), threshold)
	assert.GreaterOrEqual(t, math.Abs(out[len(out)-1]), threshold)

	assert.Equal(t, []float64{0, 0}, Trim([]float64{0, 0}, TrimThresholdDB))
}

func TestPrepareFallsBackWithoutFFmpeg(t *testing.T) {
	fake := &fakeRunner{}
	p := NewPreprocessor("ffmpeg", fake)
	p.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	prepared, err := p.Prepare(context.Background(), "/data/raw.m4a")
	require.NoError(t, err)
	assert.Equal(t, "/data/raw.m4a", prepared.Path)
	assert.False(t, prepared.Applied)
	assert.Zero(t, fake.calls)
	assert.NoError(t, prepared.Cleanup())
}

func TestPrepareNormalizesAndTrims(t *testing.T) {
	var gotArgs []string
	fake := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (runner.Result, error) {
		gotArgs = args
		out := args[len(args)-1]
		return runner.Result{}, writeMono(out, tone(1600, 8000, 1600, 0.02), TargetSampleRate)
	}}
	p := NewPreprocessor("ffmpeg", fake)
	p.lookPath = foundFFmpeg

	prepared, err := p.Prepare(context.Background(), "/data/in put's.wav")
	require.NoError(t, err)
	defer prepared.Cleanup()

	assert.True(t, prepared.Applied)
	assert.Equal(t, "/data/in put's.wav", gotArgs[4])
	assert.Contains(t, gotArgs, "16000")

	samples, err := readMono(prepared.Path)
	require.NoError(t, err)
	assert.Less(t, len(samples), 11200)
	assert.Greater(t, len(samples), 7000)
	// normalized over the whole file, so the trimmed body sits above target
	assert.InDelta(t, TargetRMS*math.Sqrt(11200.0/8000.0), RMS(samples), 0.01)

	dir := filepath.Dir(prepared.Path)
	require.NoError(t, prepared.Cleanup())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestPrepareConversionFailure(t *testing.T) {
	fake := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "Invalid data found when processing input"}, errors.New("exit status 1")
	}}
	p := NewPreprocessor("ffmpeg", fake)
	p.lookPath = foundFFmpeg

	_, err := p.Prepare(context.Background(), "/data/broken.mp3")
	var engineErr *errs.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, 1, engineErr.ExitCode)
	assert.Contains(t, engineErr.Diagnostic, "Invalid data")
}

func TestPrepareReportsCancellationAndTimeout(t *testing.T) {
	killed := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (runner.Result, error) {
		<-ctx.Done()
		return runner.Result{ExitCode: -1}, errors.New("signal: killed")
	}}
	p := NewPreprocessor("ffmpeg", killed)
	p.lookPath = foundFFmpeg

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Prepare(ctx, "/data/meeting.m4a")
	assert.ErrorIs(t, err, errs.ErrCancelled)
	assert.Equal(t, "cancelled", errs.Reason(err))

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Prepare(ctx, "/data/meeting.m4a")
	assert.ErrorIs(t, err, errs.ErrTimeout)
	assert.ErrorIs(t, err, errs.ErrEngine)
}
