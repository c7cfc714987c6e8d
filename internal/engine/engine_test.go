package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/runner"
)

// fakeRunner simulates the engine process.
type fakeRunner struct {
	calls int
	name  string
	args  []string
	run   func(ctx context.Context, args []string) (runner.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (runner.Result, error) {
	f.calls++
	f.name = name
	f.args = append([]string(nil), args...)
	if f.run == nil {
		return runner.Result{}, nil
	}
	return f.run(ctx, args)
}

func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// writeResult emulates the engine writing <output_dir>/<base>.json.
func writeResult(t *testing.T, args []string, body string) {
	t.Helper()
	audio := args[len(args)-1]
	base := strings.TrimSuffix(filepath.Base(audio), filepath.Ext(audio))
	path := filepath.Join(argValue(args, "--output_dir"), base+".json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func jaRequest(audio string) Request {
	res, _ := Resolve("ja", "small", nil)
	return Request{AudioPath: audio, Model: res.Model, Params: res.Params}
}

func TestTranscribeSuccess(t *testing.T) {
	fake := &fakeRunner{}
	fake.run = func(ctx context.Context, args []string) (runner.Result, error) {
		writeResult(t, args, `{
			"text": " こんにちは 世界 ",
			"language": "ja",
			"segments": [
				{"id": 0, "start": 0.0, "end": 1.5, "text": "こんにちは", "avg_logprob": -0.1, "no_speech_prob": 0.01},
				{"id": 1, "start": 1.5, "end": 3.25, "text": "世界", "avg_logprob": -0.3, "no_speech_prob": 0.02}
			]
		}`)
		return runner.Result{Stderr: "Detected language: Japanese"}, nil
	}

	e := New("whisper", WithRunner(fake))
	res, err := e.Transcribe(context.Background(), jaRequest("/data/rec.wav"))
	require.NoError(t, err)

	assert.Equal(t, "whisper", fake.name)
	assert.Equal(t, "こんにちは 世界", res.Text)
	assert.Equal(t, "ja", res.Language)
	assert.Len(t, res.Segments, 2)
	assert.InDelta(t, 3.25, res.Duration, 1e-9)
	assert.Equal(t, "Detected language: Japanese", res.Diagnostic)
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 0.8187, *res.Confidence, 1e-3)
}

func TestTranscribeEmptyTextIsValid(t *testing.T) {
	fake := &fakeRunner{run: func(ctx context.Context, args []string) (runner.Result, error) {
		writeResult(t, args, `{"text": "", "language": "ja", "segments": []}`)
		return runner.Result{}, nil
	}}

	res, err := New("whisper", WithRunner(fake)).Transcribe(context.Background(), jaRequest("/data/silence.wav"))
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Nil(t, res.Confidence)
}

func TestTranscribeRejectsMalformedResults(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing text", `{"language": "ja", "segments": []}`},
		{"text wrong type", `{"text": 42}`},
		{"segment ends before start", `{"text": "x", "segments": [{"id": 0, "start": 2, "end": 1, "text": "x"}]}`},
		{"negative start", `{"text": "x", "segments": [{"id": 0, "start": -1, "end": 1, "text": "x"}]}`},
		{"not json", `Traceback (most recent call last)`},
		{"empty document", ``},
		{"invalid utf8", "{\"text\": \"\xff\xfe\"}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRunner{run: func(ctx context.Context, args []string) (runner.Result, error) {
				writeResult(t, args, tt.body)
				return runner.Result{Stdout: "partial"}, nil
			}}
			_, err := New("whisper", WithRunner(fake)).Transcribe(context.Background(), jaRequest("/data/a.wav"))
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrEngine)

			var engineErr *errs.EngineError
			require.ErrorAs(t, err, &engineErr)
			assert.Equal(t, "partial", engineErr.Stdout)
		})
	}
}

func TestTranscribeProcessFailureKeepsDiagnostics(t *testing.T) {
	fake := &fakeRunner{run: func(ctx context.Context, args []string) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "RuntimeError: model not found", Stdout: "partial"}, errors.New("exit status 1")
	}}

	_, err := New("whisper", WithRunner(fake)).Transcribe(context.Background(), jaRequest("/data/a.wav"))
	var engineErr *errs.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, 1, engineErr.ExitCode)
	assert.Equal(t, "RuntimeError: model not found", engineErr.Diagnostic)
	assert.Equal(t, "partial", engineErr.Stdout)
	assert.NotErrorIs(t, err, errs.ErrTimeout)
}

func TestTranscribeMissingResultFile(t *testing.T) {
	fake := &fakeRunner{}
	_, err := New("whisper", WithRunner(fake)).Transcribe(context.Background(), jaRequest("/data/a.wav"))
	assert.ErrorIs(t, err, errs.ErrEngine)
}

func TestTranscribeTimeout(t *testing.T) {
	fake := &fakeRunner{run: func(ctx context.Context, args []string) (runner.Result, error) {
		<-ctx.Done()
		return runner.Result{ExitCode: -1}, ctx.Err()
	}}

	e := New("whisper", WithRunner(fake), WithTimeout(20*time.Millisecond))
	_, err := e.Transcribe(context.Background(), jaRequest("/data/a.wav"))
	assert.ErrorIs(t, err, errs.ErrEngine)
	assert.ErrorIs(t, err, errs.ErrTimeout)
	assert.Contains(t, errs.Reason(err), "timeout after")
}

func TestTranscribeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeRunner{run: func(runCtx context.Context, args []string) (runner.Result, error) {
		cancel()
		<-runCtx.Done()
		return runner.Result{ExitCode: -1}, runCtx.Err()
	}}

	_, err := New("whisper", WithRunner(fake)).Transcribe(ctx, jaRequest("/data/a.wav"))
	assert.ErrorIs(t, err, errs.ErrCancelled)
	assert.Equal(t, "cancelled", errs.Reason(err))
}

func TestBuildArgsKeepsHostilePathIntact(t *testing.T) {
	hostile := "/tmp/it's \"quoted\"; rm -rf ~\n--model=large.wav"
	e := New("whisper", WithPrefixArgs("-m", "whisper"))

	args, err := e.BuildArgs(jaRequest(hostile), "/tmp/out")
	require.NoError(t, err)

	assert.Equal(t, []string{"-m", "whisper"}, args[:2])
	assert.Equal(t, "--", args[len(args)-2])
	assert.Equal(t, hostile, args[len(args)-1])
	assert.Equal(t, "small", argValue(args, "--model"))
	assert.Equal(t, "json", argValue(args, "--output_format"))
	assert.Contains(t, args, "--language=ja")
	assert.Contains(t, args, "--suppress_tokens=-1")
	assert.Contains(t, args, "--condition_on_previous_text=True")
}

func TestTranscribeRequiresInput(t *testing.T) {
	fake := &fakeRunner{}
	_, err := New("whisper", WithRunner(fake)).Transcribe(context.Background(), Request{Model: "small"})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Zero(t, fake.calls)
}

func TestCatalog(t *testing.T) {
	cache := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cache, "base.pt"), []byte("weights"), 0644))

	catalog := Catalog(cache)
	require.Len(t, catalog, 5)
	for _, m := range catalog {
		assert.Equal(t, m.Name == "base", m.Downloaded, m.Name)
	}
	assert.Equal(t, []string{"tiny", "base", "small", "medium", "large"}, ModelNames())
}

func TestCatalogFindsVersionedLargeCheckpoint(t *testing.T) {
	cache := t.TempDir()
	path := filepath.Join(cache, "large-v3.pt")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0644))

	for _, m := range Catalog(cache) {
		if m.Name != "large" {
			assert.False(t, m.Downloaded, m.Name)
			continue
		}
		assert.True(t, m.Downloaded)
		assert.Equal(t, path, m.LocalPath)
	}
}
