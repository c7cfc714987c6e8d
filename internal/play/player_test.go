package play

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onlyAvailable(names ...string) func(string) (string, error) {
	return func(file string) (string, error) {
		for _, n := range names {
			if n == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestPlayPicksFirstAvailablePlayer(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "rec.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0644))

	var ran *exec.Cmd
	p := New()
	p.lookPath = onlyAvailable("ffplay", "aplay")
	p.run = func(cmd *exec.Cmd) error { ran = cmd; return nil }

	require.NoError(t, p.Play(context.Background(), audio))
	require.NotNil(t, ran)
	assert.Equal(t, []string{"ffplay", "-nodisp", "-autoexit", audio}, ran.Args)
}

func TestPlayErrors(t *testing.T) {
	p := New()
	p.lookPath = onlyAvailable()
	p.run = func(*exec.Cmd) error { return errors.New("unreachable") }

	assert.Error(t, p.Play(context.Background(), filepath.Join(t.TempDir(), "missing.wav")))

	audio := filepath.Join(t.TempDir(), "rec.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("ID3"), 0644))
	assert.ErrorContains(t, p.Play(context.Background(), audio), "no suitable audio player")

	p.lookPath = onlyAvailable("aplay")
	assert.ErrorContains(t, p.Play(context.Background(), audio), "aplay requires WAV")
}
