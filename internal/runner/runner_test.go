package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if !Available("sh") {
		t.Skip("sh not available")
	}
}

func TestExecCapturesOutputAndExitCode(t *testing.T) {
	requireShell(t)
	r := &Exec{}

	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, "sh", res.Command)

	res, err = r.Run(context.Background(), "sh", "-c", "printf ok")
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)
	assert.Equal(t, "ok", res.Stdout)
}

func TestExecArgumentsAreNotShellExpanded(t *testing.T) {
	requireShell(t)
	res, err := (&Exec{}).Run(context.Background(), "sh", "-c", `printf '%s' "$1"`, "sh", "$(echo pwned); rm -rf /")
	require.NoError(t, err)
	assert.Equal(t, "$(echo pwned); rm -rf /", res.Stdout)
}

func TestExecKillsOnCancel(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := (&Exec{WaitDelay: time.Second}).Run(ctx, "sh", "-c", "sleep 10")
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecMissingBinary(t *testing.T) {
	res, err := (&Exec{}).Run(context.Background(), "jamscribe-definitely-missing-binary")
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, Available("jamscribe-definitely-missing-binary"))
}
