package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to TranscriptionState
		want     bool
	}{
		{TranscriptionPending, TranscriptionProcessing, true},
		{TranscriptionPending, TranscriptionFailed, true},
		{TranscriptionPending, TranscriptionCompleted, false},
		{TranscriptionProcessing, TranscriptionCompleted, true},
		{TranscriptionProcessing, TranscriptionFailed, true},
		{TranscriptionProcessing, TranscriptionPending, false},
		{TranscriptionCompleted, TranscriptionProcessing, false},
		{TranscriptionCompleted, TranscriptionPending, false},
		{TranscriptionFailed, TranscriptionProcessing, false},
		{TranscriptionFailed, TranscriptionCompleted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTranscriptionStatus(t *testing.T) {
	assert.False(t, Pending().IsTerminal())
	assert.True(t, Pending().IsActive())
	assert.True(t, Processing().IsActive())
	assert.True(t, Completed().IsTerminal())

	failed := Failed("timeout after 1s")
	assert.True(t, failed.IsTerminal())
	assert.False(t, failed.IsActive())
	assert.Equal(t, "failed(timeout after 1s)", failed.String())
	assert.Equal(t, "completed", Completed().String())
}

func TestRecordingLifecycle(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := NewRecording("id-1", "a.wav", "/tmp/a.wav", start)
	assert.Equal(t, RecordingStatusRecording, rec.Status)
	assert.Nil(t, rec.Duration)

	rec.Complete(2048, 12.5, start.Add(time.Minute))
	assert.Equal(t, RecordingStatusCompleted, rec.Status)
	assert.Equal(t, int64(2048), rec.FileSize)
	if assert.NotNil(t, rec.Duration) {
		assert.InDelta(t, 12.5, *rec.Duration, 1e-9)
	}
	assert.True(t, rec.UpdatedAt.After(rec.CreatedAt))

	rec.Fail(start.Add(2 * time.Minute))
	assert.Equal(t, RecordingStatusFailed, rec.Status)
}
