package audio

import (
	"context"
	"time"
)

// Status represents the current state of the session manager
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRecording Status = "RECORDING"
	StatusStopping  Status = "STOPPING"
)

// SessionInfo contains information about the current recording session
type SessionInfo struct {
	RecordingID string    `json:"recording_id"`
	StartTime   time.Time `json:"start_time"`
	OutputFile  string    `json:"output_file"`
}

// Captured is what a finished capture yields.
type Captured struct {
	Path     string
	Duration float64 // seconds
}

// Capturer starts capturing audio into a file. Device handling is left
// entirely to the implementation.
type Capturer interface {
	Start(ctx context.Context, path string) (Capture, error)
}

// Capture is one running capture.
type Capture interface {
	Stop(ctx context.Context) (Captured, error)
}
