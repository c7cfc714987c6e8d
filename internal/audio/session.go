package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
	"github.com/audiolibrelab/jamscribe/internal/store"
)

// SessionManager owns the single process-wide recording session:
// Idle -> Recording -> Stopping -> Idle. Only one start or stop runs at a
// time and neither ever waits for the other.
type SessionManager struct {
	capturer   Capturer
	recordings store.RecordingStore
	dir        string
	clock      func() time.Time
	newID      func() string

	// transition is held for the whole of Start or Stop
	transition sync.Mutex

	mutex   sync.RWMutex
	status  Status
	session *SessionInfo
	capture Capture
	current *models.Recording
}

// NewSessionManager creates an idle manager writing files into dir.
func NewSessionManager(capturer Capturer, recordings store.RecordingStore, dir string) *SessionManager {
	return &SessionManager{
		capturer:   capturer,
		recordings: recordings,
		dir:        dir,
		clock:      time.Now,
		newID:      func() string { return uuid.New().String() },
		status:     StatusIdle,
	}
}

// FileName is the on-disk name of a recording started at t.
func FileName(t time.Time, id string) string {
	return fmt.Sprintf("recording_%s_%s.wav", t.Format("20060102_150405"), id)
}

// Start begins a new recording and returns its id. It fails with
// errs.ErrConflict when a session is active or a transition is running.
func (m *SessionManager) Start(ctx context.Context) (string, error) {
	if !m.transition.TryLock() {
		return "", errs.Conflict("a recording transition is already in progress")
	}
	defer m.transition.Unlock()

	m.mutex.RLock()
	status := m.status
	m.mutex.RUnlock()
	if status != StatusIdle {
		return "", errs.Conflict("already recording (current: %s)", status)
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	now := m.clock().UTC()
	id := m.newID()
	name := FileName(now.Local(), id)
	path := filepath.Join(m.dir, name)

	rec := models.NewRecording(id, name, path, now)
	if err := m.recordings.Save(ctx, rec); err != nil {
		return "", err
	}

	capture, err := m.capturer.Start(ctx, path)
	if err != nil {
		rec.Fail(m.clock().UTC())
		if saveErr := m.recordings.Save(ctx, rec); saveErr != nil {
			slog.Error("Failed to mark recording failed", "recording_id", id, "error", saveErr)
		}
		return "", fmt.Errorf("failed to start capture: %w", err)
	}

	m.mutex.Lock()
	m.status = StatusRecording
	m.capture = capture
	m.current = rec
	m.session = &SessionInfo{RecordingID: id, StartTime: now, OutputFile: path}
	m.mutex.Unlock()

	slog.Info("Recording started", "recording_id", id, "file", path)
	return id, nil
}

// Stop finalizes the active recording and returns the persisted record.
// It fails with errs.ErrNotRecording when no session is active. Whatever
// happens, the manager is Idle again when Stop returns.
func (m *SessionManager) Stop(ctx context.Context) (*models.Recording, error) {
	if !m.transition.TryLock() {
		return nil, fmt.Errorf("%w: a recording transition is already in progress", errs.ErrNotRecording)
	}
	defer m.transition.Unlock()

	m.mutex.Lock()
	if m.status != StatusRecording {
		status := m.status
		m.mutex.Unlock()
		return nil, fmt.Errorf("%w: current: %s", errs.ErrNotRecording, status)
	}
	m.status = StatusStopping
	capture, rec := m.capture, m.current
	m.mutex.Unlock()

	defer m.reset()

	captured, err := capture.Stop(ctx)
	if err == nil {
		var info os.FileInfo
		if info, err = os.Stat(captured.Path); err == nil {
			rec.Complete(info.Size(), captured.Duration, m.clock().UTC())
			err = m.recordings.Save(ctx, rec)
		}
	}
	if err != nil {
		rec.Fail(m.clock().UTC())
		if saveErr := m.recordings.Save(ctx, rec); saveErr != nil {
			slog.Error("Failed to mark recording failed", "recording_id", rec.ID, "error", saveErr)
		}
		slog.Error("Recording failed", "recording_id", rec.ID, "error", err)
		return nil, fmt.Errorf("failed to finalize recording %s: %w", rec.ID, err)
	}

	slog.Info("Recording completed", "recording_id", rec.ID, "size", rec.FileSize, "duration", captured.Duration)
	return rec, nil
}

func (m *SessionManager) reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.status = StatusIdle
	m.capture = nil
	m.current = nil
	m.session = nil
}

// Status returns the current status and a copy of the session info.
func (m *SessionManager) Status() (Status, *SessionInfo) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var sessionCopy *SessionInfo
	if m.session != nil {
		s := *m.session
		sessionCopy = &s
	}
	return m.status, sessionCopy
}

func (m *SessionManager) IsRecording() bool {
	status, _ := m.Status()
	return status == StatusRecording
}
