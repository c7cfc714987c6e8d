package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/audiolibrelab/jamscribe/internal/audio"
	"github.com/audiolibrelab/jamscribe/internal/config"
	"github.com/audiolibrelab/jamscribe/internal/engine"
	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
	"github.com/audiolibrelab/jamscribe/internal/play"
	"github.com/audiolibrelab/jamscribe/internal/store"
	"github.com/audiolibrelab/jamscribe/internal/transcribe"
)

const (
	maxIDLength       = 50
	maxLanguageLength = 10
	// InterruptedReason marks transcriptions a previous process never finished.
	InterruptedReason = "interrupted"
)

// Service represents the core JamScribe command surface
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context) (string, error)
	StopRecording(ctx context.Context) (*models.Recording, error)
	GetRecordingStatus() (audio.Status, *audio.SessionInfo)
	IsRecording() bool

	// Recording catalog
	GetRecordings(ctx context.Context) ([]models.Recording, error)
	// GetRecording returns nil without an error when id is unknown.
	GetRecording(ctx context.Context, id string) (*models.Recording, error)
	DeleteRecording(ctx context.Context, id string) (bool, error)
	GetRecordingsCount(ctx context.Context) (int64, error)
	SearchRecordings(ctx context.Context, q store.RecordingQuery) ([]models.Recording, error)
	GetRecordingStats(ctx context.Context) (*store.RecordingStats, error)
	// ExportRecording renders a recording and its transcription as json or text.
	ExportRecording(ctx context.Context, id, format string) ([]byte, error)
	// CleanupOrphanedFiles lists files in the recordings directory that no
	// recording references, deleting them when remove is set.
	CleanupOrphanedFiles(ctx context.Context, remove bool) ([]string, error)

	// Transcription operations
	TranscribeRecording(ctx context.Context, id string, req TranscribeRequest) (*models.Transcription, error)
	CancelTranscription(id string) error
	GetTranscription(ctx context.Context, recordingID string) (*models.Transcription, error)
	GetTranscriptions(ctx context.Context) ([]models.Transcription, error)

	// Playback operations
	Play(ctx context.Context, id string) error

	// Information operations
	Models() []engine.ModelOption
	Languages() []engine.Language
	GetLastError() string

	Close() error
}

// TranscribeRequest carries the optional knobs of a transcription.
type TranscribeRequest struct {
	Language  string         `json:"language"`
	Model     string         `json:"model"`
	Overrides map[string]any `json:"options,omitempty"`
}

type pipelineRunner interface {
	Run(ctx context.Context, path string, opts transcribe.Options) (*transcribe.Outcome, error)
}

type player interface {
	Play(ctx context.Context, audioFile string) error
}

// Deps are the collaborators of a JamScribeService.
type Deps struct {
	Recordings     store.RecordingStore
	Transcriptions store.TranscriptionStore
	Session        *audio.SessionManager
	Pipeline       pipelineRunner
	Player         player
	Model          string
	Language       string
	ModelCache     string
	RecordingsDir  string
	MaxConcurrent  int
	// closer releases the database when the service owns it
	closer func() error
}

// JamScribeService is the main service implementation
type JamScribeService struct {
	recordings     store.RecordingStore
	transcriptions store.TranscriptionStore
	session        *audio.SessionManager
	pipeline       pipelineRunner
	player         player
	model          string
	language       string
	modelCache     string
	recordingsDir  string
	workers        *semaphore.Weighted
	closer         func() error

	// in-flight transcriptions by recording id
	inflightMutex sync.Mutex
	inflight      map[string]context.CancelFunc

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New wires the production service from cfg: SQLite stores, the ffmpeg
// capturer, the preprocessor and the engine adapter. Rows left behind by
// a previous process are repaired before it returns.
func New(ctx context.Context, cfg *config.Config) (Service, error) {
	db, err := store.Open(cfg.Storage.Database)
	if err != nil {
		return nil, err
	}
	recordings := store.NewRecordingStore(db)
	transcriptions := store.NewTranscriptionStore(db)

	capturer := &audio.FFmpegCapturer{
		FFmpeg:     cfg.Capture.FFmpeg,
		Format:     cfg.Capture.Format,
		Device:     cfg.Capture.Device,
		SampleRate: cfg.Capture.SampleRate,
		Channels:   cfg.Capture.Channels,
	}

	s := NewWithDeps(Deps{
		Recordings:     recordings,
		Transcriptions: transcriptions,
		Session:        audio.NewSessionManager(capturer, recordings, cfg.Storage.RecordingsDirectory),
		Pipeline:       transcribe.FromConfig(cfg),
		Player:         play.New(),
		Model:          cfg.Engine.Model,
		Language:       cfg.Engine.Language,
		ModelCache:     cfg.Engine.ModelCache,
		RecordingsDir:  cfg.Storage.RecordingsDirectory,
		MaxConcurrent:  cfg.Engine.MaxConcurrent,
		closer:         func() error { return store.Close(db) },
	})
	if err := s.Recover(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDeps builds a service around existing collaborators.
func NewWithDeps(d Deps) *JamScribeService {
	if d.MaxConcurrent < 1 {
		d.MaxConcurrent = 1
	}
	if d.Model == "" {
		d.Model = "small"
	}
	if d.Language == "" {
		d.Language = "ja"
	}
	return &JamScribeService{
		recordings:     d.Recordings,
		transcriptions: d.Transcriptions,
		session:        d.Session,
		pipeline:       d.Pipeline,
		player:         d.Player,
		model:          d.Model,
		language:       d.Language,
		modelCache:     d.ModelCache,
		recordingsDir:  d.RecordingsDir,
		workers:        semaphore.NewWeighted(int64(d.MaxConcurrent)),
		closer:         d.closer,
		inflight:       make(map[string]context.CancelFunc),
	}
}

// Recover marks recordings and transcriptions no process can still own.
func (s *JamScribeService) Recover(ctx context.Context) error {
	recs, err := s.recordings.Recover(ctx)
	if err != nil {
		return err
	}
	trs, err := s.transcriptions.FailStale(ctx, InterruptedReason)
	if err != nil {
		return err
	}
	if recs > 0 || trs > 0 {
		slog.Warn("Recovered stale rows from a previous run", "recordings", recs, "transcriptions", trs)
	}
	return nil
}

// StartRecording begins a new session (Idle -> Recording)
func (s *JamScribeService) StartRecording(ctx context.Context) (string, error) {
	slog.Debug("Service.StartRecording called")
	id, err := s.session.Start(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return "", err
	}
	s.clearLastError()
	return id, nil
}

// StopRecording stops the current recording session
func (s *JamScribeService) StopRecording(ctx context.Context) (*models.Recording, error) {
	rec, err := s.session.Stop(ctx)
	if err != nil {
		if !errors.Is(err, errs.ErrNotRecording) {
			s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		}
		return nil, err
	}
	s.clearLastError()
	return rec, nil
}

func (s *JamScribeService) GetRecordingStatus() (audio.Status, *audio.SessionInfo) {
	return s.session.Status()
}

func (s *JamScribeService) IsRecording() bool {
	return s.session.IsRecording()
}

func (s *JamScribeService) GetRecordings(ctx context.Context) ([]models.Recording, error) {
	return s.recordings.List(ctx)
}

func (s *JamScribeService) GetRecording(ctx context.Context, id string) (*models.Recording, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	rec, err := s.recordings.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// DeleteRecording removes the record, its transcription and its audio
// file. Deleting an unknown id reports false.
func (s *JamScribeService) DeleteRecording(ctx context.Context, id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	if _, session := s.session.Status(); session != nil && session.RecordingID == id {
		return false, errs.Conflict("recording %s is still being captured", id)
	}

	rec, err := s.recordings.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// a running engine would otherwise keep reading a deleted file
	_ = s.CancelTranscription(id)

	existed, err := s.recordings.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove recording file", "recording_id", id, "file", rec.FilePath, "error", err)
	}
	slog.Info("Recording deleted", "recording_id", id)
	return existed, nil
}

func (s *JamScribeService) GetRecordingsCount(ctx context.Context) (int64, error) {
	return s.recordings.Count(ctx)
}

// TranscribeRecording runs the engine on a stored recording and blocks
// until the transcription is Completed or Failed. A second request for a
// recording whose transcription is still running fails with
// errs.ErrConflict. A finished transcription is replaced.
func (s *JamScribeService) TranscribeRecording(ctx context.Context, id string, req TranscribeRequest) (*models.Transcription, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = s.language
	}
	if len(language) > maxLanguageLength {
		return nil, errs.Validation("language code too long: %q", language)
	}
	model := req.Model
	if model == "" {
		model = s.model
	}

	rec, err := s.recordings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.RecordingStatusRecording {
		return nil, errs.Conflict("recording %s is still being captured", id)
	}

	tr, err := s.transcriptions.Begin(ctx, id, language)
	if err != nil {
		return nil, err
	}
	log := slog.With("recording_id", id, "transcription_id", tr.ID)

	// persistence after this point must survive a cancelled caller
	bg := context.WithoutCancel(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.register(id, cancel)
	defer s.unregister(id)

	prevStatus := rec.Status
	if err := s.recordings.UpdateStatus(bg, id, models.RecordingStatusProcessing); err != nil {
		log.Warn("Failed to mark recording processing", "error", err)
	}
	defer func() {
		if prevStatus == models.RecordingStatusProcessing {
			prevStatus = models.RecordingStatusCompleted
		}
		if err := s.recordings.UpdateStatus(bg, id, prevStatus); err != nil && !errors.Is(err, errs.ErrNotFound) {
			log.Warn("Failed to restore recording status", "error", err)
		}
	}()

	start := time.Now()
	fail := func(cause error) (*models.Transcription, error) {
		ms := time.Since(start).Milliseconds()
		if _, err := s.transcriptions.Fail(bg, tr.ID, errs.Reason(cause), &ms); err != nil {
			log.Error("Failed to record transcription failure", "error", err)
		}
		log.Error("Transcription failed", "error", cause, "elapsed_ms", ms)
		s.setLastError(fmt.Sprintf("Transcription of %s failed: %v", id, cause))
		return nil, cause
	}

	if err := s.workers.Acquire(runCtx, 1); err != nil {
		return fail(fmt.Errorf("%w: %w", errs.ErrCancelled, err))
	}
	defer s.workers.Release(1)

	log.Info("Transcription started", "language", language, "model", model)
	outcome, err := s.pipeline.Run(runCtx, rec.FilePath, transcribe.Options{
		Language:  language,
		Model:     model,
		Overrides: req.Overrides,
	})
	if err != nil {
		return fail(err)
	}

	done, err := s.transcriptions.Complete(bg, tr.ID, store.Completion{
		Text:             outcome.Text(),
		Language:         language,
		Confidence:       outcome.Confidence,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
	if err != nil {
		// the row must not stay Processing or every retry would conflict
		return fail(err)
	}
	log.Info("Transcription completed", "elapsed_ms", *done.ProcessingTimeMs, "chars", len(done.Text))
	return done, nil
}

// CancelTranscription kills the engine working on recording id. The
// transcription ends Failed("cancelled").
func (s *JamScribeService) CancelTranscription(id string) error {
	s.inflightMutex.Lock()
	cancel, ok := s.inflight[id]
	s.inflightMutex.Unlock()
	if !ok {
		return errs.NotFound("no transcription in progress for recording %s", id)
	}
	slog.Info("Cancelling transcription", "recording_id", id)
	cancel()
	return nil
}

func (s *JamScribeService) register(id string, cancel context.CancelFunc) {
	s.inflightMutex.Lock()
	defer s.inflightMutex.Unlock()
	s.inflight[id] = cancel
}

func (s *JamScribeService) unregister(id string) {
	s.inflightMutex.Lock()
	defer s.inflightMutex.Unlock()
	delete(s.inflight, id)
}

func (s *JamScribeService) GetTranscription(ctx context.Context, recordingID string) (*models.Transcription, error) {
	if err := checkID(recordingID); err != nil {
		return nil, err
	}
	return s.transcriptions.GetByRecording(ctx, recordingID)
}

func (s *JamScribeService) GetTranscriptions(ctx context.Context) ([]models.Transcription, error) {
	return s.transcriptions.List(ctx)
}

// Play plays a stored recording with the first available system player
func (s *JamScribeService) Play(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	rec, err := s.recordings.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.player.Play(ctx, rec.FilePath)
}

func (s *JamScribeService) Models() []engine.ModelOption {
	return engine.Catalog(s.modelCache)
}

func (s *JamScribeService) Languages() []engine.Language {
	return engine.Languages
}

func (s *JamScribeService) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// GetLastError returns the last error message (thread-safe)
func (s *JamScribeService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *JamScribeService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
}

func (s *JamScribeService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errs.Validation("recording id is required")
	}
	if len(id) > maxIDLength {
		return errs.Validation("recording id too long (%d > %d)", len(id), maxIDLength)
	}
	return nil
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
