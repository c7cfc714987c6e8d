package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
)

// TranscriptionStore persists transcription records. A recording owns at
// most one transcription row; a new request replaces a terminal row and is
// rejected while the current one is still active.
type TranscriptionStore interface {
	// Begin creates a Pending transcription for recordingID and claims it
	// (Pending -> Processing). It fails with errs.ErrConflict when the
	// recording already has an active transcription.
	Begin(ctx context.Context, recordingID, language string) (*models.Transcription, error)
	// Complete moves a Processing transcription to Completed.
	Complete(ctx context.Context, id string, result Completion) (*models.Transcription, error)
	// Fail moves an active transcription to Failed with reason.
	Fail(ctx context.Context, id, reason string, processingTimeMs *int64) (*models.Transcription, error)

	Get(ctx context.Context, id string) (*models.Transcription, error)
	GetByRecording(ctx context.Context, recordingID string) (*models.Transcription, error)
	// List returns all transcriptions, newest first.
	List(ctx context.Context) ([]models.Transcription, error)
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	// FailStale fails every transcription left active by a previous process.
	FailStale(ctx context.Context, reason string) (int64, error)
}

// Completion is the outcome written on a successful transcription.
type Completion struct {
	Text             string
	Language         string
	Confidence       *float64
	ProcessingTimeMs int64
}

type sqlTranscriptionStore struct {
	db    *gorm.DB
	mu    sync.Mutex
	clock func() time.Time
	newID func() string
}

// NewTranscriptionStore creates a transcription store backed by db.
func NewTranscriptionStore(db *gorm.DB) TranscriptionStore {
	return &sqlTranscriptionStore{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

func (s *sqlTranscriptionStore) Begin(ctx context.Context, recordingID, language string) (*models.Transcription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	t := &models.Transcription{
		ID:          s.newID(),
		RecordingID: recordingID,
		Language:    language,
		Status:      models.Pending(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Transcription
		err := tx.Where("recording_id = ?", recordingID).First(&existing).Error
		switch {
		case err == nil:
			if existing.Status.IsActive() {
				return errs.Conflict("recording %s already has a transcription in progress", recordingID)
			}
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := tx.Create(t).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Transcription{}).
			Where("id = ? AND status = ?", t.ID, models.TranscriptionPending).
			Updates(map[string]interface{}{"status": models.TranscriptionProcessing, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Conflict("transcription %s was claimed concurrently", t.ID)
		}
		t.Status = models.Processing()
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, err
		}
		return nil, translate("begin transcription for "+recordingID, err)
	}
	return t, nil
}

func (s *sqlTranscriptionStore) Complete(ctx context.Context, id string, result Completion) (*models.Transcription, error) {
	updates := map[string]interface{}{
		"text":               result.Text,
		"confidence":         result.Confidence,
		"processing_time_ms": result.ProcessingTimeMs,
	}
	if result.Language != "" {
		updates["language"] = result.Language
	}
	return s.transition(ctx, id, models.Completed(), updates)
}

func (s *sqlTranscriptionStore) Fail(ctx context.Context, id, reason string, processingTimeMs *int64) (*models.Transcription, error) {
	updates := map[string]interface{}{}
	if processingTimeMs != nil {
		updates["processing_time_ms"] = *processingTimeMs
	}
	return s.transition(ctx, id, models.Failed(reason), updates)
}

// transition applies to atomically, only from a state that may reach it.
func (s *sqlTranscriptionStore) transition(ctx context.Context, id string, to models.TranscriptionStatus, extra map[string]interface{}) (*models.Transcription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var from []models.TranscriptionState
	for _, st := range []models.TranscriptionState{
		models.TranscriptionPending,
		models.TranscriptionProcessing,
		models.TranscriptionCompleted,
		models.TranscriptionFailed,
	} {
		if models.ValidTransition(st, to.State) {
			from = append(from, st)
		}
	}

	updates := map[string]interface{}{
		"status":         to.State,
		"failure_reason": to.Reason,
		"updated_at":     s.clock(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	db := s.db.WithContext(ctx)
	res := db.Model(&models.Transcription{}).Where("id = ? AND status IN ?", id, from).Updates(updates)
	if res.Error != nil {
		return nil, translate("update transcription "+id, res.Error)
	}

	var t models.Transcription
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate("transcription "+id, err)
	}
	if res.RowsAffected == 0 {
		return nil, errs.Conflict("transcription %s cannot move from %s to %s", id, t.Status.State, to.State)
	}
	return &t, nil
}

func (s *sqlTranscriptionStore) Get(ctx context.Context, id string) (*models.Transcription, error) {
	var t models.Transcription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate("transcription "+id, err)
	}
	return &t, nil
}

func (s *sqlTranscriptionStore) GetByRecording(ctx context.Context, recordingID string) (*models.Transcription, error) {
	var t models.Transcription
	if err := s.db.WithContext(ctx).Where("recording_id = ?", recordingID).First(&t).Error; err != nil {
		return nil, translate("transcription for recording "+recordingID, err)
	}
	return &t, nil
}

func (s *sqlTranscriptionStore) List(ctx context.Context) ([]models.Transcription, error) {
	var ts []models.Transcription
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&ts).Error; err != nil {
		return nil, translate("list transcriptions", err)
	}
	return ts, nil
}

func (s *sqlTranscriptionStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Transcription{})
	if res.Error != nil {
		return false, translate("delete transcription "+id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *sqlTranscriptionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Transcription{}).Count(&n).Error; err != nil {
		return 0, translate("count transcriptions", err)
	}
	return n, nil
}

func (s *sqlTranscriptionStore) FailStale(ctx context.Context, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Model(&models.Transcription{}).
		Where("status IN ?", []models.TranscriptionState{models.TranscriptionPending, models.TranscriptionProcessing}).
		Updates(map[string]interface{}{
			"status":         models.TranscriptionFailed,
			"failure_reason": reason,
			"updated_at":     s.clock(),
		})
	if res.Error != nil {
		return 0, translate("fail stale transcriptions", res.Error)
	}
	return res.RowsAffected, nil
}
