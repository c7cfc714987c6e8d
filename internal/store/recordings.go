package store

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/audiolibrelab/jamscribe/internal/models"
)

// RecordingStore provides CRUD over recording metadata.
type RecordingStore interface {
	// Save inserts or replaces a recording by id.
	Save(ctx context.Context, rec *models.Recording) error
	Get(ctx context.Context, id string) (*models.Recording, error)
	// List returns all recordings, newest first.
	List(ctx context.Context) ([]models.Recording, error)
	// Delete removes a recording and its transcriptions. It reports whether
	// the recording existed.
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	UpdateStatus(ctx context.Context, id string, status models.RecordingStatus) error
	// Recover repairs rows left behind by a previous process: recordings
	// still in the Recording state become failed, recordings still marked
	// Processing return to completed. It returns the number of rows touched.
	Recover(ctx context.Context) (int64, error)
	// Search filters, sorts and pages recordings.
	Search(ctx context.Context, q RecordingQuery) ([]models.Recording, error)
	Stats(ctx context.Context) (*RecordingStats, error)
}

type sqlRecordingStore struct {
	db    *gorm.DB
	mu    sync.Mutex
	clock func() time.Time
}

// NewRecordingStore creates a recording store backed by db.
func NewRecordingStore(db *gorm.DB) RecordingStore {
	return &sqlRecordingStore{db: db, clock: func() time.Time { return time.Now().UTC() }}
}

func (s *sqlRecordingStore) Save(ctx context.Context, rec *models.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	return translate("save recording "+rec.ID, s.db.WithContext(ctx).Save(rec).Error)
}

func (s *sqlRecordingStore) Get(ctx context.Context, id string) (*models.Recording, error) {
	var rec models.Recording
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translate("recording "+id, err)
	}
	return &rec, nil
}

func (s *sqlRecordingStore) List(ctx context.Context) ([]models.Recording, error) {
	var recs []models.Recording
	err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&recs).Error
	if err != nil {
		return nil, translate("list recordings", err)
	}
	return recs, nil
}

func (s *sqlRecordingStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Foreign keys cascade too; the explicit delete keeps databases
		// opened without the pragma consistent.
		if err := tx.Where("recording_id = ?", id).Delete(&models.Transcription{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Recording{})
		if res.Error != nil {
			return res.Error
		}
		existed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, translate("delete recording "+id, err)
	}
	return existed, nil
}

func (s *sqlRecordingStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Recording{}).Count(&n).Error; err != nil {
		return 0, translate("count recordings", err)
	}
	return n, nil
}

func (s *sqlRecordingStore) UpdateStatus(ctx context.Context, id string, status models.RecordingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Model(&models.Recording{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": s.clock()})
	if res.Error != nil {
		return translate("update recording "+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return translate("recording "+id, gorm.ErrRecordNotFound)
	}
	return nil
}

func (s *sqlRecordingStore) Recover(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock()
		res := tx.Model(&models.Recording{}).
			Where("status = ?", models.RecordingStatusRecording).
			Updates(map[string]interface{}{"status": models.RecordingStatusFailed, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		touched += res.RowsAffected

		res = tx.Model(&models.Recording{}).
			Where("status = ?", models.RecordingStatusProcessing).
			Updates(map[string]interface{}{"status": models.RecordingStatusCompleted, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		touched += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, translate("recover recordings", err)
	}
	return touched, nil
}
