// Package models holds the persisted records of the recording and
// transcription lifecycle.
package models

import "time"

// RecordingStatus tracks where a captured session is in its lifecycle.
type RecordingStatus string

const (
	RecordingStatusRecording  RecordingStatus = "recording"
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusCompleted  RecordingStatus = "completed"
	RecordingStatusFailed     RecordingStatus = "failed"
)

// Recording is one captured audio session and its metadata.
type Recording struct {
	ID        string          `gorm:"primaryKey;type:text" json:"id" yaml:"id"`
	Filename  string          `gorm:"type:text;not null;index" json:"filename" yaml:"filename"`
	FilePath  string          `gorm:"type:text;not null;uniqueIndex" json:"file_path" yaml:"file_path"`
	FileSize  int64           `json:"file_size" yaml:"file_size"`
	Duration  *float64        `json:"duration,omitempty" yaml:"duration,omitempty"` // seconds
	Status    RecordingStatus `gorm:"type:text;size:20;not null;index" json:"status" yaml:"status"`
	CreatedAt time.Time       `gorm:"index" json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" yaml:"updated_at"`

	Transcriptions []Transcription `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE" json:"-" yaml:"-"`
}

// NewRecording creates a recording in the Recording state.
func NewRecording(id, filename, filePath string, now time.Time) *Recording {
	return &Recording{
		ID:        id,
		Filename:  filename,
		FilePath:  filePath,
		Status:    RecordingStatusRecording,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete records the finalized file size and duration.
func (r *Recording) Complete(size int64, duration float64, now time.Time) {
	r.FileSize = size
	r.Duration = &duration
	r.Status = RecordingStatusCompleted
	r.UpdatedAt = now
}

// Fail marks the recording as failed.
func (r *Recording) Fail(now time.Time) {
	r.Status = RecordingStatusFailed
	r.UpdatedAt = now
}
