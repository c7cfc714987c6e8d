package models

import (
	"fmt"
	"time"
)

// TranscriptionState is the tag of a TranscriptionStatus.
type TranscriptionState string

const (
	TranscriptionPending    TranscriptionState = "pending"
	TranscriptionProcessing TranscriptionState = "processing"
	TranscriptionCompleted  TranscriptionState = "completed"
	TranscriptionFailed     TranscriptionState = "failed"
)

// TranscriptionStatus is Pending | Processing | Completed | Failed{Reason}.
// Reason is only meaningful when State is TranscriptionFailed.
type TranscriptionStatus struct {
	State  TranscriptionState `gorm:"column:status;type:text;size:20;not null;index" json:"state" yaml:"state"`
	Reason string             `gorm:"column:failure_reason;type:text" json:"reason,omitempty" yaml:"reason,omitempty"`
}

func Pending() TranscriptionStatus    { return TranscriptionStatus{State: TranscriptionPending} }
func Processing() TranscriptionStatus { return TranscriptionStatus{State: TranscriptionProcessing} }
func Completed() TranscriptionStatus  { return TranscriptionStatus{State: TranscriptionCompleted} }

// Failed builds the failed status carrying reason.
func Failed(reason string) TranscriptionStatus {
	return TranscriptionStatus{State: TranscriptionFailed, Reason: reason}
}

// IsTerminal reports whether no further transition is allowed.
func (s TranscriptionStatus) IsTerminal() bool {
	return s.State == TranscriptionCompleted || s.State == TranscriptionFailed
}

// IsActive reports whether a transcription is still owned by a worker.
func (s TranscriptionStatus) IsActive() bool {
	return s.State == TranscriptionPending || s.State == TranscriptionProcessing
}

func (s TranscriptionStatus) String() string {
	if s.State == TranscriptionFailed && s.Reason != "" {
		return fmt.Sprintf("%s(%s)", s.State, s.Reason)
	}
	return string(s.State)
}

// ValidTransition enforces Pending -> Processing -> (Completed | Failed).
// A pending record may also fail before it is picked up.
func ValidTransition(from, to TranscriptionState) bool {
	switch from {
	case TranscriptionPending:
		return to == TranscriptionProcessing || to == TranscriptionFailed
	case TranscriptionProcessing:
		return to == TranscriptionCompleted || to == TranscriptionFailed
	default:
		return false
	}
}

// Transcription is the text result derived from a Recording.
type Transcription struct {
	ID               string              `gorm:"primaryKey;type:text" json:"id" yaml:"id"`
	RecordingID      string              `gorm:"type:text;not null;uniqueIndex" json:"recording_id" yaml:"recording_id"`
	Text             string              `gorm:"type:text" json:"text" yaml:"text"`
	Language         string              `gorm:"type:text;size:10;not null" json:"language" yaml:"language"`
	Confidence       *float64            `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	ProcessingTimeMs *int64              `json:"processing_time_ms,omitempty" yaml:"processing_time_ms,omitempty"`
	Status           TranscriptionStatus `gorm:"embedded" json:"status" yaml:"status"`
	CreatedAt        time.Time           `gorm:"index" json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" yaml:"updated_at"`
}

// Segment is a time-bounded span of recognized text.
type Segment struct {
	ID    int     `json:"id" validate:"gte=0"`
	Start float64 `json:"start" validate:"gte=0"`
	End   float64 `json:"end" validate:"gtefield=Start"`
	Text  string  `json:"text"`
}
