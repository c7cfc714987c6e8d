package store

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
)

// DefaultSearchLimit caps a search that names no limit.
const DefaultSearchLimit = 50

// sortColumns maps the accepted sort keys to columns.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"filename":   "filename",
	"duration":   "duration",
	"file_size":  "file_size",
}

// RecordingQuery filters and pages a recording search. Zero values mean
// "no filter"; Limit 0 means DefaultSearchLimit.
type RecordingQuery struct {
	// Text matches the filename or the transcription text, case-insensitively.
	Text        string     `json:"text,omitempty" validate:"max=200"`
	From        *time.Time `json:"date_from,omitempty"`
	To          *time.Time `json:"date_to,omitempty"`
	MinDuration *float64   `json:"min_duration,omitempty" validate:"omitempty,gte=0"`
	MaxDuration *float64   `json:"max_duration,omitempty" validate:"omitempty,gte=0"`
	SortBy      string     `json:"sort_by,omitempty" validate:"omitempty,oneof=created_at updated_at filename duration file_size"`
	SortOrder   string     `json:"sort_order,omitempty" validate:"omitempty,oneof=asc desc"`
	Limit       int        `json:"limit,omitempty" validate:"gte=0,lte=1000"`
	Offset      int        `json:"offset,omitempty" validate:"gte=0"`
}

var validate = validator.New()

// Validate rejects unknown sort keys, negative paging and inverted ranges.
func (q RecordingQuery) Validate() error {
	if err := validate.Struct(q); err != nil {
		return errs.Validation("invalid search: %v", err)
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return errs.Validation("date_from %s is after date_to %s", q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	if q.MinDuration != nil && q.MaxDuration != nil && *q.MinDuration > *q.MaxDuration {
		return errs.Validation("min_duration %.1f exceeds max_duration %.1f", *q.MinDuration, *q.MaxDuration)
	}
	return nil
}

// RecordingStats summarizes the recording catalog.
type RecordingStats struct {
	TotalRecordings         int64                            `json:"total_recordings" yaml:"total_recordings"`
	TotalDuration           float64                          `json:"total_duration" yaml:"total_duration"`
	AverageDuration         float64                          `json:"average_duration" yaml:"average_duration"`
	TotalSize               int64                            `json:"total_size" yaml:"total_size"`
	ByStatus                map[models.RecordingStatus]int64 `json:"by_status" yaml:"by_status"`
	CompletedTranscriptions int64                            `json:"completed_transcriptions" yaml:"completed_transcriptions"`
	Oldest                  *time.Time                       `json:"oldest,omitempty" yaml:"oldest,omitempty"`
	Newest                  *time.Time                       `json:"newest,omitempty" yaml:"newest,omitempty"`
}

func (s *sqlRecordingStore) Search(ctx context.Context, q RecordingQuery) ([]models.Recording, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Model(&models.Recording{})
	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		tx = tx.Where(`(filename LIKE ? ESCAPE '\' OR id IN (SELECT recording_id FROM transcriptions WHERE text LIKE ? ESCAPE '\'))`, pattern, pattern)
	}
	if q.From != nil {
		tx = tx.Where("created_at >= ?", q.From.UTC())
	}
	if q.To != nil {
		tx = tx.Where("created_at <= ?", q.To.UTC())
	}
	if q.MinDuration != nil {
		tx = tx.Where("duration >= ?", *q.MinDuration)
	}
	if q.MaxDuration != nil {
		tx = tx.Where("duration <= ?", *q.MaxDuration)
	}

	column := sortColumns[q.SortBy]
	if column == "" {
		column = "created_at"
	}
	order := "DESC"
	if q.SortOrder == "asc" {
		order = "ASC"
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultSearchLimit
	}

	var recs []models.Recording
	err := tx.Order(column + " " + order).Order("id " + order).
		Limit(limit).Offset(q.Offset).
		Find(&recs).Error
	if err != nil {
		return nil, translate("search recordings", err)
	}
	return recs, nil
}

func (s *sqlRecordingStore) Stats(ctx context.Context) (*RecordingStats, error) {
	db := s.db.WithContext(ctx)

	var totals struct {
		Total    int64
		Duration float64
		Average  float64
		Size     int64
	}
	err := db.Model(&models.Recording{}).
		Select("COUNT(*) AS total, COALESCE(SUM(duration), 0) AS duration, COALESCE(AVG(duration), 0) AS average, COALESCE(SUM(file_size), 0) AS size").
		Scan(&totals).Error
	if err != nil {
		return nil, translate("recording stats", err)
	}

	var groups []struct {
		Status models.RecordingStatus
		N      int64
	}
	err = db.Model(&models.Recording{}).Select("status, COUNT(*) AS n").Group("status").Scan(&groups).Error
	if err != nil {
		return nil, translate("recording stats by status", err)
	}

	stats := &RecordingStats{
		TotalRecordings: totals.Total,
		TotalDuration:   totals.Duration,
		AverageDuration: totals.Average,
		TotalSize:       totals.Size,
		ByStatus:        make(map[models.RecordingStatus]int64, len(groups)),
	}
	for _, g := range groups {
		stats.ByStatus[g.Status] = g.N
	}

	err = db.Model(&models.Transcription{}).
		Where("status = ?", models.TranscriptionCompleted).
		Count(&stats.CompletedTranscriptions).Error
	if err != nil {
		return nil, translate("transcription stats", err)
	}

	if stats.TotalRecordings == 0 {
		return stats, nil
	}
	var edge []models.Recording
	if err := db.Order("created_at ASC").Limit(1).Find(&edge).Error; err != nil {
		return nil, translate("oldest recording", err)
	}
	if len(edge) == 1 {
		stats.Oldest = &edge[0].CreatedAt
	}
	edge = nil
	if err := db.Order("created_at DESC").Limit(1).Find(&edge).Error; err != nil {
		return nil, translate("newest recording", err)
	}
	if len(edge) == 1 {
		stats.Newest = &edge[0].CreatedAt
	}
	return stats, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
