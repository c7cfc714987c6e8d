package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
	"github.com/audiolibrelab/jamscribe/internal/output"
	"github.com/audiolibrelab/jamscribe/internal/store"
)

func (s *JamScribeService) SearchRecordings(ctx context.Context, q store.RecordingQuery) ([]models.Recording, error) {
	return s.recordings.Search(ctx, q)
}

func (s *JamScribeService) GetRecordingStats(ctx context.Context) (*store.RecordingStats, error) {
	return s.recordings.Stats(ctx)
}

func (s *JamScribeService) ExportRecording(ctx context.Context, id, format string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if f != output.FormatJSON && f != output.FormatText {
		return nil, errs.Validation("unsupported export format %q (expected json or text)", format)
	}

	rec, err := s.recordings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var trs []models.Transcription
	tr, err := s.transcriptions.GetByRecording(ctx, id)
	switch {
	case err == nil:
		trs = append(trs, *tr)
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}
	return output.ExportRecording(f, *rec, trs, time.Now())
}

// CleanupOrphanedFiles compares the regular files directly inside the
// recordings directory with the stored file paths. A missing directory has
// no orphans.
func (s *JamScribeService) CleanupOrphanedFiles(ctx context.Context, remove bool) ([]string, error) {
	if s.recordingsDir == "" {
		return nil, errs.Validation("recordings directory is not configured")
	}
	entries, err := os.ReadDir(s.recordingsDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	recs, err := s.recordings.List(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		known[absPath(rec.FilePath)] = struct{}{}
	}

	orphans := []string{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.recordingsDir, e.Name())
		if _, ok := known[absPath(path)]; ok {
			continue
		}
		orphans = append(orphans, path)
	}
	sort.Strings(orphans)

	if !remove {
		return orphans, nil
	}
	removed := orphans[:0]
	for _, path := range orphans {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove orphaned file", "file", path, "error", err)
			continue
		}
		removed = append(removed, path)
	}
	slog.Info("Removed orphaned files", "count", len(removed), "directory", s.recordingsDir)
	return removed, nil
}

// ParseSearchTime accepts RFC 3339 timestamps or bare YYYY-MM-DD dates in
// local time. An empty string yields nil.
func ParseSearchTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return nil, errs.Validation("invalid date %q (expected RFC 3339 or YYYY-MM-DD)", s)
	}
	return &t, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
