// Package output renders recognition results as plain text, JSON or SRT
// subtitles.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
)

// ParseFormat accepts text, json or srt, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatSRT:
		return f, nil
	default:
		return "", errs.Validation("unknown output format %q (expected text, json or srt)", s)
	}
}

// Document is a recognition result ready to render.
type Document struct {
	Text          string           `json:"text"`
	Language      string           `json:"language"`
	Segments      []models.Segment `json:"segments"`
	Duration      float64          `json:"duration"`
	Model         string           `json:"model"`
	Preprocessing bool             `json:"preprocessing"`
}

// Render writes doc to w in format f.
func Render(w io.Writer, f Format, doc Document) error {
	var out string
	switch f {
	case FormatText:
		out = Text(doc) + "\n"
	case FormatJSON:
		data, err := JSON(doc)
		if err != nil {
			return err
		}
		out = string(data) + "\n"
	case FormatSRT:
		out = SRT(doc.Segments)
	default:
		return errs.Validation("unknown output format %q", f)
	}
	_, err := io.WriteString(w, out)
	return err
}

// Text returns the post-processed recognized text.
func Text(doc Document) string {
	return PostProcess(doc.Text, doc.Language)
}

// JSON renders doc with post-processed text. Segments are never null.
func JSON(doc Document) ([]byte, error) {
	doc.Text = Text(doc)
	if doc.Segments == nil {
		doc.Segments = []models.Segment{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return data, nil
}

// SRT renders segments as numbered subtitle cues.
func SRT(segments []models.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, Timestamp(seg.Start), Timestamp(seg.End), strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// Timestamp formats seconds as HH:MM:SS,mmm, truncating sub-millisecond
// precision.
func Timestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	// the epsilon absorbs float error such as 1.001*1000 = 1000.9999
	totalMs := int64(math.Floor(seconds*1000 + 1e-6))
	h := totalMs / 3_600_000
	m := totalMs % 3_600_000 / 60_000
	s := totalMs % 60_000 / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
