package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
)

// Export is a recording bundled with its transcriptions.
type Export struct {
	Recording      models.Recording       `json:"recording"`
	Transcriptions []models.Transcription `json:"transcriptions"`
	ExportedAt     string                 `json:"exported_at"`
}

// ExportRecording renders rec and trs as json or text. now stamps the
// JSON export.
func ExportRecording(f Format, rec models.Recording, trs []models.Transcription, now time.Time) ([]byte, error) {
	switch f {
	case FormatJSON:
		if trs == nil {
			trs = []models.Transcription{}
		}
		data, err := json.MarshalIndent(Export{
			Recording:      rec,
			Transcriptions: trs,
			ExportedAt:     now.UTC().Format(time.RFC3339),
		}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode export: %w", err)
		}
		return append(data, '\n'), nil
	case FormatText:
		return []byte(exportText(rec, trs)), nil
	default:
		return nil, errs.Validation("unsupported export format %q (expected json or text)", f)
	}
}

func exportText(rec models.Recording, trs []models.Transcription) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Recording: %s ===\n", rec.Filename)
	fmt.Fprintf(&b, "Created: %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if rec.Duration != nil {
		fmt.Fprintf(&b, "Duration: %.1fs\n", *rec.Duration)
	} else {
		b.WriteString("Duration: unknown\n")
	}

	b.WriteString("\n=== Transcriptions ===\n")
	for _, tr := range trs {
		if tr.Status.State != models.TranscriptionCompleted {
			continue
		}
		language := tr.Language
		if language == "" {
			language = "unknown"
		}
		confidence := "-"
		if tr.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *tr.Confidence)
		}
		fmt.Fprintf(&b, "\n--- %s (Confidence: %s) ---\n%s\n", language, confidence, PostProcess(tr.Text, tr.Language))
	}
	return b.String()
}
