package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/jamscribe/internal/audio"
	"github.com/audiolibrelab/jamscribe/internal/engine"
	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
	"github.com/audiolibrelab/jamscribe/internal/output"
	"github.com/audiolibrelab/jamscribe/internal/service"
	"github.com/audiolibrelab/jamscribe/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubService serves canned recordings and records transcribe requests.
type stubService struct {
	recordings   map[string]*models.Recording
	transcribeFn func(id string, req service.TranscribeRequest) (*models.Transcription, error)
	lastRequest  service.TranscribeRequest
	startErr     error
	stopErr      error
	cancelled    []string
	lastQuery    store.RecordingQuery
	orphans      []string
	orphansGone  bool
}

func (s *stubService) StartRecording(ctx context.Context) (string, error) {
	return "rec-new", s.startErr
}

func (s *stubService) StopRecording(ctx context.Context) (*models.Recording, error) {
	if s.stopErr != nil {
		return nil, s.stopErr
	}
	return models.NewRecording("rec-new", "a.wav", "/tmp/a.wav", time.Now()), nil
}

func (s *stubService) GetRecordingStatus() (audio.Status, *audio.SessionInfo) {
	return audio.StatusIdle, nil
}

func (s *stubService) IsRecording() bool { return false }

func (s *stubService) GetRecordings(ctx context.Context) ([]models.Recording, error) {
	var out []models.Recording
	for _, r := range s.recordings {
		out = append(out, *r)
	}
	return out, nil
}

func (s *stubService) GetRecording(ctx context.Context, id string) (*models.Recording, error) {
	if len(id) > 50 {
		return nil, errs.Validation("recording id too long")
	}
	return s.recordings[id], nil
}

func (s *stubService) DeleteRecording(ctx context.Context, id string) (bool, error) {
	_, ok := s.recordings[id]
	delete(s.recordings, id)
	return ok, nil
}

func (s *stubService) GetRecordingsCount(ctx context.Context) (int64, error) {
	return int64(len(s.recordings)), nil
}

func (s *stubService) SearchRecordings(ctx context.Context, q store.RecordingQuery) ([]models.Recording, error) {
	s.lastQuery = q
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var out []models.Recording
	for _, r := range s.recordings {
		if strings.Contains(r.Filename, q.Text) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubService) GetRecordingStats(ctx context.Context) (*store.RecordingStats, error) {
	return &store.RecordingStats{
		TotalRecordings: int64(len(s.recordings)),
		ByStatus:        map[models.RecordingStatus]int64{models.RecordingStatusCompleted: int64(len(s.recordings))},
	}, nil
}

func (s *stubService) ExportRecording(ctx context.Context, id, format string) ([]byte, error) {
	rec, ok := s.recordings[id]
	if !ok {
		return nil, errs.NotFound("recording %s", id)
	}
	return output.ExportRecording(output.Format(format), *rec, nil, time.Now())
}

func (s *stubService) CleanupOrphanedFiles(ctx context.Context, remove bool) ([]string, error) {
	files := s.orphans
	if remove {
		s.orphans = nil
		s.orphansGone = true
	}
	return files, nil
}

func (s *stubService) TranscribeRecording(ctx context.Context, id string, req service.TranscribeRequest) (*models.Transcription, error) {
	s.lastRequest = req
	return s.transcribeFn(id, req)
}

func (s *stubService) CancelTranscription(id string) error {
	if _, ok := s.recordings[id]; !ok {
		return errs.NotFound("no transcription in progress for recording %s", id)
	}
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *stubService) GetTranscription(ctx context.Context, recordingID string) (*models.Transcription, error) {
	return nil, errs.NotFound("transcription for recording %s", recordingID)
}

func (s *stubService) GetTranscriptions(ctx context.Context) ([]models.Transcription, error) {
	return nil, nil
}

func (s *stubService) Play(ctx context.Context, id string) error { return nil }
func (s *stubService) Models() []engine.ModelOption              { return engine.Catalog("") }
func (s *stubService) Languages() []engine.Language              { return engine.Languages }
func (s *stubService) GetLastError() string                      { return "" }
func (s *stubService) Close() error                              { return nil }

func newStub(t *testing.T) *stubService {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec-1.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFdata"), 0644))
	rec := models.NewRecording("rec-1", "rec-1.wav", path, time.Now())
	rec.Complete(8, 1.5, time.Now())
	return &stubService{
		recordings: map[string]*models.Recording{"rec-1": rec},
		transcribeFn: func(id string, req service.TranscribeRequest) (*models.Transcription, error) {
			return &models.Transcription{
				ID:          "tr-1",
				RecordingID: id,
				Language:    "ja",
				Text:        "こんにちは",
				Status:      models.Completed(),
			}, nil
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestStatusAndCatalog(t *testing.T) {
	h := New(newStub(t), 0).Handler()

	w, body := do(t, h, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "IDLE", body["status"])
	assert.Equal(t, false, body["is_recording"])

	w, body = do(t, h, http.MethodGet, "/api/models", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["models"], len(engine.ModelNames()))

	w, body = do(t, h, http.MethodGet, "/api/languages", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["languages"], len(engine.Languages))
}

func TestRecordingRoutes(t *testing.T) {
	stub := newStub(t)
	h := New(stub, 0).Handler()

	w, body := do(t, h, http.MethodGet, "/api/recordings", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total_count"])

	w, body = do(t, h, http.MethodGet, "/api/recordings/count", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = do(t, h, http.MethodGet, "/api/recordings/rec-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	rec := body["recording"].(map[string]any)
	assert.Equal(t, "rec-1", rec["id"])
	assert.Equal(t, "/api/recordings/rec-1/audio", rec["stream_url"])

	w, _ = do(t, h, http.MethodGet, "/api/recordings/rec-1/audio", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RIFFdata", w.Body.String())

	w, body = do(t, h, http.MethodGet, "/api/recordings/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])

	w, body = do(t, h, http.MethodDelete, "/api/recordings/rec-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["existed"])

	// deleting again, or an id that never existed, is not an error
	for _, id := range []string{"rec-1", "never-existed"} {
		w, body = do(t, h, http.MethodDelete, "/api/recordings/"+id, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, false, body["existed"])
	}
}

func TestStartStop(t *testing.T) {
	stub := newStub(t)
	h := New(stub, 0).Handler()

	w, body := do(t, h, http.MethodPost, "/api/recordings/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rec-new", body["recording_id"])

	stub.startErr = errs.Conflict("already recording")
	w, body = do(t, h, http.MethodPost, "/api/recordings/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["error"], "already recording")

	w, _ = do(t, h, http.MethodPost, "/api/recordings/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)

	stub.stopErr = errs.ErrNotRecording
	w, _ = do(t, h, http.MethodPost, "/api/recordings/stop", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTranscribeRoute(t *testing.T) {
	stub := newStub(t)
	h := New(stub, 0).Handler()

	w, body := do(t, h, http.MethodPost, "/api/recordings/rec-1/transcribe", `{"language":"en","model":"base","options":{"beam_size":3}}`)
	require.Equal(t, http.StatusOK, w.Code)
	tr := body["transcription"].(map[string]any)
	assert.Equal(t, "こんにちは", tr["text"])
	assert.Equal(t, "en", stub.lastRequest.Language)
	assert.Equal(t, "base", stub.lastRequest.Model)
	assert.Equal(t, float64(3), stub.lastRequest.Overrides["beam_size"])

	w, _ = do(t, h, http.MethodPost, "/api/recordings/rec-1/transcribe", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, stub.lastRequest.Language)

	w, _ = do(t, h, http.MethodPost, "/api/recordings/rec-1/transcribe", `{"language":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscribeErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", errs.Validation("bad option"), http.StatusBadRequest},
		{"not found", errs.NotFound("recording x"), http.StatusNotFound},
		{"conflict", errs.Conflict("busy"), http.StatusConflict},
		{"engine", &errs.EngineError{Message: "boom", ExitCode: 2, Diagnostic: "trace"}, http.StatusBadGateway},
		{"timeout", &errs.EngineError{Message: "timeout after 1s", ExitCode: -1, Err: errs.ErrTimeout}, http.StatusGatewayTimeout},
		{"cancelled", &errs.EngineError{Message: "cancelled", ExitCode: -1, Err: errs.ErrCancelled}, http.StatusConflict},
		{"persistence", errs.Persistence("save", fmt.Errorf("disk full")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := newStub(t)
			stub.transcribeFn = func(string, service.TranscribeRequest) (*models.Transcription, error) {
				return nil, tc.err
			}
			w, body := do(t, New(stub, 0).Handler(), http.MethodPost, "/api/recordings/rec-1/transcribe", "")
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestEngineDiagnosticIsReturned(t *testing.T) {
	stub := newStub(t)
	stub.transcribeFn = func(string, service.TranscribeRequest) (*models.Transcription, error) {
		return nil, &errs.EngineError{Message: "boom", ExitCode: 1, Diagnostic: "RuntimeError: CUDA"}
	}
	_, body := do(t, New(stub, 0).Handler(), http.MethodPost, "/api/recordings/rec-1/transcribe", "")
	assert.Equal(t, "RuntimeError: CUDA", body["diagnostic"])
}

func TestCancelAndTranscriptionRoutes(t *testing.T) {
	stub := newStub(t)
	h := New(stub, 0).Handler()

	w, _ := do(t, h, http.MethodPost, "/api/recordings/rec-1/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"rec-1"}, stub.cancelled)

	w, _ = do(t, h, http.MethodPost, "/api/recordings/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, h, http.MethodGet, "/api/recordings/rec-1/transcription", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := do(t, h, http.MethodGet, "/api/transcriptions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, body["transcriptions"])
}

func TestSearchRoute(t *testing.T) {
	stub := newStub(t)
	h := New(stub, 0).Handler()

	w, body := do(t, h, http.MethodGet,
		"/api/recordings/search?q=rec-1&date_from=2025-01-01&min_duration=1.5&sort_by=duration&sort_order=asc&limit=5&offset=2", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["total_count"])

	q := stub.lastQuery
	assert.Equal(t, "rec-1", q.Text)
	require.NotNil(t, q.From)
	assert.Equal(t, 2025, q.From.Year())
	assert.Nil(t, q.To)
	require.NotNil(t, q.MinDuration)
	assert.InDelta(t, 1.5, *q.MinDuration, 1e-9)
	assert.Equal(t, "duration", q.SortBy)
	assert.Equal(t, "asc", q.SortOrder)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 2, q.Offset)

	w, body = do(t, h, http.MethodGet, "/api/recordings/search?q=nothing", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, body["recordings"])

	for _, query := range []string{"limit=many", "date_to=yesterday", "sort_by=bogus", "offset=-1"} {
		w, body = do(t, h, http.MethodGet, "/api/recordings/search?"+query, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, false, body["success"], query)
	}
}

func TestStatsRoute(t *testing.T) {
	h := New(newStub(t), 0).Handler()

	w, body := do(t, h, http.MethodGet, "/api/recordings/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_recordings"])
	assert.Equal(t, map[string]any{"completed": float64(1)}, stats["by_status"])
}

func TestExportRoute(t *testing.T) {
	h := New(newStub(t), 0).Handler()

	w, body := do(t, h, http.MethodGet, "/api/recordings/rec-1/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="rec-1.json"`)
	assert.Equal(t, "rec-1", body["recording"].(map[string]any)["id"])
	assert.Equal(t, []any{}, body["transcriptions"])

	w, _ = do(t, h, http.MethodGet, "/api/recordings/rec-1/export?format=text", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="rec-1.txt"`)
	assert.True(t, strings.HasPrefix(w.Body.String(), "=== Recording: rec-1.wav ==="), w.Body.String())

	w, _ = do(t, h, http.MethodGet, "/api/recordings/rec-1/export?format=srt", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodGet, "/api/recordings/missing/export", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrphanedFileRoutes(t *testing.T) {
	stub := newStub(t)
	stub.orphans = []string{"/recordings/stray.wav"}
	h := New(stub, 0).Handler()

	w, body := do(t, h, http.MethodGet, "/api/recordings/orphans", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"/recordings/stray.wav"}, body["files"])
	assert.Equal(t, false, body["removed"])
	assert.False(t, stub.orphansGone)

	w, body = do(t, h, http.MethodDelete, "/api/recordings/orphans", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, true, body["removed"])
	assert.True(t, stub.orphansGone)

	_, ok := stub.recordings["rec-1"]
	assert.True(t, ok, "DELETE /recordings/orphans must not hit the :id route")
}
