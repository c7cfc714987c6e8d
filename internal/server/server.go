package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/audiolibrelab/jamscribe/internal/audio"
	"github.com/audiolibrelab/jamscribe/internal/errs"
	"github.com/audiolibrelab/jamscribe/internal/models"
	"github.com/audiolibrelab/jamscribe/internal/service"
	"github.com/audiolibrelab/jamscribe/internal/store"
)

// Server exposes the JamScribe command surface over HTTP
type Server struct {
	service service.Service
	port    int
	router  *gin.Engine
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status      string             `json:"status"`
	Message     string             `json:"message,omitempty"`
	IsRecording bool               `json:"is_recording"`
	Session     *audio.SessionInfo `json:"session,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
}

// RecordingInfo is a recording plus the derived fields the UI shows
type RecordingInfo struct {
	models.Recording
	SizeHuman string `json:"size_human"`
	StreamURL string `json:"stream_url"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, port int) *Server {
	s := &Server{service: svc, port: port}
	s.router = s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors.Default())

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/models", s.handleModels)
		api.GET("/languages", s.handleLanguages)
		api.GET("/transcriptions", s.handleTranscriptions)

		api.GET("/recordings", s.handleRecordings)
		api.GET("/recordings/count", s.handleRecordingsCount)
		api.GET("/recordings/search", s.handleSearchRecordings)
		api.GET("/recordings/stats", s.handleRecordingStats)
		api.GET("/recordings/orphans", s.handleOrphanedFiles)
		api.DELETE("/recordings/orphans", s.handleOrphanedFiles)
		api.POST("/recordings/start", s.handleStartRecording)
		api.POST("/recordings/stop", s.handleStopRecording)
		api.GET("/recordings/:id", s.handleRecording)
		api.DELETE("/recordings/:id", s.handleDeleteRecording)
		api.GET("/recordings/:id/audio", s.handleRecordingStream)
		api.GET("/recordings/:id/export", s.handleExportRecording)
		api.POST("/recordings/:id/transcribe", s.handleTranscribe)
		api.POST("/recordings/:id/cancel", s.handleCancelTranscription)
		api.GET("/recordings/:id/transcription", s.handleTranscription)
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting JamScribe API server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%d", getLocalIP(), s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(c *gin.Context) {
	status, session := s.service.GetRecordingStatus()
	c.JSON(http.StatusOK, StatusResponse{
		Status:      string(status),
		Message:     statusMessage(status, session),
		IsRecording: s.service.IsRecording(),
		Session:     session,
		LastError:   s.service.GetLastError(),
	})
}

func statusMessage(status audio.Status, session *audio.SessionInfo) string {
	switch status {
	case audio.StatusRecording:
		if session != nil {
			return fmt.Sprintf("Recording %s for %s", session.RecordingID, time.Since(session.StartTime).Round(time.Second))
		}
		return "Recording"
	case audio.StatusStopping:
		return "Stopping recording"
	default:
		return "Idle"
	}
}

func (s *Server) handleStartRecording(c *gin.Context) {
	id, err := s.service.StartRecording(c.Request.Context())
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "start_recording")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Recording started",
		"recording_id": id,
	})
}

func (s *Server) handleStopRecording(c *gin.Context) {
	rec, err := s.service.StopRecording(c.Request.Context())
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "stop_recording")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Recording stopped",
		"recording": recordingInfo(*rec),
	})
}

func (s *Server) handleRecordings(c *gin.Context) {
	recs, err := s.service.GetRecordings(c.Request.Context())
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "list_recordings")
		return
	}
	infos := make([]RecordingInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, recordingInfo(rec))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"recordings":  infos,
		"total_count": len(infos),
	})
}

func (s *Server) handleRecordingsCount(c *gin.Context) {
	n, err := s.service.GetRecordingsCount(c.Request.Context())
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "count_recordings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": n})
}

// searchParams are the query parameters of a recording search.
type searchParams struct {
	Text        string   `form:"q"`
	From        string   `form:"date_from"`
	To          string   `form:"date_to"`
	MinDuration *float64 `form:"min_duration"`
	MaxDuration *float64 `form:"max_duration"`
	SortBy      string   `form:"sort_by"`
	SortOrder   string   `form:"sort_order"`
	Limit       int      `form:"limit"`
	Offset      int      `form:"offset"`
}

func (p searchParams) query() (store.RecordingQuery, error) {
	from, err := service.ParseSearchTime(p.From)
	if err != nil {
		return store.RecordingQuery{}, err
	}
	to, err := service.ParseSearchTime(p.To)
	if err != nil {
		return store.RecordingQuery{}, err
	}
	return store.RecordingQuery{
		Text:        p.Text,
		From:        from,
		To:          to,
		MinDuration: p.MinDuration,
		MaxDuration: p.MaxDuration,
		SortBy:      p.SortBy,
		SortOrder:   p.SortOrder,
		Limit:       p.Limit,
		Offset:      p.Offset,
	}, nil
}

func (s *Server) handleSearchRecordings(c *gin.Context) {
	var params searchParams
	if err := c.ShouldBindQuery(&params); err != nil {
		s.sendErrorResponse(c, errs.Validation("invalid search parameters: %v", err), "operation", "search_recordings")
		return
	}
	q, err := params.query()
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "search_recordings")
		return
	}
	recs, err := s.service.SearchRecordings(c.Request.Context(), q)
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "search_recordings")
		return
	}
	infos := make([]RecordingInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, recordingInfo(rec))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"recordings":  infos,
		"total_count": len(infos),
	})
}

func (s *Server) handleRecordingStats(c *gin.Context) {
	stats, err := s.service.GetRecordingStats(c.Request.Context())
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "recording_stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

// handleOrphanedFiles lists unreferenced files on GET and removes them on
// DELETE.
func (s *Server) handleOrphanedFiles(c *gin.Context) {
	remove := c.Request.Method == http.MethodDelete
	files, err := s.service.CleanupOrphanedFiles(c.Request.Context(), remove)
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "orphaned_files", "remove", remove)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"files":   files,
		"count":   len(files),
		"removed": remove,
	})
}

// handleExportRecording downloads a recording and its transcription as
// json (default) or text.
func (s *Server) handleExportRecording(c *gin.Context) {
	id := c.Param("id")
	format := c.DefaultQuery("format", "json")
	data, err := s.service.ExportRecording(c.Request.Context(), id, format)
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "export_recording", "recording_id", id, "format", format)
		return
	}
	contentType, ext := "application/json; charset=utf-8", "json"
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		contentType, ext = "text/plain; charset=utf-8", "txt"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, id, ext))
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleRecording(c *gin.Context) {
	rec, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "recording": recordingInfo(*rec)})
}

// handleRecordingStream serves the captured WAV for in-browser playback
func (s *Server) handleRecordingStream(c *gin.Context) {
	rec, ok := s.lookup(c)
	if !ok {
		return
	}
	if _, err := os.Stat(rec.FilePath); err != nil {
		s.sendErrorResponse(c, errs.NotFound("audio file for recording %s", rec.ID), "file", rec.FilePath)
		return
	}
	c.Header("Content-Type", "audio/wav")
	c.File(rec.FilePath)
}

func (s *Server) handleDeleteRecording(c *gin.Context) {
	id := c.Param("id")
	existed, err := s.service.DeleteRecording(c.Request.Context(), id)
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "delete_recording", "recording_id", id)
		return
	}
	message := "Recording deleted"
	if !existed {
		message = "Recording did not exist"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"existed": existed,
	})
}

// handleTranscribe blocks until the transcription finishes. The body is
// optional; an empty body uses the configured language and model.
func (s *Server) handleTranscribe(c *gin.Context) {
	id := c.Param("id")
	var req service.TranscribeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.sendErrorResponse(c, errs.Validation("invalid request body: %v", err), "recording_id", id)
			return
		}
	}

	tr, err := s.service.TranscribeRecording(c.Request.Context(), id, req)
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "transcribe", "recording_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcription": tr})
}

func (s *Server) handleCancelTranscription(c *gin.Context) {
	id := c.Param("id")
	if err := s.service.CancelTranscription(id); err != nil {
		s.sendErrorResponse(c, err, "operation", "cancel_transcription", "recording_id", id)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Transcription cancelled"})
}

func (s *Server) handleTranscription(c *gin.Context) {
	id := c.Param("id")
	tr, err := s.service.GetTranscription(c.Request.Context(), id)
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "get_transcription", "recording_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcription": tr})
}

func (s *Server) handleTranscriptions(c *gin.Context) {
	trs, err := s.service.GetTranscriptions(c.Request.Context())
	if err != nil {
		s.sendErrorResponse(c, err, "operation", "list_transcriptions")
		return
	}
	if trs == nil {
		trs = []models.Transcription{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcriptions": trs})
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "models": s.service.Models()})
}

func (s *Server) handleLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "languages": s.service.Languages()})
}

// lookup resolves :id or writes the error response.
func (s *Server) lookup(c *gin.Context) (*models.Recording, bool) {
	id := c.Param("id")
	rec, err := s.service.GetRecording(c.Request.Context(), id)
	if err != nil {
		s.sendErrorResponse(c, err, "recording_id", id)
		return nil, false
	}
	if rec == nil {
		s.sendErrorResponse(c, errs.NotFound("recording %s", id), "recording_id", id)
		return nil, false
	}
	return rec, true
}

func recordingInfo(rec models.Recording) RecordingInfo {
	return RecordingInfo{
		Recording: rec,
		SizeHuman: service.FormatBytes(rec.FileSize),
		StreamURL: "/api/recordings/" + rec.ID + "/audio",
	}
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrNotRecording), errors.Is(err, errs.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, errs.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrEngine):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendErrorResponse(c *gin.Context, err error, logContext ...any) {
	statusCode := StatusCode(err)
	logFields := []any{"error_message", err.Error(), "status_code", statusCode}
	logFields = append(logFields, logContext...)
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Warn("Sending error response to client", logFields...)
	}

	body := gin.H{
		"success": false,
		"error":   err.Error(),
	}
	var engineErr *errs.EngineError
	if errors.As(err, &engineErr) && engineErr.Diagnostic != "" {
		body["diagnostic"] = engineErr.Diagnostic
	}
	c.AbortWithStatusJSON(statusCode, body)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds())
	}
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
