// Package api is the HTTP edge: a thin translation from routes to
// coordinator calls and index reads, mounted under /api/v1 alongside the
// static file surfaces.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"project-vinyl/internal/config"
	"project-vinyl/internal/media"
	"project-vinyl/internal/metadata"
	"project-vinyl/internal/worker"
)

type Server struct {
	coordinator *worker.Coordinator
	meta        *metadata.Client
	cfg         *config.Config
	log         *slog.Logger
	router      *chi.Mux
}

func NewServer(coordinator *worker.Coordinator, meta *metadata.Client, cfg *config.Config, log *slog.Logger) *Server {
	s := &Server{
		coordinator: coordinator,
		meta:        meta,
		cfg:         cfg,
		log:         log,
		router:      chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/request_transcode/{id}/{fmt}", s.handleRequestTranscode)
		r.Get("/delete_download/{id}", s.handleDeleteDownload)
		r.Get("/delete_transcode/{id}/{fmt}", s.handleDeleteTranscode)
		r.Get("/get_downloads", s.handleGetDownloads)
		r.Get("/get_transcodes", s.handleGetTranscodes)
		r.Get("/get_download/{id}", s.handleGetDownload)
		r.Get("/get_transcode/{id}/{fmt}", s.handleGetTranscode)
		r.Get("/get_download_state/{id}", s.handleGetDownloadState)
		r.Get("/get_transcode_state/{id}/{fmt}", s.handleGetTranscodeState)
		r.Get("/get_download_link/{id}/{fmt}", s.handleGetDownloadLink)
		r.Get("/get_metadata/{id}", s.handleGetMetadata)
	})

	// Raw data directory listing plus the bundled web frontend.
	s.router.Handle("/data/*", http.StripPrefix("/data/",
		http.FileServer(http.Dir(s.cfg.DataDir))))
	s.router.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// apiError is the envelope every failed request carries.
type apiError struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Error: msg, StatusCode: status})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseID(r *http.Request) (media.ID, bool) {
	id, err := media.ParseID(chi.URLParam(r, "id"))
	return id, err == nil
}

func parseFormat(r *http.Request) (media.Format, bool) {
	f, err := media.ParseFormat(chi.URLParam(r, "fmt"))
	return f, err == nil
}

type requestTranscodeResponse struct {
	DownloadStatus  media.WorkerStatus `json:"download_status"`
	TranscodeStatus media.WorkerStatus `json:"transcode_status"`
	IsSkipTranscode bool               `json:"is_skip_transcode"`
}

func (s *Server) handleRequestTranscode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	format, ok := parseFormat(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid audio format")
		return
	}

	downloadStatus, err := s.coordinator.TryStartDownload(id)
	if err != nil {
		s.log.Error("failed to start download", "video_id", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start download")
		return
	}

	resp := requestTranscodeResponse{
		DownloadStatus:  downloadStatus,
		TranscodeStatus: media.StatusNone,
		IsSkipTranscode: format.IsDownloadFormat(),
	}
	if !resp.IsSkipTranscode {
		transcodeStatus, err := s.coordinator.TryStartTranscode(worker.TranscodeKey{ID: id, Format: format})
		if err != nil {
			s.log.Error("failed to start transcode",
				"video_id", id.String(), "audio_ext", format.String(), "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start transcode")
			return
		}
		resp.TranscodeStatus = transcodeStatus
	}
	writeJSON(w, resp)
}

type deleteBusyResponse struct {
	Type string `json:"type"`
}

type deleteSuccessResponse struct {
	Type  string               `json:"type"`
	Paths []worker.RemovedPath `json:"paths"`
}

func writeDeleteOutcome(w http.ResponseWriter, outcome worker.DeleteOutcome) {
	if outcome.Busy {
		writeJSON(w, deleteBusyResponse{Type: "busy"})
		return
	}
	if outcome.Paths == nil {
		outcome.Paths = []worker.RemovedPath{}
	}
	writeJSON(w, deleteSuccessResponse{Type: "success", Paths: outcome.Paths})
}

func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	outcome, err := s.coordinator.DeleteDownload(id)
	if err != nil {
		s.log.Error("failed to delete download", "video_id", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete download")
		return
	}
	writeDeleteOutcome(w, outcome)
}

func (s *Server) handleDeleteTranscode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	format, ok := parseFormat(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid audio format")
		return
	}
	outcome, err := s.coordinator.DeleteTranscode(worker.TranscodeKey{ID: id, Format: format})
	if err != nil {
		s.log.Error("failed to delete transcode",
			"video_id", id.String(), "audio_ext", format.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete transcode")
		return
	}
	writeDeleteOutcome(w, outcome)
}

func (s *Server) handleGetDownloads(w http.ResponseWriter, r *http.Request) {
	rows, err := s.coordinator.Downloads()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read download index")
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleGetTranscodes(w http.ResponseWriter, r *http.Request) {
	rows, err := s.coordinator.Transcodes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read transcode index")
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	row, err := s.coordinator.Download(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read download index")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	writeJSON(w, row)
}

func (s *Server) handleGetTranscode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	format, ok := parseFormat(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid audio format")
		return
	}
	row, err := s.coordinator.Transcode(worker.TranscodeKey{ID: id, Format: format})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read transcode index")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "transcode not found")
		return
	}
	writeJSON(w, row)
}

func (s *Server) handleGetDownloadState(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	state, ok := s.coordinator.DownloadSnapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "download state not found")
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleGetTranscodeState(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	format, ok := parseFormat(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid audio format")
		return
	}
	state, ok := s.coordinator.TranscodeSnapshot(worker.TranscodeKey{ID: id, Format: format})
	if !ok {
		writeError(w, http.StatusNotFound, "transcode state not found")
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleGetDownloadLink(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	format, ok := parseFormat(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid audio format")
		return
	}
	path, found, err := s.coordinator.ArtifactPath(id, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve artifact")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = filepath.Base(path)
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stat artifact")
		return
	}
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}
	body, err := s.meta.Lookup(r.Context(), id.String())
	if err != nil {
		if errors.Is(err, metadata.ErrNoAPIKey) {
			writeError(w, http.StatusInternalServerError, "metadata lookups are not configured")
			return
		}
		s.log.Error("metadata lookup failed", "video_id", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "metadata lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
