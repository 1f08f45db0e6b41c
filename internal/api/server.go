// Package api provides the HTTP boundary. It maps domain error kinds to
// status codes and shapes FileRecord responses; all consistency logic
// lives in the files service.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stowage/stowage/internal/events"
	"github.com/stowage/stowage/internal/files"
	"github.com/stowage/stowage/internal/logging"
	"github.com/stowage/stowage/internal/metrics"
)

// Server is the HTTP server.
type Server struct {
	svc           *files.Service
	broadcaster   *events.Broadcaster
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(svc *files.Service, broadcaster *events.Broadcaster, maxUploadSize int64) *Server {
	return &Server{
		svc:           svc,
		broadcaster:   broadcaster,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the routed handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/files", s.handleUpload)
	mux.HandleFunc("GET /api/files", s.handleList)
	mux.HandleFunc("GET /api/files/{id}", s.handleGet)
	mux.HandleFunc("GET /api/files/{id}/content", s.handleDownload)
	mux.HandleFunc("POST /api/files/{id}/move", s.handleMove)
	mux.HandleFunc("POST /api/files/{id}/restore", s.handleRestore)
	mux.HandleFunc("DELETE /api/files/{id}", s.handleDelete)
	mux.HandleFunc("DELETE /api/files/{id}/purge", s.handlePurge)

	mux.HandleFunc("GET /api/folders", s.handleListFolders)
	mux.HandleFunc("GET /api/folders/stats", s.handleFolderStats)
	mux.HandleFunc("DELETE /api/folders", s.handleDeleteFolder)

	mux.HandleFunc("GET /api/events", s.handleEvents)

	return logging.Middleware(metrics.Middleware(mux))
}

// fileResponse is the wire shape of a FileRecord.
type fileResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Type       string    `json:"content_type"`
	Size       int64     `json:"size_bytes"`
	FolderPath string    `json:"folder_path,omitempty"`
	URL        string    `json:"url,omitempty"`
	SecureURL  string    `json:"secure_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toResponse(rec *files.FileRecord) fileResponse {
	return fileResponse{
		ID:         rec.ID,
		Filename:   rec.Filename,
		Type:       rec.ContentType,
		Size:       rec.SizeBytes,
		FolderPath: rec.FolderPath,
		URL:        rec.RemoteURL,
		SecureURL:  rec.RemoteSecureURL,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "could not read upload body")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	rec, err := s.svc.Upload(r.Context(), files.UploadRequest{
		OwnerID:         r.FormValue("owner_id"),
		FolderPath:      r.FormValue("folder"),
		Filename:        header.Filename,
		DesiredFilename: r.FormValue("filename"),
		ContentType:     contentType,
		Data:            data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(rec))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.List(r.Context(), r.URL.Query().Get("owner_id"), r.URL.Query().Get("folder"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]fileResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Get(r.Context(), r.URL.Query().Get("owner_id"), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	body, rec, err := s.svc.Download(r.Context(), r.URL.Query().Get("owner_id"), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Filename))
	if _, err := io.Copy(w, body); err != nil {
		logging.WithContext(r.Context()).Warn("download interrupted",
			zap.String("file_id", rec.ID),
			zap.Error(err))
	}
}

type moveRequest struct {
	OwnerID   string `json:"owner_id"`
	NewFolder string `json:"new_folder"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.svc.Move(r.Context(), req.OwnerID, r.PathValue("id"), req.NewFolder)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Restore(r.Context(), r.URL.Query().Get("owner_id"), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.URL.Query().Get("owner_id"), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Purge(r.Context(), r.URL.Query().Get("owner_id"), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	paths, err := s.svc.ListFolders(r.Context(), r.URL.Query().Get("owner_id"), r.URL.Query().Get("parent"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": paths})
}

func (s *Server) handleFolderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetFolderStats(r.Context(), r.URL.Query().Get("owner_id"), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteFolder(r.Context(), r.URL.Query().Get("owner_id"), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams file change events over SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-ch:
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain error kinds to transport status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= 500 {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeErrorMessage(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case files.IsValidation(err):
		return http.StatusBadRequest
	case files.IsNotFound(err):
		return http.StatusNotFound
	case files.IsStorage(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
