package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/semret/internal/config"
	"github.com/hyperjump/semret/internal/ingest"
	"github.com/hyperjump/semret/internal/models"
	"github.com/hyperjump/semret/internal/search"
	"github.com/hyperjump/semret/internal/storage"
	"github.com/hyperjump/semret/internal/vector"
)

type searchResponse struct {
	Results []*models.QueryResult `json:"results"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type deleteResponse struct {
	Path   string `json:"path"`
	FileID int64  `json:"file_id"`
	Chunks int    `json:"chunks"`
	Status string `json:"status"`
}

type filesResponse struct {
	Files  []*models.File `json:"files"`
	Total  int64          `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type statusResponse struct {
	*models.Stats
	IndexType         string            `json:"index_type"`
	Dimensions        int               `json:"dimensions"`
	EmbeddingProvider string            `json:"embedding_provider"`
	Disk              storage.Footprint `json:"disk"`
	WatchDirectories  []string          `json:"watch_directories,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	queries, err := search.ParseQueries(req.Query)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.Strings("queries", queries), zap.Int("k", req.K))
	results, err := s.search.SearchHits(r.Context(), queries, req.K)
	if err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "path not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("ingest request", zap.String("path", abs))
	summary, err := s.indexer.IndexPaths(r.Context(), []string{abs})
	if err != nil {
		s.respondFailure(w, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// handleListFiles pages through ingested files ordered by id.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	resp := filesResponse{Offset: offset, Limit: limit}
	err = s.pair.View(func(store storage.Storage, _ vector.VectorIndex) error {
		var err error
		if resp.Files, err = store.ListFiles(r.Context(), offset, limit); err != nil {
			return err
		}
		resp.Total, err = store.CountFiles(r.Context())
		return err
	})
	if err != nil {
		s.respondFailure(w, "list files failed", err)
		return
	}
	if resp.Files == nil {
		resp.Files = []*models.File{}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("delete request", zap.String("path", abs))
	alloc, err := s.indexer.DeleteFile(r.Context(), abs)
	if err != nil {
		s.respondFailure(w, "delete failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, deleteResponse{
		Path:   abs,
		FileID: alloc.FileID,
		Chunks: len(alloc.ChunkIDs),
		Status: "deleted",
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.pair.Reconcile(r.Context())
	if err != nil {
		s.respondFailure(w, "reconcile failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pair.Stats(r.Context())
	if err != nil {
		s.respondFailure(w, "status failed", err)
		return
	}
	resp := statusResponse{
		Stats:             stats,
		Dimensions:        s.pair.Dimensions(),
		EmbeddingProvider: s.config.Embedding.Provider,
	}
	_ = s.pair.View(func(_ storage.Storage, index vector.VectorIndex) error {
		resp.IndexType = index.Type()
		return nil
	})
	fp, err := storage.MeasureFootprint(s.config.Storage.DatabasePath, s.config.Storage.IndexPath)
	if err != nil {
		s.logger.Warn("status: measure disk usage failed", zap.Error(err))
	}
	resp.Disk = fp
	if s.watch != nil {
		resp.WatchDirectories = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.watchConfigMu.Lock()
	defer s.watchConfigMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, search.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrConsistencyFault):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
