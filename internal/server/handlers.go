package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/squatguru/formguru/internal/analysis"
	"github.com/squatguru/formguru/internal/models"
	"github.com/squatguru/formguru/internal/pipeline"
	"github.com/squatguru/formguru/internal/storage"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Squat Form Guru!"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

// videoResponse is a catalog row plus its download link, if processed.
type videoResponse struct {
	models.VideoRow
	DownloadURL string `json:"download_url,omitempty"`
}

func (s *Server) toResponse(v models.VideoRow) videoResponse {
	resp := videoResponse{VideoRow: v}
	if v.ProcessedFile != nil {
		resp.DownloadURL = s.downloadURL(*v.ProcessedFile)
	}
	return resp
}

func (s *Server) downloadURL(name string) string {
	return strings.TrimRight(s.opts.BaseURL, "/") + "/api/v1/downloads/" + url.PathEscape(name)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "video exceeds upload limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No video file provided"})
		return
	}
	defer file.Close()

	name := sanitizeFilename(header.Filename)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file selected"})
		return
	}

	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		s.log.Error("creating upload dir", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	id := uuid.New()
	stored := id.String() + "-" + name
	path := filepath.Join(s.opts.UploadDir, stored)
	size, sum, err := saveUpload(path, file)
	if err != nil {
		os.Remove(path)
		s.log.Error("saving upload", "file", stored, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	row := &models.VideoRow{
		ID:           id,
		Filename:     stored,
		OriginalName: header.Filename,
		SizeBytes:    size,
		SHA256:       sum,
		Status:       models.VideoStatusUploaded,
	}
	if err := s.store.InsertVideo(r.Context(), row); err != nil {
		os.Remove(path)
		s.log.Error("cataloging upload", "file", stored, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.opts.Metrics.ObserveUpload(size)
	s.log.Info("video uploaded", "id", id, "file", stored, "bytes", size, "user", userInfoFromContext(r).Login)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Video uploaded successfully",
		"video":   s.toResponse(*row),
	})
}

func saveUpload(path string, src io.Reader) (int64, string, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if err != nil {
		f.Close()
		return 0, "", fmt.Errorf("writing upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, "", fmt.Errorf("closing upload: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// sanitizeFilename reduces a client-supplied name to a safe base name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), "._")
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListVideos(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]videoResponse, 0, len(rows))
	for _, v := range rows {
		out = append(out, s.toResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseVideoID(w, r)
	if !ok {
		return
	}
	v, err := s.store.DeleteVideo(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "video not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	track, rendered := pipeline.ArtifactNames(v.Filename)
	s.removeFile(filepath.Join(s.opts.UploadDir, v.Filename))
	s.removeFile(filepath.Join(s.opts.ProcessedDir, track))
	s.removeFile(filepath.Join(s.opts.ProcessedDir, rendered))

	s.log.Info("video deleted", "id", id, "file", v.Filename)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Video deleted"})
}

func (s *Server) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("removing file", "path", path, "error", err)
	}
}

func (s *Server) handleProcessVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseVideoID(w, r)
	if !ok {
		return
	}
	opts, err := analysisOptions(r.URL.Query(), s.opts.Analysis)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx := r.Context()
	v, err := s.store.GetVideo(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found in uploads folder"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	meta, err := json.Marshal(opts)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid analysis options: %v", err)})
		return
	}

	if err := s.store.SetVideoStatus(ctx, id, models.VideoStatusProcessing, nil); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	raw := json.RawMessage(meta)
	plog := storage.ProcessingLog{VideoID: id, Status: storage.ProcessingRunning, Metadata: &raw}
	logID, err := s.store.InsertProcessingLog(ctx, plog)
	if err != nil {
		s.log.Warn("processing log insert failed", "error", err)
	}

	start := time.Now()
	res, procErr := s.proc.Process(ctx, filepath.Join(s.opts.UploadDir, v.Filename), opts)
	var report *analysis.Report
	if res != nil {
		report = res.Report
	}
	s.opts.Metrics.ObserveAnalysis("video", report, time.Since(start), procErr)

	if res != nil {
		ms := int(res.Duration / time.Millisecond)
		plog.DurationMs = &ms
		if res.Report != nil {
			plog.Frames = res.Report.Frames
			plog.FramesWithPose = res.Report.FramesWithPose
		}
	}
	if procErr != nil {
		msg := procErr.Error()
		plog.Status = storage.ProcessingError
		plog.ErrorMessage = &msg
	} else {
		plog.Status = storage.ProcessingSuccess
	}
	if logID != 0 {
		if err := s.store.UpdateProcessingLog(ctx, logID, plog); err != nil {
			s.log.Warn("processing log update failed", "error", err)
		}
	}

	if procErr != nil {
		s.log.Error("processing failed", "id", id, "error", procErr)
		if err := s.store.SetVideoStatus(ctx, id, models.VideoStatusFailed, nil); err != nil {
			s.log.Warn("marking video failed", "error", err)
		}
		body := map[string]any{"error": procErr.Error()}
		if res != nil && res.Report != nil {
			body["analysis"] = res.Report
		}
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	if err := s.store.SetVideoStatus(ctx, id, models.VideoStatusProcessed, &res.ProcessedFile); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Video processed successfully",
		"analysis":        res.Report,
		"processed_video": s.downloadURL(res.ProcessedFile),
	})
}

func (s *Server) handleProcessingLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseVideoID(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	logs, err := s.store.QueryProcessingLogs(r.Context(), id, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []storage.ProcessingLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file name"})
		return
	}
	path := filepath.Join(s.opts.ProcessedDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func parseVideoID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid video ID"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
