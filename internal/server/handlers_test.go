package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/squatguru/formguru/internal/analysis"
	"github.com/squatguru/formguru/internal/models"
	"github.com/squatguru/formguru/internal/pipeline"
	"github.com/squatguru/formguru/internal/reps"
	"github.com/squatguru/formguru/internal/storage"
)

const testKey = "test-key"

type fakeStore struct {
	mu      sync.Mutex
	videos  map[uuid.UUID]models.VideoRow
	logs    []storage.ProcessingLog
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{videos: map[uuid.UUID]models.VideoRow{}}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) InsertVideo(_ context.Context, v *models.VideoRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v.UploadedAt = time.Now()
	f.videos[v.ID] = *v
	return nil
}

func (f *fakeStore) ListVideos(context.Context) ([]models.VideoRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.VideoRow
	for _, v := range f.videos {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeStore) GetVideo(_ context.Context, id uuid.UUID) (*models.VideoRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.videos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (f *fakeStore) SetVideoStatus(_ context.Context, id uuid.UUID, status string, processed *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.videos[id]
	if !ok {
		return storage.ErrNotFound
	}
	v.Status = status
	if processed != nil {
		v.ProcessedFile = processed
	}
	f.videos[id] = v
	return nil
}

func (f *fakeStore) DeleteVideo(_ context.Context, id uuid.UUID) (*models.VideoRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.videos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(f.videos, id)
	return &v, nil
}

func (f *fakeStore) InsertProcessingLog(_ context.Context, l storage.ProcessingLog) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = int64(len(f.logs) + 1)
	f.logs = append(f.logs, l)
	return l.ID, nil
}

func (f *fakeStore) UpdateProcessingLog(_ context.Context, id int64, l storage.ProcessingLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = id
	f.logs[id-1] = l
	return nil
}

func (f *fakeStore) QueryProcessingLogs(_ context.Context, videoID uuid.UUID, _ int) ([]storage.ProcessingLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.ProcessingLog
	for _, l := range f.logs {
		if l.VideoID == videoID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeProcessor struct {
	gotPath string
	gotOpts analysis.Options
	res     *pipeline.Result
	err     error
}

func (p *fakeProcessor) Process(_ context.Context, path string, opts analysis.Options) (*pipeline.Result, error) {
	p.gotPath = path
	p.gotOpts = opts
	return p.res, p.err
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakeProcessor) {
	t.Helper()
	store := newFakeStore()
	proc := &fakeProcessor{}
	dir := t.TempDir()
	s := New(store, proc, Options{
		APIKey:       testKey,
		UploadDir:    filepath.Join(dir, "uploads"),
		ProcessedDir: filepath.Join(dir, "processed"),
		BaseURL:      "http://localhost:8080",
		Analysis:     analysis.DefaultOptions(),
	}, slog.New(slog.DiscardHandler))
	return s, store, proc
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", testKey)
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return body
}

// TestUploadStoresUniqueFile verifies an upload is written under a
// collision-free name and cataloged with its size and hash.
func TestUploadStoresUniqueFile(t *testing.T) {
	s, store, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "video", "../My Squat.mp4", []byte("fake video bytes")))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if len(store.videos) != 1 {
		t.Fatalf("catalog has %d videos, want 1", len(store.videos))
	}
	for id, v := range store.videos {
		if v.Filename != id.String()+"-My_Squat.mp4" {
			t.Errorf("stored filename = %q", v.Filename)
		}
		if v.SizeBytes != int64(len("fake video bytes")) || len(v.SHA256) != 64 {
			t.Errorf("size/hash = %d/%q", v.SizeBytes, v.SHA256)
		}
		data, err := os.ReadFile(filepath.Join(s.opts.UploadDir, v.Filename))
		if err != nil || string(data) != "fake video bytes" {
			t.Errorf("stored content = %q, %v", data, err)
		}
	}
}

// TestUploadRejections verifies missing files, empty names and missing keys.
func TestUploadRejections(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "other", "a.mp4", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong field: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "video", "???", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unusable name: status = %d, want 400", rec.Code)
	}

	req := uploadRequest(t, "video", "a.mp4", []byte("x"))
	req.Header.Del("X-API-Key")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}
}

func seedVideo(t *testing.T, s *Server, store *fakeStore) models.VideoRow {
	t.Helper()
	v := models.VideoRow{ID: uuid.New(), OriginalName: "set.mp4", Status: models.VideoStatusUploaded}
	v.Filename = v.ID.String() + "-set.mp4"
	os.MkdirAll(s.opts.UploadDir, 0o755)
	if err := os.WriteFile(filepath.Join(s.opts.UploadDir, v.Filename), []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}
	store.InsertVideo(context.Background(), &v)
	return v
}

// TestProcessVideo verifies the process endpoint runs the pipeline with
// request overrides, records a log and returns the download link.
func TestProcessVideo(t *testing.T) {
	s, store, proc := newTestServer(t)
	v := seedVideo(t, s, store)
	name := strings.TrimSuffix(v.Filename, ".mp4") + "_processed.mp4"
	proc.res = &pipeline.Result{
		Report:        &analysis.Report{Summary: reps.Reduce([]float64{90}, []float64{92}, 5), Frames: 40, FramesWithPose: 38},
		ProcessedFile: name,
		Duration:      1500 * time.Millisecond,
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+v.ID.String()+"/process?down=110&side=right", nil)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["processed_video"] != "http://localhost:8080/api/v1/downloads/"+name {
		t.Errorf("processed_video = %v", body["processed_video"])
	}
	analysisBody := body["analysis"].(map[string]any)
	if analysisBody["reps"].(float64) != 5 || analysisBody["depth"] != "good" || analysisBody["pace"] != "good" {
		t.Errorf("analysis = %v", analysisBody)
	}

	if proc.gotOpts.Reps.DownThreshold != 110 || proc.gotOpts.Reps.Side != "right" {
		t.Errorf("options = %+v", proc.gotOpts.Reps)
	}
	if filepath.Base(proc.gotPath) != v.Filename {
		t.Errorf("processed path = %q", proc.gotPath)
	}
	if got := store.videos[v.ID]; got.Status != models.VideoStatusProcessed || *got.ProcessedFile != name {
		t.Errorf("video after processing = %+v", got)
	}
	if len(store.logs) != 1 || store.logs[0].Status != storage.ProcessingSuccess || store.logs[0].Frames != 40 {
		t.Errorf("logs = %+v", store.logs)
	}
	if store.logs[0].DurationMs == nil || *store.logs[0].DurationMs != 1500 {
		t.Errorf("duration = %v", store.logs[0].DurationMs)
	}
}

// TestProcessVideoFailure verifies a pipeline error marks the video failed,
// logs the error and still returns the partial analysis.
func TestProcessVideoFailure(t *testing.T) {
	s, store, proc := newTestServer(t)
	v := seedVideo(t, s, store)
	proc.res = &pipeline.Result{Report: &analysis.Report{Summary: reps.Reduce(nil, nil, 0), Frames: 3, Partial: true}}
	proc.err = errors.New("detector exited: exit status 1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+v.ID.String()+"/process", nil)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["analysis"]; !ok {
		t.Error("expected partial analysis in error body")
	}
	if store.videos[v.ID].Status != models.VideoStatusFailed {
		t.Errorf("status = %q, want failed", store.videos[v.ID].Status)
	}
	if store.logs[0].Status != storage.ProcessingError || store.logs[0].ErrorMessage == nil {
		t.Errorf("log = %+v", store.logs[0])
	}
}

// TestProcessVideoErrors verifies unknown IDs, malformed IDs and invalid
// threshold overrides.
func TestProcessVideoErrors(t *testing.T) {
	s, store, _ := newTestServer(t)
	v := seedVideo(t, s, store)
	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/videos/" + uuid.NewString() + "/process", http.StatusNotFound},
		{"/api/v1/videos/not-a-uuid/process", http.StatusBadRequest},
		{"/api/v1/videos/" + v.ID.String() + "/process?down=170", http.StatusBadRequest},
		{"/api/v1/videos/" + v.ID.String() + "/process?side=middle", http.StatusBadRequest},
		{"/api/v1/videos/" + v.ID.String() + "/process?down=NaN", http.StatusBadRequest},
		{"/api/v1/videos/" + v.ID.String() + "/process?bottom=Inf", http.StatusBadRequest},
		{"/api/v1/videos/" + v.ID.String() + "/process?bottom=130", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, tt.path, nil)
		req.Header.Set("X-API-Key", testKey)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
	if got := store.videos[v.ID].Status; got != models.VideoStatusUploaded {
		t.Errorf("rejected overrides changed status to %q", got)
	}
}

// TestAnalysisOptions verifies query overrides are applied and that
// non-finite or misordered thresholds are rejected.
func TestAnalysisOptions(t *testing.T) {
	base := analysis.DefaultOptions()
	tests := []struct {
		query   string
		wantErr string
	}{
		{"down=NaN", "invalid down"},
		{"up=Inf", "invalid up"},
		{"bottom=-Inf", "invalid bottom"},
		{"min_visibility=NaN", "invalid min_visibility"},
		{"min_visibility=2", "min_visibility"},
		{"bottom=130", "bottom threshold"},
		{"bottom=0", "bottom threshold"},
		{"down=100&up=90", "threshold"},
	}
	for _, tt := range tests {
		q, err := url.ParseQuery(tt.query)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := analysisOptions(q, base); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: err = %v, want %q", tt.query, err, tt.wantErr)
		}
	}

	q := url.Values{"down": {"110"}, "bottom": {"110"}, "min_visibility": {"0.3"}}
	opts, err := analysisOptions(q, base)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Reps.DownThreshold != 110 || opts.Reps.BottomThreshold != 110 || opts.MinVisibility != 0.3 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Reps.UpThreshold != base.Reps.UpThreshold {
		t.Errorf("up threshold = %v, want base %v", opts.Reps.UpThreshold, base.Reps.UpThreshold)
	}
}

// TestDeleteVideo verifies deletion removes the row and the stored files.
func TestDeleteVideo(t *testing.T) {
	s, store, _ := newTestServer(t)
	v := seedVideo(t, s, store)
	track, _ := pipeline.ArtifactNames(v.Filename)
	os.MkdirAll(s.opts.ProcessedDir, 0o755)
	os.WriteFile(filepath.Join(s.opts.ProcessedDir, track), []byte("{}"), 0o644)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/videos/"+v.ID.String(), nil)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := store.videos[v.ID]; ok {
		t.Error("video still cataloged")
	}
	for _, p := range []string{filepath.Join(s.opts.UploadDir, v.Filename), filepath.Join(s.opts.ProcessedDir, track)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

// TestListVideosIncludesDownloadURL verifies processed videos carry a link.
func TestListVideosIncludesDownloadURL(t *testing.T) {
	s, store, _ := newTestServer(t)
	v := seedVideo(t, s, store)
	name := "out_track.jsonl"
	store.SetVideoStatus(context.Background(), v.ID, models.VideoStatusProcessed, &name)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil))
	var list []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0]["download_url"] != "http://localhost:8080/api/v1/downloads/out_track.jsonl" {
		t.Errorf("list = %v", list)
	}
}

// TestDownload verifies processed artifacts are served as attachments and
// names outside the processed dir are refused.
func TestDownload(t *testing.T) {
	s, _, _ := newTestServer(t)
	os.MkdirAll(s.opts.ProcessedDir, 0o755)
	os.WriteFile(filepath.Join(s.opts.ProcessedDir, "a_processed.mp4"), []byte("mp4"), 0o644)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/downloads/a_processed.mp4", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "mp4" {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
	}

	for _, p := range []string{"/api/v1/downloads/missing.mp4", "/api/v1/downloads/..%2Fsecret"} {
		rec = httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code == http.StatusOK {
			t.Errorf("%s: status = 200, want refusal", p)
		}
	}
}

// TestProcessingLogs verifies logs are listed per video.
func TestProcessingLogs(t *testing.T) {
	s, store, _ := newTestServer(t)
	v := seedVideo(t, s, store)
	store.InsertProcessingLog(context.Background(), storage.ProcessingLog{VideoID: v.ID, Status: storage.ProcessingSuccess})
	store.InsertProcessingLog(context.Background(), storage.ProcessingLog{VideoID: uuid.New(), Status: storage.ProcessingError})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+v.ID.String()+"/logs", nil))
	var logs []storage.ProcessingLog
	if err := json.NewDecoder(rec.Body).Decode(&logs); err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != storage.ProcessingSuccess {
		t.Errorf("logs = %+v", logs)
	}
}

// kneeLine renders one named-landmark frame with both knees at deg.
func kneeLine(i int, deg float64) string {
	rad := deg * math.Pi / 180
	ax, ay := 500+100*math.Sin(rad), 500-100*math.Cos(rad)
	side := func(s string) string {
		return fmt.Sprintf(`"%s_hip":{"x":500,"y":400},"%s_knee":{"x":500,"y":500},"%s_ankle":{"x":%g,"y":%g}`, s, s, s, ax, ay)
	}
	return fmt.Sprintf(`{"frame":%d,"landmarks":{%s,%s}}`, i, side("left"), side("right"))
}

// TestAnalyzeStream verifies the analyze endpoint counts reps in a posted
// landmark stream and returns frame metrics on request.
func TestAnalyzeStream(t *testing.T) {
	s, _, _ := newTestServer(t)
	var lines []string
	for i, d := range []float64{170, 170, 100, 90, 80, 95, 170, 170} {
		lines = append(lines, kneeLine(i, d))
	}
	lines = append(lines, `{"frame":8,"landmarks":null}`)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze?frames=true", strings.NewReader(strings.Join(lines, "\n")))
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		Analysis analysis.Report         `json:"analysis"`
		Frames   []analysis.FrameMetrics `json:"frames"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Analysis.Reps != 1 || resp.Analysis.Depth != reps.DepthShallow || resp.Analysis.Pace != reps.PaceSlow {
		t.Errorf("analysis = %+v", resp.Analysis)
	}
	if resp.Analysis.Frames != 9 || resp.Analysis.MissingSamples != 1 {
		t.Errorf("frames = %d, missing = %d", resp.Analysis.Frames, resp.Analysis.MissingSamples)
	}
	if len(resp.Frames) != 9 || resp.Frames[3].Phase != reps.PhaseBottom {
		t.Errorf("frames = %+v", resp.Frames)
	}
}

// TestAnalyzeBadInput verifies malformed streams and options are rejected.
func TestAnalyzeBadInput(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed stream: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/analyze?joint=neck", strings.NewReader("")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad joint: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/analyze?up=abc", strings.NewReader("")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad number: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/analyze?down=NaN", strings.NewReader("")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("NaN threshold: status = %d, want 400", rec.Code)
	}
}

// TestHealth verifies /healthz reflects database reachability.
func TestHealth(t *testing.T) {
	s, store, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	store.pingErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// TestHandleMeDefault verifies the /api/v1/me endpoint returns the dev user
// identity when no Tailscale client is configured.
func TestHandleMeDefault(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))

	var info UserInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if info.Login != "local" {
		t.Errorf("login = %q, want %q", info.Login, "local")
	}
}

// TestSanitizeFilename verifies client names are reduced to safe base names.
func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"squat.mp4":            "squat.mp4",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\clip.MOV`: "clip.MOV",
		"my set (1).mp4":       "my_set_1.mp4",
		".hidden.mp4":          "hidden.mp4",
		"":                     "",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
