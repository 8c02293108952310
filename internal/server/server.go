package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/squatguru/formguru/internal/analysis"
	"github.com/squatguru/formguru/internal/metrics"
	"github.com/squatguru/formguru/internal/models"
	"github.com/squatguru/formguru/internal/pipeline"
	"github.com/squatguru/formguru/internal/storage"
)

// Store is the catalog persistence the handlers need. *storage.DB implements it.
type Store interface {
	Ping(ctx context.Context) error
	InsertVideo(ctx context.Context, v *models.VideoRow) error
	ListVideos(ctx context.Context) ([]models.VideoRow, error)
	GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoRow, error)
	SetVideoStatus(ctx context.Context, id uuid.UUID, status string, processedFile *string) error
	DeleteVideo(ctx context.Context, id uuid.UUID) (*models.VideoRow, error)
	InsertProcessingLog(ctx context.Context, log storage.ProcessingLog) (int64, error)
	UpdateProcessingLog(ctx context.Context, id int64, log storage.ProcessingLog) error
	QueryProcessingLogs(ctx context.Context, videoID uuid.UUID, limit int) ([]storage.ProcessingLog, error)
}

// Processor runs the analysis pipeline on a stored video.
type Processor interface {
	Process(ctx context.Context, videoPath string, opts analysis.Options) (*pipeline.Result, error)
}

// Options holds the server's non-injected settings.
type Options struct {
	APIKey       string
	UploadDir    string
	ProcessedDir string
	// BaseURL prefixes download links. Empty yields relative links.
	BaseURL string
	// Analysis is the default session configuration; requests may override it.
	Analysis       analysis.Options
	MaxUploadBytes int64
	// Metrics, when set, instruments requests and analyses. MetricsHandler
	// is served at /metrics.
	Metrics        *metrics.Manager
	MetricsHandler http.Handler
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store  Store
	proc   Processor
	opts   Options
	whois  WhoIser
	log    *slog.Logger
	router chi.Router
}

// New creates a new Server with all routes configured.
func New(store Store, proc Processor, opts Options, log *slog.Logger) *Server {
	s := &Server{
		store:  store,
		proc:   proc,
		opts:   opts,
		log:    log,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	if s.opts.Metrics != nil {
		s.router.Use(RequestMetrics(s.opts.Metrics))
	}
	s.router.Use(CORS)
	s.router.Use(s.identity)

	s.router.Get("/", s.handleIndex)
	s.router.Get("/healthz", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		s.router.Handle("/metrics", s.opts.MetricsHandler)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/me", s.handleMe)
		r.Get("/videos", s.handleListVideos)
		r.Get("/videos/{id}/logs", s.handleProcessingLogs)
		r.Get("/downloads/{name}", s.handleDownload)
		r.Post("/analyze", s.handleAnalyze)

		// Mutating endpoints (API key required)
		r.Group(func(r chi.Router) {
			r.Use(APIKeyAuth(s.opts.APIKey))
			r.Post("/videos", s.handleUpload)
			r.Delete("/videos/{id}", s.handleDeleteVideo)
			r.Post("/videos/{id}/process", s.handleProcessVideo)
		})
	})
}

// SetMCP mounts an MCP handler at /mcp.
func (s *Server) SetMCP(h http.Handler) {
	s.router.Mount("/mcp", h)
}

// SetTailscale enables tailnet identity lookups for incoming requests.
func (s *Server) SetTailscale(w WhoIser) {
	s.whois = w
}
