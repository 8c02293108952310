package mcp

import (
	"context"

	"github.com/google/uuid"

	"github.com/squatguru/formguru/internal/models"
	"github.com/squatguru/formguru/internal/storage"
)

// VideoSource abstracts the catalog for MCP tools. Both *storage.DB (local)
// and HTTPClient (remote via REST API) satisfy this interface.
type VideoSource interface {
	ListVideos(ctx context.Context) ([]models.VideoRow, error)
	QueryProcessingLogs(ctx context.Context, videoID uuid.UUID, limit int) ([]storage.ProcessingLog, error)
}

// Compile-time check: *storage.DB satisfies VideoSource.
var _ VideoSource = (*storage.DB)(nil)
