package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/squatguru/formguru/internal/models"
	"github.com/squatguru/formguru/internal/storage"
)

// HTTPClient implements VideoSource by calling the FormGuru REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// the catalog lives on the server (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies VideoSource.
var _ VideoSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	return body, nil
}

func (c *HTTPClient) ListVideos(ctx context.Context) ([]models.VideoRow, error) {
	body, err := c.get(ctx, "/api/v1/videos", nil)
	if err != nil {
		return nil, err
	}

	var videos []models.VideoRow
	if err := json.Unmarshal(body, &videos); err != nil {
		return nil, fmt.Errorf("httpclient: decode videos: %w", err)
	}
	return videos, nil
}

func (c *HTTPClient) QueryProcessingLogs(ctx context.Context, videoID uuid.UUID, limit int) ([]storage.ProcessingLog, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/api/v1/videos/"+videoID.String()+"/logs", params)
	if err != nil {
		return nil, err
	}

	var logs []storage.ProcessingLog
	if err := json.Unmarshal(body, &logs); err != nil {
		return nil, fmt.Errorf("httpclient: decode processing logs: %w", err)
	}
	return logs, nil
}
