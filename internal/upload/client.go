package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/squatguru/formguru/internal/analysis"
)

// maxAttempts bounds retries of a single request.
const maxAttempts = 3

// UploadedVideo is the server's record of an upload.
type UploadedVideo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// ProcessResult is the server's response to a process request.
type ProcessResult struct {
	Message        string           `json:"message"`
	Analysis       *analysis.Report `json:"analysis"`
	ProcessedVideo string           `json:"processed_video"`
}

// Client sends videos to the FormGuru server over HTTP.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a new HTTP client for the FormGuru server.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			// Processing runs the detector synchronously and can take a while.
			Timeout: 10 * time.Minute,
		},
		backoff: time.Second,
	}
}

// permanentError marks a response that retrying will not fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// retry runs fn up to maxAttempts times with exponential backoff, stopping
// early on a permanent error or context cancellation.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * c.backoff):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var perm permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

// UploadVideo streams the file at path to the server as multipart field "video".
func (c *Client) UploadVideo(ctx context.Context, path string) (*UploadedVideo, error) {
	var out struct {
		Video UploadedVideo `json:"video"`
	}
	err := c.retry(ctx, func() error {
		body, contentType, err := multipartFile(path)
		if err != nil {
			return permanentError{err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v1/videos", body)
		if err != nil {
			body.Close()
			return permanentError{err}
		}
		req.Header.Set("Content-Type", contentType)
		return c.do(req, http.StatusCreated, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
	}
	return &out.Video, nil
}

// ProcessVideo asks the server to analyze an uploaded video. params carries
// optional threshold overrides (down, up, bottom, side, joint).
func (c *Client) ProcessVideo(ctx context.Context, videoID string, params url.Values) (*ProcessResult, error) {
	u := c.serverURL + "/api/v1/videos/" + url.PathEscape(videoID) + "/process"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var out ProcessResult
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			return permanentError{err}
		}
		return c.do(req, http.StatusOK, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("processing %s: %w", videoID, err)
	}
	return &out, nil
}

// do sends req with the API key and decodes a successful response into out.
// 4xx responses are permanent; 5xx and transport errors are retried.
func (c *Client) do(req *http.Request, want int, out any) error {
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != want {
		err := fmt.Errorf("%s %s failed (status %d): %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return permanentError{err}
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return permanentError{fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// multipartFile streams path as a multipart form without buffering it.
func multipartFile(path string) (io.ReadCloser, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		part, err := mw.CreateFormFile("video", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType(), nil
}
