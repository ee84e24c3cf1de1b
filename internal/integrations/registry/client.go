// Package registry is the HTTP client for the backend's stream registry: the
// set of video sources the backend knows how to ingest, start and stop.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"media-analyzer-go/config"
	"media-analyzer-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// APIError is a structured error returned by the backend. Status 409 means
// another source is already active; callers surface that message verbatim and
// must not retry.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registry: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("registry: %s (status %d)", e.Message, e.Status)
}

// IsConflict reports whether err is a backend 409 response.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// Client talks to the stream registry API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a registry client for the configured backend.
func NewClient(cfg config.BackendConfig) *Client {
	base := strings.TrimSuffix(cfg.URL, "/") + cfg.APIBase
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type listResponse struct {
	Streams []models.Stream `json:"streams"`
}

type startResponse struct {
	Message        string `json:"message"`
	HLSPlaylistURL string `json:"hls_playlist_url"`
}

type createRequest struct {
	Name           string                `json:"name"`
	SourceType     models.SourceType     `json:"source_type"`
	ProcessingMode models.ProcessingMode `json:"processing_mode"`
}

// List returns all registered stream sources.
func (c *Client) List(ctx context.Context) ([]models.Stream, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/streams/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Streams, nil
}

// Create registers a new stream source. It does not start it.
func (c *Client) Create(ctx context.Context, name string, sourceType models.SourceType, mode models.ProcessingMode) (*models.Stream, error) {
	body := createRequest{Name: name, SourceType: sourceType, ProcessingMode: mode}
	var stream models.Stream
	if err := c.do(ctx, http.MethodPost, "/streams/create/", body, &stream); err != nil {
		return nil, err
	}
	return &stream, nil
}

// StartWebcam asks the backend to allocate (or reuse) the webcam source and
// start it. The returned stream carries the backend-side HLS playlist URL.
func (c *Client) StartWebcam(ctx context.Context) (*models.Stream, error) {
	var stream models.Stream
	if err := c.do(ctx, http.MethodPost, "/streams/webcam/start/", struct{}{}, &stream); err != nil {
		return nil, err
	}
	return &stream, nil
}

// Start starts ingestion for the source identified by streamKey and returns
// the backend-side HLS playlist URL.
func (c *Client) Start(ctx context.Context, streamKey string) (string, error) {
	var resp startResponse
	path := fmt.Sprintf("/streams/%s/start/", url.PathEscape(streamKey))
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.HLSPlaylistURL, nil
}

// Stop stops ingestion for the source identified by streamKey.
func (c *Client) Stop(ctx context.Context, streamKey string) error {
	path := fmt.Sprintf("/streams/%s/stop/", url.PathEscape(streamKey))
	return c.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

// Delete removes a stream source from the registry.
func (c *Client) Delete(ctx context.Context, id int) error {
	path := fmt.Sprintf("/streams/%d/", id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do performs one request against the registry API. A non-2xx response is
// decoded into an APIError, preferring the backend's structured error body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debugf("Registry request: %s %s", method, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode registry response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(data) > 0 {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil {
			if body.Error != "" {
				apiErr.Message = body.Error
			} else {
				apiErr.Message = body.Message
			}
		}
	}

	log.Debugf("Registry error response: %d %s", apiErr.Status, apiErr.Message)
	return apiErr
}
