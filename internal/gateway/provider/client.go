// Package provider is the HTTP client for the internal extraction service.
// The gateway never fetches media origins itself; the provider does the
// actual extraction on an isolated network segment.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mediagate/gateway/pkg/types"
)

// StatusError is a non-200 answer from the extraction service. The
// orchestrator uses the code to decide whether a retry is worthwhile.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("extraction service returned status %d", e.Code)
}

// Stream is an open media stream from the extraction service. The caller
// owns Body and must close it exactly once.
type Stream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// extractRequest is the wire request for all three extraction endpoints.
type extractRequest struct {
	URL       string `json:"url"`
	VideoID   string `json:"videoId"`
	Quality   string `json:"quality,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Client wraps an HTTP client for the extraction service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an extraction service client. requestTimeout bounds
// metadata calls only; stream bodies outlive it via the stream deadline.
func NewClient(baseURL string, requestTimeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: requestTimeout,
			},
		},
		logger: logger,
	}
}

// FetchMetadata retrieves the metadata document for a validated target.
func (c *Client) FetchMetadata(ctx context.Context, sanitizedURL, videoID, requestID string) (*types.Metadata, error) {
	httpResp, err := c.post(ctx, "/extract/metadata", &extractRequest{
		URL:       sanitizedURL,
		VideoID:   videoID,
		RequestID: requestID,
	})
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		c.drainForReuse(httpResp.Body)
		return nil, &StatusError{Code: httpResp.StatusCode}
	}

	var metadata types.Metadata
	if err := json.NewDecoder(httpResp.Body).Decode(&metadata); err != nil {
		c.logger.Error("Failed to decode metadata response",
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to decode metadata response: %w", err)
	}

	metadata.Clamp()
	return &metadata, nil
}

// OpenAudioStream opens an audio stream for a validated target.
// The response body is returned unread for the stream proxy to copy.
func (c *Client) OpenAudioStream(ctx context.Context, sanitizedURL, videoID string, quality types.Quality, requestID string) (*Stream, error) {
	return c.openStream(ctx, "/extract/audio", sanitizedURL, videoID, quality, requestID)
}

// OpenVideoStream opens a video stream for a validated target.
func (c *Client) OpenVideoStream(ctx context.Context, sanitizedURL, videoID string, quality types.Quality, requestID string) (*Stream, error) {
	return c.openStream(ctx, "/extract/video", sanitizedURL, videoID, quality, requestID)
}

func (c *Client) openStream(ctx context.Context, path, sanitizedURL, videoID string, quality types.Quality, requestID string) (*Stream, error) {
	httpResp, err := c.post(ctx, path, &extractRequest{
		URL:       sanitizedURL,
		VideoID:   videoID,
		Quality:   string(quality),
		RequestID: requestID,
	})
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		c.drainForReuse(httpResp.Body)
		httpResp.Body.Close()
		return nil, &StatusError{Code: httpResp.StatusCode}
	}

	return &Stream{
		Body:          httpResp.Body,
		ContentType:   httpResp.Header.Get("Content-Type"),
		ContentLength: httpResp.ContentLength,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, request *extractRequest) (*http.Response, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		c.logger.Error("Failed to create extraction request",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", request.RequestID)

	c.logger.Debug("Sending extraction request",
		zap.String("endpoint", endpoint),
		zap.String("request_id", request.RequestID),
		zap.String("video_id", request.VideoID))

	startTime := time.Now().UTC()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("HTTP request to extraction service failed",
			zap.String("endpoint", endpoint),
			zap.String("request_id", request.RequestID),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err))
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	return httpResp, nil
}

// drainForReuse reads at most 4KiB of an error body so the connection can
// return to the pool.
func (c *Client) drainForReuse(body io.Reader) {
	io.Copy(io.Discard, io.LimitReader(body, 4096))
}
