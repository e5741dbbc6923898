// Package backend is the HTTP client for the transcript/chat service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lotas/vidchat/internal/types"
)

// ErrNetwork marks transport failures and non-2xx responses.
var ErrNetwork = errors.New("network failure")

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 30 * time.Second

type transcriptRequest struct {
	VideoID types.VideoID `json:"video_id"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	VideoID    types.VideoID   `json:"video_id"`
	Question   string          `json:"question"`
	Transcript []types.Segment `json:"transcript"`
	Metadata   types.Metadata  `json:"metadata"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Client talks to the transcript/chat service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for baseURL. A zero timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchTranscript returns the transcript segments for id.
func (c *Client) FetchTranscript(ctx context.Context, id types.VideoID) ([]types.Segment, error) {
	var segments []types.Segment
	if err := c.post(ctx, "/api/transcript", transcriptRequest{VideoID: id}, &segments); err != nil {
		return nil, fmt.Errorf("fetch transcript %s: %w", id, err)
	}
	if segments == nil {
		segments = []types.Segment{}
	}
	return segments, nil
}

// Chat asks a question and returns the answer text.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if req.Transcript == nil {
		req.Transcript = []types.Segment{}
	}
	var resp chatResponse
	if err := c.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", fmt.Errorf("chat %s: %w", req.VideoID, err)
	}
	return resp.Response, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d", ErrNetwork, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrNetwork, err)
	}
	return nil
}
