// Package client calls the analyze and generate services over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/logging"
)

// maxErrorBody bounds how much of a non-JSON error body is quoted.
const maxErrorBody = 512

// Client talks to one service base URL, e.g. http://localhost:8080/api/dicom.
type Client struct {
	baseURL string
	http    *http.Client
	flight  singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds each call. Zero leaves calls bounded only by their
// context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// New returns a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// AnalyzeFile uploads the file at path.
func (c *Client) AnalyzeFile(ctx context.Context, path string) (api.AnalysisResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.AnalysisResponse{}, err
	}
	return c.Analyze(ctx, filepath.Base(path), data)
}

// Analyze uploads data as the multipart field "file". Concurrent calls for
// the same name and content share a single request.
func (c *Client) Analyze(ctx context.Context, name string, data []byte) (api.AnalysisResponse, error) {
	if len(data) == 0 {
		return api.AnalysisResponse{}, ErrEmptyUpload
	}

	h := fnv.New64a()
	_, _ = h.Write(data)
	key := fmt.Sprintf("%s:%x", name, h.Sum64())

	v, err, shared := c.flight.Do(key, func() (interface{}, error) {
		return c.analyze(ctx, name, data)
	})
	if shared {
		logging.Debugf("analyze of %q shared an in-flight request", name)
	}
	resp, _ := v.(api.AnalysisResponse)
	return resp, err
}

func (c *Client) analyze(ctx context.Context, name string, data []byte) (api.AnalysisResponse, error) {
	const op = "analyze"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return api.AnalysisResponse{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return api.AnalysisResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return api.AnalysisResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", &body)
	if err != nil {
		return api.AnalysisResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp api.AnalysisResponse
	status, err := c.doJSON(op, req, &resp)
	if err != nil {
		return resp, err
	}
	if resp.AnalysisStatus != api.StatusSuccess {
		return resp, &ServiceError{Op: op, StatusCode: status, Message: orDefault(resp.ErrorMessage, "analysis failed")}
	}
	return resp, nil
}

// Generate submits req.
func (c *Client) Generate(ctx context.Context, req api.GenerationRequest) (api.GenerationResponse, error) {
	const op = "generate"

	body, err := json.Marshal(req)
	if err != nil {
		return api.GenerationResponse{}, fmt.Errorf("encoding generation request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return api.GenerationResponse{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	var resp api.GenerationResponse
	status, err := c.doJSON(op, hreq, &resp)
	if err != nil {
		return resp, err
	}
	if resp.GenerationStatus != api.StatusSuccess {
		return resp, &ServiceError{Op: op, StatusCode: status, Message: orDefault(resp.ErrorMessage, "generation failed")}
	}
	return resp, nil
}

// Health returns the service's status text.
func (c *Client) Health(ctx context.Context) (string, error) {
	const op = "health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: httpMessage(resp.StatusCode, body)}
	}
	return string(body), nil
}

// doJSON sends req and decodes the JSON body into v. Error statuses still
// decode when the body is a service response, so callers can read its
// errorMessage.
func (c *Client) doJSON(op string, req *http.Request, v interface{}) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &NetworkError{Op: op, Err: err}
	}
	if err := json.Unmarshal(body, v); err != nil {
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: httpMessage(resp.StatusCode, body)}
		}
		return resp.StatusCode, &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("invalid %s response: %v", op, err)}
	}
	return resp.StatusCode, nil
}

func httpMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	}
	return fmt.Sprintf("HTTP %d: %s", status, text)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
