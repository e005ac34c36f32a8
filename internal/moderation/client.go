package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultBaseURL is the production moderation backend.
const DefaultBaseURL = "https://dl-voice-ai.dogelabs.workers.dev"

const (
	moderationPath   = "/products/moderation"
	remoteConfigPath = "/remote-config"
	sessionPath      = "/player/session/"
	playerStatusPath = "/player/status/"

	maxResponseBytes = 1 << 20
)

var (
	// ErrTransport wraps network, HTTP status and decoding failures.
	ErrTransport = errors.New("moderation transport error")
	// ErrConfigFetch wraps every failure of a remote config fetch.
	ErrConfigFetch = errors.New("remote config fetch failed")
	// ErrRejected is returned when the backend answers with ok=false.
	ErrRejected = errors.New("request rejected by backend")
)

// Client talks to the moderation backend. Requests are never retried.
type Client struct {
	config     Config
	httpClient *http.Client
	sem        *semaphore.Weighted

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	activeRequests  int
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains moderation client configuration
type Config struct {
	BaseURL       string
	AppKey        string
	Timeout       time.Duration
	MaxConcurrent int
	UserAgent     string

	// HTTPClient overrides the default transport when set.
	HTTPClient *http.Client
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new moderation HTTP client
func NewClient(config Config) (*Client, error) {
	if config.AppKey == "" {
		return nil, fmt.Errorf("app key cannot be empty")
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", config.BaseURL, err)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.UserAgent == "" {
		config.UserAgent = "voicesafe-go/1.0"
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: config.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}, nil
}

// Submit uploads one encoded window and returns the backend's verdict.
func (c *Client) Submit(ctx context.Context, wav []byte, meta Metadata) (*Verdict, error) {
	body, contentType, err := createMultipartRequest(wav, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create multipart request: %v", ErrTransport, err)
	}

	var data recommendationData
	if err := c.do(ctx, http.MethodPost, moderationPath, body, contentType, meta.WindowID, &data); err != nil {
		return nil, err
	}
	return data.verdict(), nil
}

// FetchRemoteConfig retrieves the current remote policy.
func (c *Client) FetchRemoteConfig(ctx context.Context) (*RemoteConfig, error) {
	var rc RemoteConfig
	if err := c.do(ctx, http.MethodGet, remoteConfigPath, nil, "", "", &rc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigFetch, err)
	}
	return &rc, nil
}

// StartSession opens a presence session. A session left open by a previous
// run is closed by the backend.
func (c *Client) StartSession(ctx context.Context, userID string) error {
	return c.session(ctx, "start", userID)
}

// EndSession closes the player's presence session.
func (c *Client) EndSession(ctx context.Context, userID string) error {
	return c.session(ctx, "end", userID)
}

// Pulse keeps the player's presence session alive.
func (c *Client) Pulse(ctx context.Context, userID string) error {
	return c.session(ctx, "pulse", userID)
}

func (c *Client) session(ctx context.Context, op, userID string) error {
	if userID == "" {
		return fmt.Errorf("session %s: user ID cannot be empty", op)
	}
	body, err := jsonBody(playerRequest{PlayerUserID: userID})
	if err != nil {
		return err
	}
	var ignored json.RawMessage
	if err := c.do(ctx, http.MethodPost, sessionPath+op, body, "application/json", "", &ignored); err != nil {
		return fmt.Errorf("session %s: %w", op, err)
	}
	return nil
}

// ReportUser files a player report of the given event type.
func (c *Client) ReportUser(ctx context.Context, reporterID, targetID, eventType string) (*ModerationEvent, error) {
	if reporterID == "" || targetID == "" || eventType == "" {
		return nil, fmt.Errorf("reporter, target and event type are required")
	}
	body, err := jsonBody(reportRequest{ReporterPlayerUserID: reporterID, TargetPlayerUserID: targetID})
	if err != nil {
		return nil, err
	}
	var event ModerationEvent
	path := moderationPath + "/" + url.PathEscape(eventType)
	if err := c.do(ctx, http.MethodPost, path, body, "application/json", "", &event); err != nil {
		return nil, fmt.Errorf("report user: %w", err)
	}
	return &event, nil
}

// PlayerStatus looks up the player's current standing.
func (c *Client) PlayerStatus(ctx context.Context, userID string) (*PlayerStatus, error) {
	if userID == "" {
		return nil, fmt.Errorf("player status: user ID cannot be empty")
	}
	var data playerStatusData
	if err := c.do(ctx, http.MethodGet, playerStatusPath+url.PathEscape(userID), nil, "", "", &data); err != nil {
		return nil, fmt.Errorf("player status: %w", err)
	}
	return data.status(), nil
}

// do performs a single request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType, requestID string, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer c.sem.Release(1)

	startTime := time.Now()
	c.begin()

	err := c.doRequest(ctx, method, path, body, contentType, requestID, out)
	c.finish(err == nil, time.Since(startTime))
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType, requestID string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: failed to create HTTP request: %v", ErrTransport, err)
	}

	if requestID == "" {
		requestID = uuid.NewString()
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.AppKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: HTTP request failed: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP error %d: %s", ErrTransport, resp.StatusCode, truncate(respBody, 256))
	}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("%w: failed to parse response JSON: %v", ErrTransport, err)
	}
	if !env.OK {
		return fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}
	if env.Data == nil || len(*env.Data) == 0 || string(*env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(*env.Data, out); err != nil {
		return fmt.Errorf("%w: failed to parse response data: %v", ErrTransport, err)
	}
	return nil
}

// createMultipartRequest creates a multipart/form-data upload body
func createMultipartRequest(wav []byte, meta Metadata) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
	h.Set("Content-Type", "audio/wav")
	fileWriter, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"userId", meta.UserID},
		{"roomId", meta.RoomID},
	}
	if meta.UserName != "" {
		fields = append(fields, [2]string{"username", meta.UserName})
	}
	if meta.Language != "" {
		fields = append(fields, [2]string{"language", meta.Language})
	}
	if meta.DurationSeconds > 0 {
		fields = append(fields, [2]string{"durationInSeconds", strconv.FormatFloat(meta.DurationSeconds, 'f', 3, 64)})
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (c *Client) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.activeRequests++
}

func (c *Client) finish(ok bool, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeRequests--
	if ok {
		c.successRequests++
	} else {
		c.failedRequests++
	}

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// Stats returns current client statistics
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  c.activeRequests,
	}
}

// Close waits for in-flight requests to complete.
func (c *Client) Close() error {
	if err := c.sem.Acquire(context.Background(), int64(c.config.MaxConcurrent)); err != nil {
		return err
	}
	c.sem.Release(int64(c.config.MaxConcurrent))
	c.httpClient.CloseIdleConnections()
	return nil
}
