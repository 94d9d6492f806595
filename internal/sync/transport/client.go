// Package transport submits sync batches and backups to the remote service.
//
// Every sync endpoint accepts a JSON object holding one array of records and
// answers with the ids it accepted:
//
//	POST /sync/summaries    {"summaries": [...]}    -> {"acknowledgedIds": [...]}
//	POST /sync/inventory    {"items": [...]}        -> {"acknowledgedIds": [...]}
//	POST /sync/transactions {"transactions": [...]} -> {"acknowledgedIds": [...]}
//
// A failed submission is retried a bounded number of times with a linearly
// growing delay (RetryDelay, 2×RetryDelay, ...).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Remote endpoints.
const (
	EndpointSummaries    = "/sync/summaries"
	EndpointInventory    = "/sync/inventory"
	EndpointTransactions = "/sync/transactions"
	EndpointBackup       = "/backup/upload"
	EndpointHealth       = "/health"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the remote service, e.g. "https://api.example.com/api".
	BaseURL string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// MaxAttempts is the number of tries per submission (including the first).
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between tries.
	RetryDelay time.Duration
	// AuthSecret enables HS256 bearer tokens when non-empty.
	AuthSecret string
	// TokenTTL is the lifetime of issued bearer tokens.
	TokenTTL time.Duration
	// TenantID is carried in the bearer token.
	TenantID string
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  5 * time.Second,
		TokenTTL:    5 * time.Minute,
	}
}

// Client talks to the remote service.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client. Zero config fields take their defaults.
func New(cfg Config, logger *log.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepContext,
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type ackResponse struct {
	AcknowledgedIDs []string `json:"acknowledgedIds"`
}

// Submit posts payload to endpoint and returns the acknowledged ids.
//
// Transient failures (network errors, 408, 429 and 5xx answers) are retried
// up to MaxAttempts times. When every attempt fails, or a permanent failure
// occurs, a *TransportError is returned.
func (c *Client) Submit(ctx context.Context, endpoint string, payload interface{}) ([]string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %s: %w", endpoint, err)
	}

	var lastErr error
	attempt := 1
	for ; attempt <= c.cfg.MaxAttempts; attempt++ {
		ids, err := c.post(ctx, endpoint, body)
		if err == nil {
			return ids, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.cfg.RetryDelay * time.Duration(attempt)
		c.logger.Printf("Attempt %d/%d for %s failed: %v (retrying in %v)", attempt, c.cfg.MaxAttempts, endpoint, err, delay)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return nil, &TransportError{Endpoint: endpoint, Attempts: attempt, Err: lastErr}
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var ack ackResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode acknowledgement: %w", err)
	}
	if ack.AcknowledgedIDs == nil {
		ack.AcknowledgedIDs = []string{}
	}
	return ack.AcknowledgedIDs, nil
}

// UploadBackup sends a backup file as multipart form data.
func (c *Client) UploadBackup(ctx context.Context, filename string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("backup", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.WriteField("tenantId", c.cfg.TenantID); err != nil {
		return fmt.Errorf("failed to write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+EndpointBackup, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}
	return nil
}

// Ping checks that the remote service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+EndpointHealth, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return checkStatus(resp)
}

// claims are carried by bearer tokens.
type claims struct {
	jwtlib.RegisteredClaims
	TenantID string `json:"tenantId"`
}

func (c *Client) authorize(req *http.Request) error {
	if c.cfg.AuthSecret == "" {
		return nil
	}
	now := time.Now().UTC()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   c.cfg.TenantID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(c.cfg.TokenTTL)),
			Issuer:    "pharmasync",
		},
		TenantID: c.cfg.TenantID,
	})
	signed, err := token.SignedString([]byte(c.cfg.AuthSecret))
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

// retryable reports whether a failed attempt may succeed when repeated.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout ||
			se.Code == http.StatusTooManyRequests ||
			se.Code >= 500
	}
	return true
}
