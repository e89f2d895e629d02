// Package client implements the consumer side of the license server trust
// protocol: activation, session lifecycle, revocation polling, and
// certificate sync. Transport failures are always transient; only a parsed
// server response carries a trust decision.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "hydrocli/internal/errors"
	"hydrocli/internal/storage"
)

// Client talks to the HydroSuite license server over HTTP/JSON
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client with a fixed request timeout. The timeout bounds
// every call; there are no per-call overrides.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "license-client")),
	}
}

// ActivationResponse is the server's answer to an activation request
type ActivationResponse struct {
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	License    *storage.License `json:"license,omitempty"`
	ServerTime time.Time        `json:"server_time"`
}

// SessionResponse is the server's answer to session start/heartbeat/end
type SessionResponse struct {
	Success        bool      `json:"success"`
	IsValid        bool      `json:"is_valid"`
	Revoked        bool      `json:"revoked"`
	Reason         string    `json:"reason,omitempty"`
	Conflict       bool      `json:"conflict"`
	ConflictDevice string    `json:"conflict_device,omitempty"`
	ServerTime     time.Time `json:"server_time"`
}

// StatusResponse is the server-side view of a license, used for revocation
// polling
type StatusResponse struct {
	LicenseID  string    `json:"license_id"`
	Status     string    `json:"status"`
	Revoked    bool      `json:"revoked"`
	Reason     string    `json:"reason,omitempty"`
	ServerTime time.Time `json:"server_time"`
}

// CertificateResult is the server's verdict on one synced certificate
type CertificateResult struct {
	CertificateID string `json:"certificate_id"`
	Accepted      bool   `json:"accepted"`
	Verified      bool   `json:"verified"`
}

// CertificateSyncResponse carries per-certificate verdicts
type CertificateSyncResponse struct {
	Results    []CertificateResult `json:"results"`
	ServerTime time.Time           `json:"server_time"`
}

// Activate exchanges a license key and email for a signed license
func (c *Client) Activate(ctx context.Context, licenseKey, email, hardwareID string) (*ActivationResponse, error) {
	body := map[string]string{
		"licenseKey": licenseKey,
		"email":      email,
		"hardwareId": hardwareID,
	}
	var resp ActivationResponse
	if err := c.postJSON(ctx, "/activate", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartSession registers this device's session with the server
func (c *Client) StartSession(ctx context.Context, licenseID, hardwareID string) (*SessionResponse, error) {
	return c.sessionCall(ctx, "/sessions/start", licenseID, hardwareID)
}

// Heartbeat keeps the session alive and picks up revocation and conflict
// signals
func (c *Client) Heartbeat(ctx context.Context, licenseID, hardwareID string) (*SessionResponse, error) {
	return c.sessionCall(ctx, "/sessions/heartbeat", licenseID, hardwareID)
}

// EndSession releases this device's session
func (c *Client) EndSession(ctx context.Context, licenseID, hardwareID string) (*SessionResponse, error) {
	return c.sessionCall(ctx, "/sessions/end", licenseID, hardwareID)
}

func (c *Client) sessionCall(ctx context.Context, path, licenseID, hardwareID string) (*SessionResponse, error) {
	body := map[string]string{
		"licenseId":  licenseID,
		"hardwareId": hardwareID,
	}
	var resp SessionResponse
	if err := c.postJSON(ctx, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LicenseStatus fetches the server-side status of a license
func (c *Client) LicenseStatus(ctx context.Context, licenseID string) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/licenses/"+licenseID+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	var resp StatusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncCertificates uploads locally generated processing certificates and
// returns the server's per-certificate verdicts
func (c *Client) SyncCertificates(ctx context.Context, certs []storage.ProcessingCertificate) (*CertificateSyncResponse, error) {
	body := map[string]interface{}{"certificates": certs}
	var resp CertificateSyncResponse
	if err := c.postJSON(ctx, "/certificates/sync", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do executes the request and decodes the response. Any transport-level
// failure, including the client timeout, wraps ErrNetworkError: the caller
// must treat it as transient, never as a trust decision.
func (c *Client) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("server request failed",
			slog.String("path", req.URL.Path),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %s %s: %v", apperrors.ErrNetworkError,
			req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response from %s: %v",
			apperrors.ErrNetworkError, req.URL.Path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: server throttled %s", apperrors.ErrRateLimited, req.URL.Path)
	case resp.StatusCode >= 500:
		// Server-side failure says nothing about the license; transient.
		return fmt.Errorf("%w: server error %d from %s",
			apperrors.ErrNetworkError, resp.StatusCode, req.URL.Path)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", apperrors.ErrActivationFailed, serverMessage(data, resp.StatusCode))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed response from %s: %v",
			apperrors.ErrNetworkError, req.URL.Path, err)
	}
	c.logger.Debug("server request completed",
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func serverMessage(body []byte, statusCode int) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return fmt.Sprintf("server returned status %d", statusCode)
}
