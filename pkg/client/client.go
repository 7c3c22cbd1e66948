package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to the samgo HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	token   string
	user    string
	pass    string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	TLS     *TLSClientConfig
	// Insecure skips TLS verification
	Insecure bool

	// Token is sent as a bearer token; Username/Password as basic auth.
	Token    string
	Username string
	Password string
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
	SkipVerify bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8480/api",
		// launch waits for the emulated game to become ready
		Timeout: time.Minute,
	}
}

func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		token:   config.Token,
		user:    config.Username,
		pass:    config.Password,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Launch starts the emulated game for appID and returns its handle once ready.
func (c *Client) Launch(ctx context.Context, appID uint32) (*Handle, error) {
	var out LaunchResponse
	if err := c.do(ctx, http.MethodPost, "/launch", LaunchRequest{AppID: appID}, &out); err != nil {
		return nil, err
	}
	return out.Handle, nil
}

// Refresh requests a new snapshot. It returns before the snapshot arrives.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/refresh", nil, nil)
}

// SetAchievement sends a mutation, or only queues it when queue is set.
func (c *Client) SetAchievement(ctx context.Context, id string, achieved, queue bool) error {
	return c.do(ctx, http.MethodPost, "/mutations", MutationRequest{ID: id, Achieved: achieved, Queue: queue}, nil)
}

func (c *Client) Pending(ctx context.Context) ([]PendingMutation, error) {
	var out []PendingMutation
	err := c.do(ctx, http.MethodGet, "/mutations", nil, &out)
	return out, err
}

// Commit sends all queued mutations and returns how many were sent.
func (c *Client) Commit(ctx context.Context) (int, error) {
	var out struct {
		Sent int `json:"sent"`
	}
	err := c.do(ctx, http.MethodPost, "/commit", nil, &out)
	return out.Sent, err
}

// Verify lists achievement ids whose requested state is not confirmed yet.
func (c *Client) Verify(ctx context.Context) ([]string, error) {
	var out struct {
		Unconfirmed []string `json:"unconfirmed"`
	}
	err := c.do(ctx, http.MethodGet, "/verify", nil, &out)
	return out.Unconfirmed, err
}

func (c *Client) Terminate(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/terminate", nil, nil)
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Achievements(ctx context.Context) (*AchievementsResponse, error) {
	var out AchievementsResponse
	if err := c.do(ctx, http.MethodGet, "/achievements", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LaunchQuery is Launch with the app id given as a decimal string.
func (c *Client) LaunchQuery(ctx context.Context, appID string) (*Handle, error) {
	var out LaunchResponse
	if err := c.do(ctx, http.MethodPost, "/launch?app_id="+url.QueryEscape(appID), nil, &out); err != nil {
		return nil, err
	}
	return out.Handle, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	if config.TLS.SkipVerify {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.user != "":
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

// do performs the request and decodes a 2xx body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "HTTP " + strconv.Itoa(e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) errorFrom(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}
