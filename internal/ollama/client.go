// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/logging"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/sampling"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultHost is used when OLLAMA_HOST is unset or empty.
// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues on Windows
const DefaultHost = "http://127.0.0.1:11434"

// EnvHost names the environment variable holding the server address.
const EnvHost = "OLLAMA_HOST"

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: OLLAMA_HOST or DefaultHost)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// ConnectTimeout bounds dialing the server, including for streams (default: 5s)
	ConnectTimeout time.Duration

	// Logger receives request lifecycle events (default: disabled)
	Logger *zerolog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        BaseURLFromEnv(),
		Timeout:        30 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// BaseURLFromEnv reads OLLAMA_HOST, falling back to DefaultHost.
func BaseURLFromEnv() string {
	return NormalizeHost(os.Getenv(EnvHost))
}

// NormalizeHost turns the forms Ollama accepts for OLLAMA_HOST ("host",
// "host:port", ":port", "http://host:port/") into a base URL.
func NormalizeHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultHost
	}

	scheme := "http"
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = raw[:i]
		raw = raw[i+3:]
	}
	raw = strings.TrimRight(raw, "/")

	hostPort, path := raw, ""
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		hostPort, path = raw[:i], raw[i:]
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		host, port = strings.Trim(hostPort, "[]"), ""
	}
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		switch scheme {
		case "https":
			port = "443"
		default:
			port = "11434"
		}
	}

	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port), Path: path}
	return u.String()
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
// It sends the chat history with the sampling options and streams the reply.
// There are no retries; a failed call is reported to the caller.
//
// The Client is thread-safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClient()
//	stream, err := client.Stream(ctx, conv.Snapshot(), sampling.Defaults("llama3.1"))
//	if err != nil {
//	    return err // *ollama.ConnectionError
//	}
//	for fragment, err := range stream.Fragments() {
//	    ...
//	}
type Client struct {
	config     *ClientConfig
	httpClient *http.Client

	// streamClient has no overall timeout; the request context bounds it
	streamClient *http.Client
	transport    *http.Transport
	log          zerolog.Logger
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = BaseURLFromEnv()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}

	log := zerolog.Nop()
	if config.Logger != nil {
		log = logging.Component(*config.Logger, "ollama")
	}

	// SECURITY: TLS not required - Ollama runs locally on localhost (127.0.0.1) over HTTP
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    4,
		IdleConnTimeout: 90 * time.Second,
	}

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
		transport:    transport,
		log:          log,
	}
}

// BaseURL returns the server address in use.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Close releases idle connections.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return c.connErr(0, "invalid request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.connErr(0, "", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return c.connErr(resp.StatusCode, resp.Status, nil)
	}
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all locally installed models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, c.connErr(0, "invalid request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.connErr(0, "", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, c.connErr(resp.StatusCode, readErrorBody(resp.Body), nil)
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, c.connErr(resp.StatusCode, "failed to decode response", err)
	}
	return result.Models, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Stream sends the history and sampling configuration to /api/chat and
// returns the reply as a fragment stream.
//
// An unreachable server or a rejected request fails here with
// *ConnectionError, before any fragment exists. The caller must Close the
// stream or drain it; breaking out of Fragments closes it.
func (c *Client) Stream(ctx context.Context, history []model.Turn, cfg sampling.Config) (*Stream, error) {
	reqBody := ChatRequest{
		Model:    cfg.Model(),
		Messages: MessagesFromTurns(history),
		Stream:   true,
		Options:  cfg.Options(),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, c.connErr(0, "failed to marshal request", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := newStream(ctx, cancel, cfg.Model(), c.log)
	s.transition(StateConnecting)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		s.fail(nil)
		return nil, c.connErr(0, "invalid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	c.log.Debug().
		Str("model", cfg.Model()).
		Int("turns", len(history)).
		Str("options", cfg.String()).
		Msg("opening chat stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		s.fail(nil)
		return nil, c.connErr(0, "", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		drainAndClose(resp.Body)
		cancel()
		s.fail(nil)
		return nil, c.connErr(resp.StatusCode, msg, nil)
	}

	s.attach(resp.Body)
	return s, nil
}

// Complete streams a reply and returns it whole. Used by one-shot callers
// that have no display sink.
func (c *Client) Complete(ctx context.Context, history []model.Turn, cfg sampling.Config) (string, error) {
	s, err := c.Stream(ctx, history, cfg)
	if err != nil {
		return "", err
	}
	return s.Collect()
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) connErr(status int, msg string, cause error) *ConnectionError {
	err := &ConnectionError{URL: c.config.BaseURL, Status: status, Message: msg, Cause: cause}
	c.log.Debug().Err(err).Msg("request failed before streaming")
	return err
}

// readErrorBody extracts Ollama's {"error": "..."} message when present.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var ollamaErr OllamaError
	if err := json.Unmarshal(data, &ollamaErr); err == nil && ollamaErr.Error != "" {
		return ollamaErr.Error
	}
	return strings.TrimSpace(string(data))
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}
