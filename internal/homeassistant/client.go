// Package homeassistant provides REST and websocket access to a
// Home Assistant instance.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config holds the configuration for Home Assistant API access.
type Config struct {
	// BaseURL is the Home Assistant API base URL
	BaseURL string

	// Token is the long-lived access token for API authentication
	Token string

	// SupervisorToken is the Supervisor API token (for addon mode)
	SupervisorToken string

	// Timeout for API requests
	Timeout time.Duration
}

// DefaultConfig returns the default configuration, reading from environment variables.
func DefaultConfig() Config {
	return Config{
		BaseURL:         getEnv("HA_URL", "http://supervisor/core"),
		Token:           getEnv("HA_TOKEN", ""),
		SupervisorToken: getEnv("SUPERVISOR_TOKEN", ""),
		Timeout:         30 * time.Second,
	}
}

// getEnv returns an environment variable value or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsAddonMode returns true if running as a Home Assistant addon.
func (c Config) IsAddonMode() bool {
	return c.SupervisorToken != ""
}

// AuthToken returns the appropriate authentication token.
func (c Config) AuthToken() string {
	if c.IsAddonMode() {
		return c.SupervisorToken
	}
	return c.Token
}

// WebsocketURL derives the websocket endpoint from the base URL.
func (c Config) WebsocketURL() string {
	url := c.BaseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimRight(url, "/") + "/api/websocket"
}

// Client is a client for the Home Assistant REST API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new Home Assistant API client.
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// EntityState represents an entity state from Home Assistant.
type EntityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// GetState retrieves the current state of a single entity.
func (c *Client) GetState(ctx context.Context, entityID string) (EntityState, error) {
	req, err := c.newRequest(ctx, "GET", "/api/states/"+entityID, nil)
	if err != nil {
		return EntityState{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return EntityState{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return EntityState{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}

	var state EntityState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return EntityState{}, fmt.Errorf("decoding response: %w", err)
	}

	return state, nil
}

// RenderTemplate renders a Jinja template server-side and returns the result
// as plain text.
func (c *Client) RenderTemplate(ctx context.Context, template string) (string, error) {
	body, err := json.Marshal(map[string]string{"template": template})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := c.newRequest(ctx, "POST", "/api/template", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	result, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, result)
	}

	return string(result), nil
}

// newRequest creates a new HTTP request with authentication.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := c.config.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.AuthToken())
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}
