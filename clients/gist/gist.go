package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"insiderwatch/config"
)

const defaultAPIBase = "https://api.github.com"

var (
	// ErrDisabled is returned when no GitHub token is configured.
	ErrDisabled = errors.New("gist client not configured")
	// ErrNotFound is returned when the gist or file does not exist yet.
	ErrNotFound = errors.New("gist file not found")
)

// Storage is the subset of gist operations used for snapshots.
type Storage interface {
	IsEnabled() bool
	LoadJSON(ctx context.Context, filename string, dest any) error
	SaveJSON(ctx context.Context, filename string, data any) error
}

var _ Storage = (*Client)(nil)

// Client is a GitHub Gist API client for storing JSON snapshots.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	apiBase    string
	token      string

	mu     sync.Mutex
	gistID string // Created on first save when empty
}

type gistFile struct {
	Content string `json:"content"`
}

type gistBody struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description,omitempty"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

// NewClient creates a new GitHub Gist client.
func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Gist.Token == "" {
		logger.Warn("GITHUB_TOKEN not set, gist storage will be disabled")
	}

	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    defaultAPIBase,
		token:      cfg.Gist.Token,
		gistID:     cfg.Gist.GistID,
	}
}

// IsEnabled returns true if the client has a token.
func (c *Client) IsEnabled() bool {
	return c.token != ""
}

// GistID returns the gist in use, which may have been created by SaveJSON.
func (c *Client) GistID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gistID
}

// SaveJSON writes data as one file of the gist, creating the gist on the
// first save when no ID is configured.
func (c *Client) SaveJSON(ctx context.Context, filename string, data any) error {
	if !c.IsEnabled() {
		return ErrDisabled
	}

	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	body, err := json.Marshal(gistBody{
		Description: "insiderwatch snapshot",
		Files:       map[string]gistFile{filename: {Content: string(content)}},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	method, url := http.MethodPost, c.apiBase+"/gists"
	if c.gistID != "" {
		method, url = http.MethodPatch, c.apiBase+"/gists/"+c.gistID
	}

	var created gistBody
	if err := c.do(ctx, method, url, body, &created); err != nil {
		return err
	}
	if c.gistID == "" {
		c.gistID = created.ID
		c.logger.Info("created new gist", zap.String("id", created.ID))
	}

	c.logger.Debug("saved to gist",
		zap.String("filename", filename),
		zap.Int("bytes", len(content)),
	)
	return nil
}

// LoadJSON reads one file of the gist into dest.
func (c *Client) LoadJSON(ctx context.Context, filename string, dest any) error {
	if !c.IsEnabled() {
		return ErrDisabled
	}

	id := c.GistID()
	if id == "" {
		return ErrNotFound
	}

	var g gistBody
	if err := c.do(ctx, http.MethodGet, c.apiBase+"/gists/"+id, nil, &g); err != nil {
		return err
	}

	file, ok := g.Files[filename]
	if !ok {
		return fmt.Errorf("%s: %w", filename, ErrNotFound)
	}

	if err := json.Unmarshal([]byte(file.Content), dest); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}

	c.logger.Debug("loaded from gist",
		zap.String("filename", filename),
		zap.Int("bytes", len(file.Content)),
	)
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, dest any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error status=%d body=%s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
