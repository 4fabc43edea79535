// Package artistinfo provides the AI-generated artist panel. It talks to an
// OpenAI-compatible chat-completions endpoint in JSON mode and caches
// responses per artist for a day.
package artistinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/melodyhq/melody/internal/domain"
	"go.uber.org/zap"
)

const systemPrompt = `You are a music expert providing concise, engaging information about artists. Respond with a JSON object containing:
- "summary": A 2-3 sentence overview of the artist
- "background": 2-3 sentences about their origin, career start, or key background info
- "style": 1-2 sentences describing their musical style and influences
- "achievements": 2-3 notable achievements, awards, or milestones
- "funFact": One interesting or lesser-known fact about the artist

Keep each field concise but informative. Focus on verified, well-known information.`

// ErrNoAPIKey indicates the provider is not configured
var ErrNoAPIKey = errors.New("artistinfo: api key not configured")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_completion_tokens,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client fetches artist information from a chat-completions endpoint
type Client struct {
	logger     *zap.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache
}

// NewClient creates an artist-info client
func NewClient(logger *zap.Logger, baseURL, apiKey, model string) *Client {
	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: NewCache(),
	}
}

// ArtistInfo returns the structured panel for an artist name. The bool
// reports whether the payload came from cache.
func (c *Client) ArtistInfo(ctx context.Context, name string) (domain.ArtistInfo, bool, error) {
	key := normalizeKey(name)

	if info, ok := c.cache.Get(key); ok {
		c.logger.Debug("Artist info served from cache", zap.String("artist", name))
		return info, true, nil
	}

	if c.apiKey == "" {
		return domain.ArtistInfo{}, false, ErrNoAPIKey
	}

	c.logger.Info("Fetching artist info", zap.String("artist", name))

	info, err := c.complete(ctx, name)
	if err != nil {
		return domain.ArtistInfo{}, false, err
	}

	c.cache.Set(key, info)
	return info, false, nil
}

func (c *Client) complete(ctx context.Context, name string) (domain.ArtistInfo, error) {
	payload := chatRequest{
		Model:     c.model,
		MaxTokens: 600,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Tell me about the musical artist: %s", name)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ArtistInfo{}, fmt.Errorf("artistinfo: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.ArtistInfo{}, fmt.Errorf("artistinfo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ArtistInfo{}, fmt.Errorf("artistinfo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ArtistInfo{}, fmt.Errorf("artistinfo: unexpected status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.ArtistInfo{}, fmt.Errorf("artistinfo: decode response: %w", err)
	}
	if parsed.Error != nil {
		return domain.ArtistInfo{}, fmt.Errorf("artistinfo: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return domain.ArtistInfo{}, fmt.Errorf("artistinfo: empty response")
	}

	var info domain.ArtistInfo
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &info); err != nil {
		return domain.ArtistInfo{}, fmt.Errorf("artistinfo: decode payload: %w", err)
	}

	return info, nil
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
