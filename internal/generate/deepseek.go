package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultDeepSeekBaseURL = "https://api.deepseek.com"
	DefaultDeepSeekModel   = "deepseek-chat"
)

// DeepSeek talks to an OpenAI compatible chat completions endpoint.
type DeepSeek struct {
	apiKey     string
	baseURL    string
	opts       Options
	httpClient *http.Client
}

// NewDeepSeek builds a client. An empty baseURL means the public DeepSeek API.
//
// The http client carries no timeout of its own: callers bound every call with
// the context.
func NewDeepSeek(apiKey, baseURL string, opts Options) *DeepSeek {
	if baseURL == "" {
		baseURL = DefaultDeepSeekBaseURL
	}

	return &DeepSeek{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts.withDefaults(DefaultDeepSeekModel),
		httpClient: &http.Client{},
	}
}

type (
	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	chatRequest struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
	}

	chatResponse struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
)

// Generate implements processor.Generator.
func (d *DeepSeek) Generate(ctx context.Context, topic string) (string, error) {
	byts, err := json.Marshal(chatRequest{
		Model:       d.opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: Prompt(topic)}},
		Temperature: *d.opts.Temperature,
		MaxTokens:   d.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("error encoding request: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chat/completions", bytes.NewReader(byts))
	if err != nil {
		return "", fmt.Errorf("error creating request: %s", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error calling deepseek: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading deepseek response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepseek: unexpected status %s: %s", resp.Status, truncate(string(body), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return "", fmt.Errorf("deepseek: malformed response: %s", err)
	}
	if len(chat.Choices) == 0 {
		return "", errors.New("deepseek: empty response")
	}

	article := strings.TrimSpace(chat.Choices[0].Message.Content)
	if article == "" {
		return "", errors.New("deepseek: empty article")
	}

	return article, nil
}
