package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultClaudeModel = "claude-sonnet-4-5"

// Claude generates articles through the Anthropic Messages API.
type Claude struct {
	client *anthropic.Client
	opts   Options
}

// NewClaude builds a client. The SDK's own retries are off: a failed attempt
// leaves the topic queued for the next trigger.
func NewClaude(apiKey string, opts Options, extra ...option.RequestOption) *Claude {
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, extra...)
	client := anthropic.NewClient(reqOpts...)

	return &Claude{
		client: &client,
		opts:   opts.withDefaults(DefaultClaudeModel),
	}
}

// Generate implements processor.Generator.
func (c *Claude) Generate(ctx context.Context, topic string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.opts.Model),
		MaxTokens:   int64(c.opts.MaxTokens),
		Temperature: anthropic.Float(*c.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(Prompt(topic))),
		},
	})
	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) && claudeErr.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("claude: rate limited: %w", err)
	}
	if err != nil {
		return "", fmt.Errorf("error calling claude: %w", err)
	}

	var article strings.Builder
	for _, content := range resp.Content {
		article.WriteString(content.Text)
	}
	if strings.TrimSpace(article.String()) == "" {
		return "", errors.New("claude: empty article")
	}

	return strings.TrimSpace(article.String()), nil
}
