package telegraph

import (
	"context"
	"fmt"
)

// Publisher posts markdown articles under one account.
type Publisher struct {
	client     *Client
	token      string
	authorName string
}

func NewPublisher(client *Client, token, authorName string) *Publisher {
	return &Publisher{client: client, token: token, authorName: authorName}
}

// Publish implements processor.Publisher. `content` is markdown.
func (p *Publisher) Publish(ctx context.Context, title, content string) (string, error) {
	nodes, err := Markdown(content)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("article for %q rendered to nothing", title)
	}

	page, err := p.client.CreatePage(ctx, p.token, title, p.authorName, nodes)
	if err != nil {
		return "", err
	}

	return page.URL, nil
}
