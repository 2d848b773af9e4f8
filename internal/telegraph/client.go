// Package telegraph publishes articles as telegra.ph pages.
package telegraph

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

const DefaultBaseURL = "https://api.telegra.ph"

// Telegraph rejects longer titles.
const maxTitleLength = 256

type Account struct {
	ShortName   string `json:"short_name"`
	AuthorName  string `json:"author_name"`
	AccessToken string `json:"access_token"`
}

type Page struct {
	Path  string `json:"path"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Client is a minimal Telegraph API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Every response has this envelope.
type apiResponse struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, body, out any) error {
	byts, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding %s request: %s", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(byts))
	if err != nil {
		return fmt.Errorf("error creating %s request: %s", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling telegraph %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading telegraph %s response: %w", method, err)
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("telegraph %s: unexpected status %s", method, resp.Status)
		}
		return fmt.Errorf("telegraph %s: malformed response: %s", method, err)
	}
	if !env.OK {
		if env.Error == "" {
			env.Error = "api responded with not ok"
		}
		return fmt.Errorf("telegraph %s: %s", method, env.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegraph %s: unexpected status %s", method, resp.Status)
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegraph %s: malformed result: %s", method, err)
	}
	return nil
}

// CreateAccount registers a new anonymous account.
func (c *Client) CreateAccount(ctx context.Context, shortName, authorName string) (Account, error) {
	var acc Account
	if err := c.call(ctx, "createAccount", map[string]string{
		"short_name":  shortName,
		"author_name": authorName,
	}, &acc); err != nil {
		return Account{}, err
	}
	if acc.AccessToken == "" {
		return Account{}, errors.New("telegraph createAccount: no access token returned")
	}

	return acc, nil
}

type createPageRequest struct {
	AccessToken string `json:"access_token"`
	Title       string `json:"title"`
	AuthorName  string `json:"author_name,omitempty"`
	Content     []Node `json:"content"`
}

// CreatePage publishes `content` and returns the new page.
func (c *Client) CreatePage(ctx context.Context, token, title, authorName string, content []Node) (Page, error) {
	if len(content) == 0 {
		return Page{}, errors.New("telegraph createPage: empty content")
	}

	var page Page
	if err := c.call(ctx, "createPage", createPageRequest{
		AccessToken: token,
		Title:       clampTitle(title),
		AuthorName:  authorName,
		Content:     content,
	}, &page); err != nil {
		return Page{}, err
	}
	if page.URL == "" {
		return Page{}, errors.New("telegraph createPage: no url returned")
	}

	return page, nil
}

func clampTitle(title string) string {
	title = strings.TrimSpace(title)
	if r := []rune(title); len(r) > maxTitleLength {
		return string(r[:maxTitleLength])
	}
	return title
}
