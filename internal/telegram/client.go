// Package telegram is a minimal Telegram Bot API client.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultBaseURL = "https://api.telegram.org"

type (
	Update struct {
		UpdateID      int64          `json:"update_id"`
		Message       *Message       `json:"message,omitempty"`
		CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
	}

	Message struct {
		MessageID int64  `json:"message_id"`
		From      *User  `json:"from,omitempty"`
		Chat      Chat   `json:"chat"`
		Text      string `json:"text"`
	}

	CallbackQuery struct {
		ID      string   `json:"id"`
		From    User     `json:"from"`
		Message *Message `json:"message,omitempty"`
		Data    string   `json:"data"`
	}

	User struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		Username  string `json:"username,omitempty"`
	}

	Chat struct {
		ID int64 `json:"id"`
	}

	InlineKeyboardMarkup struct {
		InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
	}

	InlineKeyboardButton struct {
		Text         string `json:"text"`
		CallbackData string `json:"callback_data"`
	}

	// BotCommand describes a bot command for the Telegram menu.
	BotCommand struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
)

// APIError is a response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (c *Client) url(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

func (c *Client) call(ctx context.Context, method string, body, out any) error {
	byts, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding %s request: %s", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(method), bytes.NewReader(byts))
	if err != nil {
		return fmt.Errorf("error creating %s request: %s", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The url carries the token.
		return fmt.Errorf("error calling telegram %s: %w", method, redact(err, c.token))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading telegram %s response: %w", method, err)
	}

	var env struct {
		OK          bool            `json:"ok"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("telegram %s: unexpected status %s", method, resp.Status)
	}
	if !env.OK {
		if env.ErrorCode == 0 {
			env.ErrorCode = resp.StatusCode
		}
		return &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: malformed result: %s", method, err)
	}
	return nil
}

// SendMessage sends an HTML formatted message without link previews.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	body := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if markup != nil {
		body["reply_markup"] = markup
	}

	return c.call(ctx, "sendMessage", body, nil)
}

// GetUpdates long polls for up to `timeout` seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	body := map[string]any{
		"timeout":         timeout,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset != 0 {
		body["offset"] = offset
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// AnswerCallbackQuery stops the button's loading spinner.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": id}, nil)
}

// SetCommands registers the bot commands shown in the Telegram UI.
func (c *Client) SetCommands(ctx context.Context, commands []BotCommand) error {
	return c.call(ctx, "setMyCommands", map[string]any{"commands": commands}, nil)
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}
