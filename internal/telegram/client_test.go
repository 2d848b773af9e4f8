package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":42}}}`)
	}))
	defer srv.Close()

	c := NewClient("TOKEN", srv.URL)
	err := c.SendMessage(context.Background(), 42, "<b>hi</b>", &InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{{{Text: "Go", CallbackData: "go"}}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 42, got["chat_id"])
	assert.Equal(t, "<b>hi</b>", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, true, got["disable_web_page_preview"])
	assert.Equal(t, map[string]any{
		"inline_keyboard": []any{[]any{map[string]any{"text": "Go", "callback_data": "go"}}},
	}, got["reply_markup"])
}

func TestSendMessageWithoutKeyboard(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	require.NoError(t, NewNotifier(NewClient("T", srv.URL)).Notify(context.Background(), 7, "done"))
	assert.EqualValues(t, 7, got["chat_id"])
	assert.NotContains(t, got, "reply_markup")
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	}))
	defer srv.Close()

	err := NewClient("T", srv.URL).SendMessage(context.Background(), 1, "x", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Code)
	assert.Equal(t, "sendMessage", apiErr.Method)
	assert.Contains(t, apiErr.Description, "blocked")
}

func TestNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	}))
	defer srv.Close()

	err := NewClient("T", srv.URL).AnswerCallbackQuery(context.Background(), "q")
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestGetUpdates(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botT/getUpdates", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"from":{"id":5,"first_name":"A"},"chat":{"id":5},"text":"/list"}},
			{"update_id":11,"callback_query":{"id":"cb","from":{"id":5,"first_name":"A"},"data":"gen_now"}}
		]}`)
	}))
	defer srv.Close()

	updates, err := NewClient("T", srv.URL).GetUpdates(context.Background(), 10, 30)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.EqualValues(t, 10, got["offset"])
	assert.EqualValues(t, 30, got["timeout"])

	assert.Equal(t, "/list", updates[0].Message.Text)
	assert.EqualValues(t, 5, updates[0].Message.From.ID)
	assert.Equal(t, "gen_now", updates[1].CallbackQuery.Data)
}

func TestTransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	err := NewClient("SECRET123", srv.URL).SetCommands(context.Background(), nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET123")
}
