package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{text: "/login", wantName: "login", wantArgs: []string{}, wantOK: true},
		{text: "  /Export@CourierBot 14-17 ", wantName: "export", wantArgs: []string{"14-17"}, wantOK: true},
		{text: "14-17", wantOK: false},
		{text: "/", wantOK: false},
		{text: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := ParseCommand(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantName, name)
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestSendMessage(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer server.Close()

	api := NewAPI("TOKEN", time.Second, time.Second).WithBaseURL(server.URL)
	require.NoError(t, api.SendMessage(context.Background(), 42, "Напиши логин"))
	assert.Equal(t, float64(42), got["chat_id"])
	assert.Equal(t, "Напиши логин", got["text"])
}

func TestSendDocumentUploadsMultipart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier_data_14-17.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("xlsx-bytes"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendDocument", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "42", r.FormValue("chat_id"))

		file, header, err := r.FormFile("document")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "courier_data_14-17.xlsx", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "xlsx-bytes", string(content))

		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer server.Close()

	api := NewAPI("TOKEN", time.Second, time.Second).WithBaseURL(server.URL)
	require.NoError(t, api.SendDocument(context.Background(), 42, path))
}

func TestSendDocumentMissingFile(t *testing.T) {
	api := NewAPI("TOKEN", time.Second, time.Second).WithBaseURL("http://127.0.0.1:1")
	err := api.SendDocument(context.Background(), 42, filepath.Join(t.TempDir(), "absent.xlsx"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRequestSurfacesErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
	}))
	defer server.Close()

	api := NewAPI("TOKEN", time.Second, time.Second).WithBaseURL(server.URL)
	err := api.SendMessage(context.Background(), 1, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestPollUpdatesDispatchesAndAdvancesOffset(t *testing.T) {
	var mu sync.Mutex
	offsets := make([]float64, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		offsets = append(offsets, body["offset"].(float64))
		call := len(offsets)
		mu.Unlock()
		if call == 1 {
			_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":7,"message":{"message_id":1,"from":{"id":5},"chat":{"id":9},"text":"/login"}}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
	}))
	defer server.Close()

	api := NewAPI("TOKEN", time.Second, 10*time.Millisecond).WithBaseURL(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Update, 1)

	done := make(chan error, 1)
	go func() {
		done <- api.PollUpdates(ctx, func(_ context.Context, u Update) { received <- u })
	}()

	select {
	case u := <-received:
		require.NotNil(t, u.Message)
		assert.Equal(t, int64(9), u.Message.Chat.ID)
		assert.Equal(t, "/login", u.Message.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("update was not dispatched")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(offsets) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, float64(0), offsets[0])
	assert.Equal(t, float64(8), offsets[1])
}

func TestWebhookPath(t *testing.T) {
	api := NewAPI("TOKEN", time.Second, time.Second)
	assert.Equal(t, "/hook/bot", api.WebhookPath("https://example.com/hook//bot/"))
	assert.Equal(t, "/telegram/webhook", api.WebhookPath("https://example.com"))
}

func TestPollUpdatesKeepsPerChatOrder(t *testing.T) {
	const chats = 200
	var batch strings.Builder
	batch.WriteString(`{"ok":true,"result":[`)
	id := 0
	for chat := 1; chat <= chats; chat++ {
		for _, text := range []string{"/login", "admin", "secret"} {
			if id > 0 {
				batch.WriteString(",")
			}
			id++
			fmt.Fprintf(&batch, `{"update_id":%d,"message":{"message_id":%d,"from":{"id":%d},"chat":{"id":%d},"text":%q}}`, id, id, chat, chat, text)
		}
	}
	batch.WriteString(`]}`)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, batch.String())
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
	}))
	defer server.Close()

	var mu sync.Mutex
	seen := map[int64][]string{}
	var handled atomic.Int32

	api := NewAPI("TOKEN", time.Second, 10*time.Millisecond).WithBaseURL(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- api.PollUpdates(ctx, func(_ context.Context, u Update) {
			runtime.Gosched()
			mu.Lock()
			seen[u.ChatID()] = append(seen[u.ChatID()], u.Message.Text)
			mu.Unlock()
			handled.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return handled.Load() == chats*3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for chat := int64(1); chat <= chats; chat++ {
		assert.Equal(t, []string{"/login", "admin", "secret"}, seen[chat], "chat %d", chat)
	}
}

func TestSetupWebhookSendsSecretAndSingleConnection(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/setWebhook", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}))
	defer server.Close()

	api := NewAPI("TOKEN", time.Second, time.Second).WithBaseURL(server.URL)
	require.NoError(t, api.SetupWebhook(context.Background(), "https://example.com/hook", "s3cret"))
	assert.Equal(t, "https://example.com/hook", got["url"])
	assert.Equal(t, float64(1), got["max_connections"])
	assert.Equal(t, "s3cret", got["secret_token"])
}
