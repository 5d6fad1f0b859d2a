package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// SecretTokenHeader carries the secret_token given to setWebhook.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

type API struct {
	botToken        string
	baseURL         string
	client          *http.Client
	pollingInterval time.Duration
	maxWorkers      int
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      User   `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

func NewAPI(botToken string, timeout time.Duration, pollingInterval time.Duration) *API {
	if pollingInterval <= 0 {
		pollingInterval = 2 * time.Second
	}
	// Long polling holds the request open, so the client timeout has to
	// outlive the poll.
	minTimeout := time.Duration(longPollSeconds(pollingInterval)+10) * time.Second
	if timeout < minTimeout {
		timeout = minTimeout
	}
	return &API{
		botToken:        botToken,
		baseURL:         defaultBaseURL,
		client:          &http.Client{Timeout: timeout},
		pollingInterval: pollingInterval,
		maxWorkers:      8,
	}
}

// WithBaseURL points the client at another Bot API server (a local
// telegram-bot-api instance or a test server).
func (a *API) WithBaseURL(baseURL string) *API {
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

func (a *API) SendMessage(ctx context.Context, chatID int64, text string) error {
	body := map[string]any{"chat_id": chatID, "text": text}
	_, err := a.request(ctx, http.MethodPost, "sendMessage", body)
	return err
}

func (a *API) SendChatAction(ctx context.Context, chatID int64, action string) error {
	body := map[string]any{"chat_id": chatID, "action": action}
	_, err := a.request(ctx, http.MethodPost, "sendChatAction", body)
	return err
}

// SendDocument uploads the file at filePath as a document attachment.
func (a *API) SendDocument(ctx context.Context, chatID int64, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	part, err := form.CreateFormFile("document", filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}
	if err := form.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("sendDocument"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", form.FormDataContentType())
	_, err = a.do(req)
	return err
}

func (a *API) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	_, err := a.request(ctx, http.MethodPost, "setMyCommands", map[string]any{"commands": commands})
	return err
}

// PollUpdates long-polls getUpdates and hands each update to handler on a
// bounded set of goroutines. Updates from the same chat run one after another
// in the order Telegram returned them; different chats run concurrently.
func (a *API) PollUpdates(ctx context.Context, handler func(context.Context, Update)) error {
	var offset int64
	workers := make(chan struct{}, a.maxWorkers)
	chains := newChatChains()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := a.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			select {
			case workers <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			// The chat's slot is taken here, on the loop goroutine, so arrival
			// order is fixed before any handler starts.
			previous, done := chains.enqueue(update.ChatID())
			go func(u Update) {
				defer func() { <-workers }()
				defer chains.finish(u.ChatID(), done)
				if previous != nil {
					<-previous
				}
				handler(ctx, u)
			}(update)
		}

		if len(updates) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(a.pollingInterval):
			}
		}
	}
}

// ChatID is the chat the update belongs to, or 0 when it carries no message.
func (u Update) ChatID() int64 {
	if u.Message == nil {
		return 0
	}
	return u.Message.Chat.ID
}

type chatChains struct {
	mu    sync.Mutex
	tails map[int64]chan struct{}
}

func newChatChains() *chatChains {
	return &chatChains{tails: map[int64]chan struct{}{}}
}

func (c *chatChains) enqueue(chatID int64) (previous, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.tails[chatID]
	done = make(chan struct{})
	c.tails[chatID] = done
	return previous, done
}

func (c *chatChains) finish(chatID int64, done chan struct{}) {
	close(done)
	c.mu.Lock()
	if c.tails[chatID] == done {
		delete(c.tails, chatID)
	}
	c.mu.Unlock()
}

// SetupWebhook registers webhookURL. max_connections is 1 so Telegram delivers
// one update at a time and per-chat order survives; secretToken comes back in
// the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (a *API) SetupWebhook(ctx context.Context, webhookURL string, secretToken string) error {
	body := map[string]any{
		"url":             webhookURL,
		"allowed_updates": []string{"message"},
		"max_connections": 1,
	}
	if secretToken != "" {
		body["secret_token"] = secretToken
	}
	_, err := a.request(ctx, http.MethodPost, "setWebhook", body)
	return err
}

func (a *API) DeleteWebhook(ctx context.Context) error {
	_, err := a.request(ctx, http.MethodPost, "deleteWebhook", map[string]bool{"drop_pending_updates": false})
	return err
}

func (a *API) WebhookPath(webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return "/telegram/webhook"
	}
	p := strings.TrimSpace(parsed.Path)
	if p == "" {
		return "/telegram/webhook"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return path.Clean(p)
}

func (a *API) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         longPollSeconds(a.pollingInterval),
		"allowed_updates": []string{"message"},
	}
	raw, err := a.request(ctx, http.MethodPost, "getUpdates", body)
	if err != nil {
		return nil, err
	}

	var payload struct {
		OK     bool     `json:"ok"`
		Result []Update `json:"result"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if !payload.OK {
		return nil, fmt.Errorf("telegram getUpdates failed")
	}
	return payload.Result, nil
}

func longPollSeconds(interval time.Duration) int {
	seconds := int(interval / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if seconds > 50 {
		seconds = 50
	}
	return seconds
}

func (a *API) ParseWebhookUpdate(body []byte) (Update, error) {
	var update Update
	err := json.Unmarshal(body, &update)
	return update, err
}

func (a *API) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.botToken, method)
}

func (a *API) request(ctx context.Context, method string, endpoint string, body any) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.endpoint(endpoint), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.do(req)
}

func (a *API) do(req *http.Request) ([]byte, error) {
	res, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, readErr := io.ReadAll(res.Body)
	if readErr != nil {
		return nil, readErr
	}
	if res.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fmt.Sprintf("telegram status %d", res.StatusCode)
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return raw, nil
}
