package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/config"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/logging"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/outputdir"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/telegram"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubSessions int

func (s stubSessions) Len() int { return int(s) }

type stubSweeper struct {
	calls   int
	outcome domain.SweepOutcome
}

func (s *stubSweeper) Tick(context.Context) domain.SweepOutcome {
	s.calls++
	return s.outcome
}

type stubLog struct {
	exports   []domain.ExportRecord
	sweeps    []domain.SweepRecord
	lastLimit int
	err       error
}

func (l *stubLog) RecordExportStarted(context.Context, domain.ReportRequest) error { return nil }
func (l *stubLog) RecordExportFinished(context.Context, string, domain.ExportStatus, string) error {
	return nil
}
func (l *stubLog) ListRecentExports(_ context.Context, limit int) ([]domain.ExportRecord, error) {
	l.lastLimit = limit
	return l.exports, l.err
}
func (l *stubLog) RecordSweep(context.Context, domain.SweepRecord) error { return nil }
func (l *stubLog) ListRecentSweeps(_ context.Context, limit int) ([]domain.SweepRecord, error) {
	l.lastLimit = limit
	return l.sweeps, l.err
}

func newTestServer(deps HealthDeps) *HealthServer {
	return NewHealthServer(config.Config{BotTransport: "polling", HealthPort: 4098}, logging.Discard(), deps)
}

func serve(t *testing.T, s *HealthServer, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthReportsChecks(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "op"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "op", "a.xlsx"), []byte("12345"), 0o644))

	s := newTestServer(HealthDeps{
		Courier:       stubPinger{err: errors.New("connection refused")},
		TelegramCheck: func(context.Context) error { return nil },
		Outputs:       outputdir.New(root),
		Sessions:      stubSessions(3),
	})

	rec := serve(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Telegram.OK)
	assert.False(t, body.CourierDB.OK)
	assert.Equal(t, "connection refused", body.CourierDB.Error)
	assert.True(t, body.OutputDir.OK)
	assert.Equal(t, 1, body.OutputDir.Files)
	assert.Equal(t, int64(5), body.OutputDir.Bytes)
	assert.Equal(t, 3, body.Sessions)
	assert.Equal(t, "polling", body.Transport)
}

func TestHealthWithoutDeps(t *testing.T) {
	rec := serve(t, newTestServer(HealthDeps{}), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Telegram.OK)
	assert.False(t, body.CourierDB.OK)
	assert.False(t, body.OutputDir.OK)
}

func TestExportsEndpoint(t *testing.T) {
	log := &stubLog{exports: []domain.ExportRecord{{ID: "op-1", Filename: "courier_data_14-17.xlsx", Status: domain.ExportStatusDelivered}}}
	s := newTestServer(HealthDeps{Exports: log})

	rec := serve(t, s, http.MethodGet, "/exports?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, log.lastLimit)

	var body struct {
		Exports []domain.ExportRecord `json:"exports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Exports, 1)
	assert.Equal(t, "op-1", body.Exports[0].ID)

	assert.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodGet, "/exports?limit=abc").Code)
}

func TestExportsEndpointUnavailable(t *testing.T) {
	rec := serve(t, newTestServer(HealthDeps{}), http.MethodGet, "/exports")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSweepsEndpoint(t *testing.T) {
	log := &stubLog{sweeps: []domain.SweepRecord{{Outcome: domain.SweepRemoved, Path: "/data"}}}
	rec := serve(t, newTestServer(HealthDeps{Sweeps: log}), http.MethodGet, "/sweeps")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"removed"`)
}

func TestManualSweep(t *testing.T) {
	sweeper := &stubSweeper{outcome: domain.SweepSkipped}
	s := newTestServer(HealthDeps{Sweeper: sweeper})

	rec := serve(t, s, http.MethodPost, "/sweep")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sweeper.calls)
	assert.Contains(t, rec.Body.String(), `"outcome":"skipped"`)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, s, http.MethodGet, "/sweep").Code)
}

func TestWebhookHandler(t *testing.T) {
	api := telegram.NewAPI("TOKEN", 0, 0)
	var got telegram.Update
	h := WebhookHandler(api, "/telegram/webhook", "s3cret", func(_ context.Context, u telegram.Update) { got = u })

	post := func(secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
		if secret != "" {
			req.Header.Set(telegram.SecretTokenHeader, secret)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	body := `{"update_id":1,"message":{"message_id":2,"from":{"id":5},"chat":{"id":9},"text":"/login"}}`
	rec := post("s3cret", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.Message)
	assert.Equal(t, "/login", got.Message.Text)

	assert.Equal(t, http.StatusBadRequest, post("s3cret", "{").Code)
}

func TestWebhookHandlerRejectsWrongSecret(t *testing.T) {
	api := telegram.NewAPI("TOKEN", 0, 0)
	called := false
	h := WebhookHandler(api, "/telegram/webhook", "s3cret", func(context.Context, telegram.Update) { called = true })

	body := `{"update_id":1,"message":{"message_id":2,"from":{"id":5},"chat":{"id":9},"text":"/login"}}`
	for _, secret := range []string{"", "guess"} {
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
		if secret != "" {
			req.Header.Set(telegram.SecretTokenHeader, secret)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, secret)
	}
	assert.False(t, called)
}
