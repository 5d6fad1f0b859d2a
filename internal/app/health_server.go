package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/config"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/outputdir"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/ports"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/telegram"
)

var ErrServerClosed = http.ErrServerClosed

type Pinger interface {
	Ping(ctx context.Context) error
}

type Sweeper interface {
	Tick(ctx context.Context) domain.SweepOutcome
}

type SessionCounter interface {
	Len() int
}

// HealthDeps are the components the ops server reports on. Nil members are
// reported as unavailable.
type HealthDeps struct {
	Courier       Pinger
	TelegramCheck func(ctx context.Context) error
	Outputs       *outputdir.Dir
	Sessions      SessionCounter
	Exports       ports.ExportLogRepository
	Sweeps        ports.SweepLogRepository
	Sweeper       Sweeper
}

type HealthServer struct {
	cfg        config.Config
	logger     *slog.Logger
	deps       HealthDeps
	router     chi.Router
	httpServer *http.Server
	startedAt  time.Time
}

type serviceCheck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type outputCheck struct {
	serviceCheck
	Path  string `json:"path"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

type healthResponse struct {
	UptimeSeconds int64        `json:"uptimeSeconds"`
	Telegram      serviceCheck `json:"telegram"`
	CourierDB     serviceCheck `json:"courierDb"`
	OutputDir     outputCheck  `json:"outputDir"`
	Sessions      int          `json:"sessions"`
	Transport     string       `json:"transport"`
}

func NewHealthServer(cfg config.Config, logger *slog.Logger, deps HealthDeps) *HealthServer {
	server := &HealthServer{cfg: cfg, logger: logger, deps: deps, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", server.healthHandler)
	r.Get("/exports", server.exportsHandler)
	r.Get("/sweeps", server.sweepsHandler)
	r.Post("/sweep", server.sweepHandler)
	server.router = r

	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

func (s *HealthServer) Handler() http.Handler {
	return s.router
}

func (s *HealthServer) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *HealthServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := healthResponse{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Transport:     s.cfg.BotTransport,
	}
	if s.deps.Sessions != nil {
		res.Sessions = s.deps.Sessions.Len()
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if s.deps.TelegramCheck == nil {
			res.Telegram = checkFromErr(errors.New("not configured"))
			return
		}
		res.Telegram = checkFromErr(s.deps.TelegramCheck(ctx))
	}()

	go func() {
		defer wg.Done()
		if s.deps.Courier == nil {
			res.CourierDB = checkFromErr(errors.New("not configured"))
			return
		}
		res.CourierDB = checkFromErr(s.deps.Courier.Ping(ctx))
	}()

	if s.deps.Outputs != nil {
		files, size, err := s.deps.Outputs.Usage()
		res.OutputDir = outputCheck{serviceCheck: checkFromErr(err), Path: s.deps.Outputs.Root(), Files: files, Bytes: size}
	} else {
		res.OutputDir = outputCheck{serviceCheck: checkFromErr(errors.New("not configured"))}
	}

	wg.Wait()

	s.writeJSON(w, http.StatusOK, res)
}

func (s *HealthServer) exportsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exports == nil {
		http.Error(w, "export log unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := s.deps.Exports.ListRecentExports(r.Context(), limit)
	if err != nil {
		s.logger.Error("list exports failed", "error", err)
		http.Error(w, "list exports failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"exports": records})
}

func (s *HealthServer) sweepsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeps == nil {
		http.Error(w, "sweep log unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := s.deps.Sweeps.ListRecentSweeps(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sweeps failed", "error", err)
		http.Error(w, "list sweeps failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sweeps": records})
}

// sweepHandler runs one tick now. The maintenance window still applies.
func (s *HealthServer) sweepHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		http.Error(w, "sweeper unavailable", http.StatusServiceUnavailable)
		return
	}
	outcome := s.deps.Sweeper.Tick(r.Context())
	s.logger.Info("manual sweep requested", "outcome", string(outcome))
	s.writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// WebhookHandler serves Telegram webhook deliveries at path. Requests whose
// secret token header does not match secretToken are rejected.
func WebhookHandler(api *telegram.API, path string, secretToken string, handle func(context.Context, telegram.Update)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(path, func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(telegram.SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secretToken)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		update, err := api.ParseWebhookUpdate(body)
		if err != nil {
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		handle(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

func (s *HealthServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode json response failed", "error", err)
	}
}

func checkFromErr(err error) serviceCheck {
	if err == nil {
		return serviceCheck{OK: true}
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown error"
	}
	return serviceCheck{OK: false, Error: msg}
}

func IsServerClosed(err error) bool {
	return errors.Is(err, ErrServerClosed)
}
