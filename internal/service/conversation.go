package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/auth"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/outputdir"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/ports"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/telegram"
)

type EventKind int

const (
	EventText EventKind = iota
	EventStart
	EventLogin
	EventExport
	EventCancel
	EventWhoAmI
	EventUnknownCommand
	// EventGenerated is raised internally when a report generation returns.
	EventGenerated
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventStart:
		return "start"
	case EventLogin:
		return "login"
	case EventExport:
		return "export"
	case EventCancel:
		return "cancel"
	case EventWhoAmI:
		return "whoami"
	case EventUnknownCommand:
		return "unknown_command"
	case EventGenerated:
		return "generated"
	default:
		return "unknown"
	}
}

var commandEvents = map[string]EventKind{
	"start":  EventStart,
	"login":  EventLogin,
	"export": EventExport,
	"cancel": EventCancel,
	"whoami": EventWhoAmI,
}

// Commands is what the bot advertises through setMyCommands.
var Commands = []telegram.BotCommand{
	{Command: "login", Description: "Авторизация"},
	{Command: "export", Description: "Выгрузка в Excel за диапазон часов"},
	{Command: "cancel", Description: "Отменить текущее действие"},
	{Command: "whoami", Description: "Статус авторизации"},
}

type Event struct {
	Kind   EventKind
	ChatID int64
	UserID int64
	Text   string
	Args   []string
	Result *ExportResult
}

type ExportResult struct {
	Request domain.ReportRequest
	Err     error
}

type transitionKey struct {
	state domain.FlowState
	kind  EventKind
}

// transition handles one event and returns the session's next state.
type transition func(ctx context.Context, sess *domain.Session, ev Event) domain.FlowState

// ConversationEngine drives the login and export flows for every chat.
type ConversationEngine struct {
	logger      *slog.Logger
	telegramAPI ports.TelegramClient
	worker      *ExportWorker
	outputs     *outputdir.Dir
	credentials auth.Credentials
	parser      domain.RangeParser
	exports     ports.ExportLogRepository
	attempts    ports.AuthAttemptRepository
	sessions    *SessionStore
	queue       *KeyedQueue
	now         func() time.Time
	newID       func() string

	transitions map[transitionKey]transition
	anyState    map[EventKind]transition
	inflight    sync.WaitGroup
}

func NewConversationEngine(
	logger *slog.Logger,
	telegramClient ports.TelegramClient,
	worker *ExportWorker,
	outputs *outputdir.Dir,
	credentials auth.Credentials,
	parser domain.RangeParser,
	exports ports.ExportLogRepository,
	attempts ports.AuthAttemptRepository,
) *ConversationEngine {
	e := &ConversationEngine{
		logger:      logger,
		telegramAPI: telegramClient,
		worker:      worker,
		outputs:     outputs,
		credentials: credentials,
		parser:      parser,
		exports:     exports,
		attempts:    attempts,
		sessions:    NewSessionStore(),
		queue:       NewKeyedQueue(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	e.transitions = e.buildTransitions()
	e.anyState = map[EventKind]transition{
		EventStart:  e.greet,
		EventWhoAmI: e.whoAmI,
	}
	return e
}

func (e *ConversationEngine) buildTransitions() map[transitionKey]transition {
	t := map[transitionKey]transition{
		{domain.StateIdle, EventCancel}: e.nothingToCancel,

		{domain.StateAwaitingLogin, EventText}:    e.acceptLogin,
		{domain.StateAwaitingPassword, EventText}: e.acceptPassword,
		{domain.StateAwaitingRange, EventText}:    e.acceptRange,

		{domain.StateGenerating, EventText}:      e.busy,
		{domain.StateGenerating, EventLogin}:     e.busy,
		{domain.StateGenerating, EventExport}:    e.busy,
		{domain.StateGenerating, EventCancel}:    e.cannotCancel,
		{domain.StateGenerating, EventGenerated}: e.finishExport,
	}

	// Entry commands restart from any state that is not waiting on a report.
	for _, st := range []domain.FlowState{domain.StateIdle, domain.StateAwaitingLogin, domain.StateAwaitingPassword, domain.StateAwaitingRange} {
		t[transitionKey{st, EventLogin}] = e.beginLogin
		t[transitionKey{st, EventExport}] = e.beginExport
	}
	for _, st := range []domain.FlowState{domain.StateAwaitingLogin, domain.StateAwaitingPassword, domain.StateAwaitingRange} {
		t[transitionKey{st, EventCancel}] = e.cancel
	}
	return t
}

func (e *ConversationEngine) HandleUpdate(ctx context.Context, update telegram.Update) {
	if update.Message == nil {
		return
	}
	message := update.Message
	if message.From.ID == 0 || message.Chat.ID == 0 {
		return
	}

	if strings.TrimSpace(message.Text) == "" {
		return
	}

	// Text stays as sent: the password is compared verbatim. Handlers that
	// want trimmed input trim it themselves.
	ev := Event{ChatID: message.Chat.ID, UserID: message.From.ID, Text: message.Text, Kind: EventText}
	if name, args, ok := telegram.ParseCommand(message.Text); ok {
		ev.Args = args
		if kind, known := commandEvents[name]; known {
			ev.Kind = kind
		} else {
			ev.Kind = EventUnknownCommand
		}
	}

	err := e.queue.Run(ctx, ev.ChatID, func(ctx context.Context) error {
		e.dispatch(ctx, ev)
		return nil
	})
	if err != nil {
		e.logger.Error("handle update failed", "error", err, "chat_id", ev.ChatID, "event", ev.Kind.String())
	}
}

func (e *ConversationEngine) dispatch(ctx context.Context, ev Event) {
	sess := e.sessions.Get(ev.ChatID, ev.UserID)

	fn, ok := e.transitions[transitionKey{sess.State, ev.Kind}]
	if !ok {
		fn, ok = e.anyState[ev.Kind]
	}
	if !ok {
		e.logger.Debug("event ignored", "chat_id", ev.ChatID, "state", sess.State.String(), "event", ev.Kind.String())
		return
	}

	from := sess.State
	next := fn(ctx, sess, ev)
	sess.State = next
	sess.UpdatedAt = e.now()
	if next != from {
		e.logger.Debug("session transition", "chat_id", ev.ChatID, "from", from.String(), "to", next.String(), "event", ev.Kind.String())
	}
}

// Wait blocks until every dispatched generation has been delivered or ctx ends.
func (e *ConversationEngine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *ConversationEngine) Sessions() *SessionStore {
	return e.sessions
}

func (e *ConversationEngine) greet(ctx context.Context, sess *domain.Session, _ Event) domain.FlowState {
	e.reply(ctx, sess.ID, msgGreeting)
	return sess.State
}

func (e *ConversationEngine) whoAmI(ctx context.Context, sess *domain.Session, _ Event) domain.FlowState {
	if sess.Authenticated {
		e.reply(ctx, sess.ID, msgWhoAmIAuthed)
	} else {
		e.reply(ctx, sess.ID, msgWhoAmIAnon)
	}
	return sess.State
}

func (e *ConversationEngine) cancel(ctx context.Context, sess *domain.Session, _ Event) domain.FlowState {
	sess.PendingLogin = ""
	e.reply(ctx, sess.ID, msgCancelled)
	return domain.StateIdle
}

func (e *ConversationEngine) nothingToCancel(ctx context.Context, sess *domain.Session, _ Event) domain.FlowState {
	e.reply(ctx, sess.ID, msgNothingToCancel)
	return domain.StateIdle
}

func (e *ConversationEngine) busy(ctx context.Context, sess *domain.Session, _ Event) domain.FlowState {
	e.reply(ctx, sess.ID, msgBusy)
	return sess.State
}

func (e *ConversationEngine) cannotCancel(ctx context.Context, sess *domain.Session, _ Event) domain.FlowState {
	e.reply(ctx, sess.ID, msgCannotCancel)
	return sess.State
}

func (e *ConversationEngine) beginLogin(ctx context.Context, sess *domain.Session, _ Event) domain.FlowState {
	sess.PendingLogin = ""
	e.reply(ctx, sess.ID, msgAskLogin)
	return domain.StateAwaitingLogin
}

func (e *ConversationEngine) acceptLogin(ctx context.Context, sess *domain.Session, ev Event) domain.FlowState {
	sess.PendingLogin = strings.TrimSpace(ev.Text)
	e.reply(ctx, sess.ID, msgAskPassword)
	return domain.StateAwaitingPassword
}

// acceptPassword never clears an earlier successful login: a failed attempt
// only withholds a new grant.
func (e *ConversationEngine) acceptPassword(ctx context.Context, sess *domain.Session, ev Event) domain.FlowState {
	login := sess.PendingLogin
	sess.PendingLogin = ""

	err := e.credentials.Verify(login, ev.Text)
	success := err == nil
	e.recordAuthAttempt(ctx, sess, ev.UserID, success)

	if !success {
		e.logger.Warn("login rejected", "chat_id", sess.ID, "user_id", ev.UserID)
		e.reply(ctx, sess.ID, msgAuthFailed)
		return domain.StateIdle
	}

	sess.Authenticated = true
	e.logger.Info("login accepted", "chat_id", sess.ID, "user_id", ev.UserID)
	e.reply(ctx, sess.ID, msgAuthOK)
	return domain.StateIdle
}

func (e *ConversationEngine) beginExport(ctx context.Context, sess *domain.Session, ev Event) domain.FlowState {
	if !sess.Authenticated {
		e.reply(ctx, sess.ID, msgAuthRequired)
		return sess.State
	}
	sess.PendingLogin = ""

	// "/export 14-17" skips the prompt.
	if len(ev.Args) > 0 {
		ev.Text = strings.Join(ev.Args, " ")
		return e.acceptRange(ctx, sess, ev)
	}

	e.reply(ctx, sess.ID, msgAskRange)
	return domain.StateAwaitingRange
}

func (e *ConversationEngine) acceptRange(ctx context.Context, sess *domain.Session, ev Event) domain.FlowState {
	r, err := e.parser.Parse(ev.Text)
	if err != nil {
		var inputErr *domain.RangeInputError
		reason := err.Error()
		if errors.As(err, &inputErr) {
			reason = inputErr.Reason
		}
		e.reply(ctx, sess.ID, fmt.Sprintf(msgRangeRetry, reason))
		return domain.StateAwaitingRange
	}
	sess.LastRange = &r

	id := e.newID()
	filename := r.Filename()
	outputPath, err := e.outputs.PathFor(id, filename)
	if err != nil {
		e.logger.Error("build output path failed", "error", err, "export_id", id)
		e.reply(ctx, sess.ID, msgFileNotFound)
		return domain.StateIdle
	}

	req := domain.ReportRequest{
		ID:          id,
		SessionID:   sess.ID,
		UserID:      ev.UserID,
		Range:       r,
		Filename:    filename,
		OutputPath:  outputPath,
		RequestedAt: e.now(),
	}

	e.reply(ctx, sess.ID, fmt.Sprintf(msgGenerating, filename))
	e.startExport(ctx, req)
	return domain.StateGenerating
}

// startExport generates the report in the background and feeds the result
// back through the chat's queue as EventGenerated. The output lease is held
// until the file has been delivered.
func (e *ConversationEngine) startExport(ctx context.Context, req domain.ReportRequest) {
	ctx = context.WithoutCancel(ctx)
	if e.exports != nil {
		if err := e.exports.RecordExportStarted(ctx, req); err != nil {
			e.logger.Warn("record export start failed", "error", err, "export_id", req.ID)
		}
	}

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()

		release := e.outputs.Lease()
		defer release()

		var genErr error
		if err := e.outputs.Prepare(req.OutputPath); err != nil {
			genErr = fmt.Errorf("prepare output directory: %w", err)
		} else {
			genErr = e.worker.Run(ctx, req)
		}

		ev := Event{
			Kind:   EventGenerated,
			ChatID: req.SessionID,
			UserID: req.UserID,
			Result: &ExportResult{Request: req, Err: genErr},
		}
		if err := e.queue.Run(ctx, req.SessionID, func(ctx context.Context) error {
			e.dispatch(ctx, ev)
			return nil
		}); err != nil {
			e.logger.Error("deliver export result failed", "error", err, "export_id", req.ID)
		}
	}()
}

func (e *ConversationEngine) finishExport(ctx context.Context, sess *domain.Session, ev Event) domain.FlowState {
	if ev.Result == nil {
		return domain.StateIdle
	}
	req := ev.Result.Request

	errMsg := ""
	if ev.Result.Err != nil {
		errMsg = ev.Result.Err.Error()
	}

	// The file on disk is the only success signal; a generator error with a
	// file present still delivers the file.
	status := domain.ExportStatusDelivered
	if e.outputs.Exists(req.OutputPath) {
		if err := e.telegramAPI.SendDocument(ctx, sess.ID, req.OutputPath); err != nil {
			e.logger.Error("send document failed", "error", err, "chat_id", sess.ID, "export_id", req.ID)
			e.reply(ctx, sess.ID, msgSendFailed)
			status = domain.ExportStatusSendFailed
			errMsg = err.Error()
		}
	} else {
		e.logger.Warn("export file missing", "chat_id", sess.ID, "export_id", req.ID, "path", req.OutputPath)
		e.reply(ctx, sess.ID, msgFileNotFound)
		status = domain.ExportStatusNotFound
	}

	if e.exports != nil {
		if err := e.exports.RecordExportFinished(ctx, req.ID, status, errMsg); err != nil {
			e.logger.Warn("record export finish failed", "error", err, "export_id", req.ID)
		}
	}
	return domain.StateIdle
}

func (e *ConversationEngine) recordAuthAttempt(ctx context.Context, sess *domain.Session, userID int64, success bool) {
	if e.attempts == nil {
		return
	}
	if err := e.attempts.RecordAuthAttempt(ctx, sess.ID, userID, success); err != nil {
		e.logger.Warn("record auth attempt failed", "error", err, "chat_id", sess.ID)
	}
}

func (e *ConversationEngine) reply(ctx context.Context, chatID int64, text string) {
	if err := e.telegramAPI.SendMessage(ctx, chatID, text); err != nil {
		e.logger.Error("send message failed", "error", err, "chat_id", chatID)
	}
}
