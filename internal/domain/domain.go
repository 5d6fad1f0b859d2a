package domain

import "time"

type FlowState int

const (
	StateIdle FlowState = iota
	StateAwaitingLogin
	StateAwaitingPassword
	StateAwaitingRange
	StateGenerating
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLogin:
		return "awaiting_login"
	case StateAwaitingPassword:
		return "awaiting_password"
	case StateAwaitingRange:
		return "awaiting_range"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// Session is the per-chat conversational state. It is only mutated from the
// handler that currently owns the chat's queue slot.
type Session struct {
	ID            int64
	UserID        int64
	State         FlowState
	Authenticated bool
	PendingLogin  string
	LastRange     *TimeRange
	UpdatedAt     time.Time
}

type ReportRequest struct {
	ID          string
	SessionID   int64
	UserID      int64
	Range       TimeRange
	Filename    string
	OutputPath  string
	RequestedAt time.Time
}

type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "pending"
	ExportStatusDelivered  ExportStatus = "delivered"
	ExportStatusNotFound   ExportStatus = "not_found"
	ExportStatusSendFailed ExportStatus = "send_failed"
)

type ExportRecord struct {
	ID         string       `json:"id"`
	ChatID     int64        `json:"chatId"`
	UserID     int64        `json:"userId"`
	StartHour  int          `json:"startHour"`
	EndHour    int          `json:"endHour"`
	Filename   string       `json:"filename"`
	Status     ExportStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  string       `json:"createdAt"`
	FinishedAt string       `json:"finishedAt,omitempty"`
}

type SweepOutcome string

const (
	SweepSkipped SweepOutcome = "skipped"
	SweepRemoved SweepOutcome = "removed"
	SweepMissing SweepOutcome = "missing"
	SweepFailed  SweepOutcome = "failed"
)

type SweepRecord struct {
	Outcome   SweepOutcome `json:"outcome"`
	Path      string       `json:"path"`
	Error     string       `json:"error,omitempty"`
	LocalTime string       `json:"localTime"`
	CreatedAt string       `json:"createdAt"`
}
