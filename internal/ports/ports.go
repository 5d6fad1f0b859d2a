package ports

import (
	"context"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, filePath string) error
}

// ReportGenerator writes a spreadsheet to outputPath. Callers treat a missing
// file after return as the failure signal; the error is for logs only.
type ReportGenerator interface {
	Generate(ctx context.Context, startHour, endHour int, outputPath string) error
}

type ExportLogRepository interface {
	RecordExportStarted(ctx context.Context, req domain.ReportRequest) error
	RecordExportFinished(ctx context.Context, exportID string, status domain.ExportStatus, errMsg string) error
	ListRecentExports(ctx context.Context, limit int) ([]domain.ExportRecord, error)
}

type AuthAttemptRepository interface {
	RecordAuthAttempt(ctx context.Context, chatID int64, userID int64, success bool) error
}

type SweepLogRepository interface {
	RecordSweep(ctx context.Context, record domain.SweepRecord) error
	ListRecentSweeps(ctx context.Context, limit int) ([]domain.SweepRecord, error)
}
