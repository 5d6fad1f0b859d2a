package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
	_ "modernc.org/sqlite"
)

const maxListLimit = 500

// SQLiteStore keeps the bot's own bookkeeping: export history, login attempts
// and sweep results. Courier data never lands here.
type SQLiteStore struct {
	db *sql.DB
}

func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS export_log (
			export_id TEXT PRIMARY KEY,
			telegram_chat_id INTEGER NOT NULL,
			telegram_user_id INTEGER NOT NULL,
			start_hour INTEGER NOT NULL,
			end_hour INTEGER NOT NULL,
			filename TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS auth_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_chat_id INTEGER NOT NULL,
			telegram_user_id INTEGER NOT NULL,
			success INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS sweep_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			outcome TEXT NOT NULL,
			path TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			local_time TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration query: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) RecordExportStarted(ctx context.Context, req domain.ReportRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_log (export_id, telegram_chat_id, telegram_user_id, start_hour, end_hour, filename, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(export_id) DO NOTHING;
	`, req.ID, req.SessionID, req.UserID, req.Range.Start(), req.Range.End(), req.Filename, string(domain.ExportStatusPending))
	return err
}

func (s *SQLiteStore) RecordExportFinished(ctx context.Context, exportID string, status domain.ExportStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE export_log
		SET status = ?, error = ?, finished_at = datetime('now')
		WHERE export_id = ?;
	`, string(status), errMsg, exportID)
	return err
}

func (s *SQLiteStore) ListRecentExports(ctx context.Context, limit int) ([]domain.ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT export_id, telegram_chat_id, telegram_user_id, start_hour, end_hour, filename, status, error, created_at, COALESCE(finished_at, '')
		FROM export_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?;
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ExportRecord, 0)
	for rows.Next() {
		var record domain.ExportRecord
		var status string
		if err := rows.Scan(&record.ID, &record.ChatID, &record.UserID, &record.StartHour, &record.EndHour, &record.Filename, &status, &record.Error, &record.CreatedAt, &record.FinishedAt); err != nil {
			return nil, err
		}
		record.Status = domain.ExportStatus(status)
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) RecordAuthAttempt(ctx context.Context, chatID int64, userID int64, success bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_attempts (telegram_chat_id, telegram_user_id, success, created_at)
		VALUES (?, ?, ?, datetime('now'));
	`, chatID, userID, success)
	return err
}

func (s *SQLiteStore) RecordSweep(ctx context.Context, record domain.SweepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_log (outcome, path, error, local_time, created_at)
		VALUES (?, ?, ?, ?, datetime('now'));
	`, string(record.Outcome), record.Path, record.Error, record.LocalTime)
	return err
}

func (s *SQLiteStore) ListRecentSweeps(ctx context.Context, limit int) ([]domain.SweepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, path, error, local_time, created_at
		FROM sweep_log
		ORDER BY id DESC
		LIMIT ?;
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SweepRecord, 0)
	for rows.Next() {
		var record domain.SweepRecord
		var outcome string
		if err := rows.Scan(&outcome, &record.Path, &record.Error, &record.LocalTime, &record.CreatedAt); err != nil {
			return nil, err
		}
		record.Outcome = domain.SweepOutcome(outcome)
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
