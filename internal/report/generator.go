package report

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
)

func OpenDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("opening courier database: %w", err)
	}
	db.SetMaxOpenConns(cfg.ReportMaxConcurrent)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Generator queries the courier database and writes the spreadsheet.
type Generator struct {
	db     *sql.DB
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

func NewGenerator(db *sql.DB, loc *time.Location, logger *slog.Logger) *Generator {
	if loc == nil {
		loc = time.Local
	}
	return &Generator{db: db, loc: loc, logger: logger, now: time.Now}
}

func (g *Generator) Generate(ctx context.Context, startHour, endHour int, outputPath string) error {
	window := DayWindow(g.now(), g.loc, startHour, endHour)

	stats, err := FetchCourierStats(ctx, g.db, window)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := WriteWorkbook(outputPath, stats); err != nil {
		return err
	}

	g.logger.Info("report written",
		"path", outputPath,
		"rows", len(stats),
		"from", window.From.Format(time.DateTime),
		"to", window.To.Format(time.DateTime),
	)
	return nil
}

func (g *Generator) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}
