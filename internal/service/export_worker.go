package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/ports"
)

// ExportWorker runs report generation off the message handlers. The bulkhead
// caps how many generations hit the courier database at once; there is no
// retry.
type ExportWorker struct {
	logger    *slog.Logger
	generator ports.ReportGenerator
	bulkhead  bulkhead.Bulkhead[struct{}]
	timeout   time.Duration
}

func NewExportWorker(logger *slog.Logger, generator ports.ReportGenerator, maxConcurrent int, timeout time.Duration) *ExportWorker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	queueTimeout := timeout
	if queueTimeout <= 0 {
		queueTimeout = 5 * time.Minute
	}
	return &ExportWorker{
		logger:    logger,
		generator: generator,
		bulkhead: bulkhead.New[struct{}](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
			MaxQueue:      maxConcurrent * 4,
			QueueTimeout:  queueTimeout,
		}),
		timeout: timeout,
	}
}

func (w *ExportWorker) Run(ctx context.Context, req domain.ReportRequest) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	started := time.Now()
	_, err := w.bulkhead.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.generator.Generate(ctx, req.Range.Start(), req.Range.End(), req.OutputPath)
	})
	elapsed := time.Since(started)

	if err != nil {
		w.logger.Error("report generation failed",
			"export_id", req.ID,
			"chat_id", req.SessionID,
			"range", req.Range.String(),
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return fmt.Errorf("generate %s: %w", req.Filename, err)
	}
	w.logger.Info("report generation finished",
		"export_id", req.ID,
		"chat_id", req.SessionID,
		"range", req.Range.String(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return nil
}
