package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/outputdir"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/ports"
)

// MaintenanceWindow is a daily clock interval, both ends inclusive, measured
// in seconds since local midnight. Start after End wraps past midnight.
type MaintenanceWindow struct {
	Start int
	End   int
}

func ParseMaintenanceWindow(start, end string) (MaintenanceWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return MaintenanceWindow{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return MaintenanceWindow{}, fmt.Errorf("window end: %w", err)
	}
	return MaintenanceWindow{Start: s, End: e}, nil
}

func parseClock(value string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("%q is not HH:MM", value)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q has an invalid hour", value)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q has an invalid minute", value)
	}
	return h*3600 + m*60, nil
}

// Contains compares whole seconds: 06:00:00 is inside a window ending at
// 06:00, 06:00:01 is not.
func (w MaintenanceWindow) Contains(t time.Time) bool {
	second := t.Hour()*3600 + t.Minute()*60 + t.Second()
	if w.Start <= w.End {
		return second >= w.Start && second <= w.End
	}
	return second >= w.Start || second <= w.End
}

func (w MaintenanceWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/3600, w.Start%3600/60, w.End/3600, w.End%3600/60)
}

// RetentionSweeper deletes the whole output directory when a tick lands inside
// the maintenance window.
type RetentionSweeper struct {
	logger   *slog.Logger
	dir      *outputdir.Dir
	loc      *time.Location
	window   MaintenanceWindow
	interval time.Duration
	sweeps   ports.SweepLogRepository
	now      func() time.Time
}

func NewRetentionSweeper(
	logger *slog.Logger,
	dir *outputdir.Dir,
	loc *time.Location,
	window MaintenanceWindow,
	interval time.Duration,
	sweeps ports.SweepLogRepository,
) *RetentionSweeper {
	if loc == nil {
		loc = time.Local
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{
		logger:   logger,
		dir:      dir,
		loc:      loc,
		window:   window,
		interval: interval,
		sweeps:   sweeps,
		now:      time.Now,
	}
}

func (s *RetentionSweeper) Window() MaintenanceWindow {
	return s.window
}

// Tick runs one sweep check. Failures are logged and reported through the
// outcome; they never propagate.
func (s *RetentionSweeper) Tick(ctx context.Context) domain.SweepOutcome {
	local := s.now().In(s.loc)
	if !s.window.Contains(local) {
		s.logger.Info("sweep skipped outside maintenance window", "local_time", local.Format("15:04:05"), "window", s.window.String())
		return domain.SweepSkipped
	}

	record := domain.SweepRecord{
		Path:      s.dir.Root(),
		LocalTime: local.Format(time.RFC3339),
	}

	err := s.dir.Purge()
	switch {
	case err == nil:
		record.Outcome = domain.SweepRemoved
		s.logger.Info("output directory removed", "path", record.Path)
	case errors.Is(err, outputdir.ErrMissing):
		record.Outcome = domain.SweepMissing
		s.logger.Warn("output directory not found", "path", record.Path)
	case errors.Is(err, fs.ErrPermission):
		record.Outcome = domain.SweepFailed
		record.Error = err.Error()
		s.logger.Error("no permission to remove output directory", "path", record.Path, "error", err)
	default:
		record.Outcome = domain.SweepFailed
		record.Error = err.Error()
		s.logger.Error("remove output directory failed", "path", record.Path, "error", err)
	}

	if s.sweeps != nil {
		if err := s.sweeps.RecordSweep(ctx, record); err != nil {
			s.logger.Warn("record sweep failed", "error", err)
		}
	}
	return record.Outcome
}

// Run ticks every interval until ctx is cancelled. The first tick fires after
// one full interval.
func (s *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started", "interval", s.interval.String(), "window", s.window.String(), "timezone", s.loc.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
