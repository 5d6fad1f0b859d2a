package service

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/logging"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/outputdir"
)

type testSweepLog struct {
	mu      sync.Mutex
	records []domain.SweepRecord
}

func (r *testSweepLog) RecordSweep(_ context.Context, record domain.SweepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *testSweepLog) ListRecentSweeps(context.Context, int) ([]domain.SweepRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SweepRecord(nil), r.records...), nil
}

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return loc
}

func newTestSweeper(t *testing.T, root string, at time.Time) (*RetentionSweeper, *testSweepLog) {
	t.Helper()
	window, err := ParseMaintenanceWindow("03:30", "06:00")
	require.NoError(t, err)
	sweeps := &testSweepLog{}
	s := NewRetentionSweeper(logging.Discard(), outputdir.New(root), moscow(t), window, time.Hour, sweeps)
	s.now = func() time.Time { return at }
	return s, sweeps
}

func TestParseMaintenanceWindow(t *testing.T) {
	w, err := ParseMaintenanceWindow("03:30", "06:00")
	require.NoError(t, err)
	assert.Equal(t, MaintenanceWindow{Start: 3*3600 + 30*60, End: 6 * 3600}, w)
	assert.Equal(t, "03:30-06:00", w.String())

	for _, bad := range [][2]string{{"3", "06:00"}, {"24:00", "06:00"}, {"03:30", "06:60"}, {"aa:bb", "06:00"}} {
		_, err := ParseMaintenanceWindow(bad[0], bad[1])
		assert.Error(t, err, bad)
	}
}

func TestMaintenanceWindowContains(t *testing.T) {
	w, err := ParseMaintenanceWindow("03:30", "06:00")
	require.NoError(t, err)
	at := func(h, m, s int) time.Time { return time.Date(2024, 5, 1, h, m, s, 0, time.UTC) }

	assert.True(t, w.Contains(at(3, 30, 0)))
	assert.True(t, w.Contains(at(4, 0, 0)))
	assert.True(t, w.Contains(at(6, 0, 0)))
	assert.False(t, w.Contains(at(3, 29, 59)))
	assert.False(t, w.Contains(at(6, 0, 1)))
	assert.False(t, w.Contains(at(6, 0, 59)))
	assert.False(t, w.Contains(at(10, 0, 0)))

	overnight, err := ParseMaintenanceWindow("23:00", "01:00")
	require.NoError(t, err)
	assert.True(t, overnight.Contains(at(23, 30, 0)))
	assert.True(t, overnight.Contains(at(0, 30, 0)))
	assert.True(t, overnight.Contains(at(1, 0, 0)))
	assert.False(t, overnight.Contains(at(1, 0, 1)))
	assert.False(t, overnight.Contains(at(12, 0, 0)))
}

func TestSweepInsideWindowRemovesDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "op"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "op", "courier_data_1-2.xlsx"), []byte("x"), 0o644))

	s, sweeps := newTestSweeper(t, root, time.Date(2024, 5, 1, 4, 0, 0, 0, moscow(t)))

	assert.Equal(t, domain.SweepRemoved, s.Tick(context.Background()))
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	require.Len(t, sweeps.records, 1)
	assert.Equal(t, domain.SweepRemoved, sweeps.records[0].Outcome)
	assert.Equal(t, root, sweeps.records[0].Path)
}

func TestSweepOutsideWindowKeepsDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(root, 0o755))

	s, sweeps := newTestSweeper(t, root, time.Date(2024, 5, 1, 10, 0, 0, 0, moscow(t)))

	assert.Equal(t, domain.SweepSkipped, s.Tick(context.Background()))
	_, err := os.Stat(root)
	assert.NoError(t, err)
	assert.Empty(t, sweeps.records)
}

func TestSweepSkipIsLoggedAtInfo(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	s, _ := newTestSweeper(t, root, time.Date(2024, 5, 1, 10, 0, 0, 0, moscow(t)))
	var buf bytes.Buffer
	s.logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	assert.Equal(t, domain.SweepSkipped, s.Tick(context.Background()))
	assert.Contains(t, buf.String(), `"msg":"sweep skipped outside maintenance window"`)
	assert.Contains(t, buf.String(), `"local_time":"10:00:00"`)
}

func TestSweepJustAfterWindowEnd(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(root, 0o755))

	s, _ := newTestSweeper(t, root, time.Date(2024, 5, 1, 6, 0, 30, 0, moscow(t)))
	assert.Equal(t, domain.SweepSkipped, s.Tick(context.Background()))
	assert.DirExists(t, root)
}

func TestSweepUsesConfiguredZone(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(root, 0o755))

	// 01:00 UTC is 04:00 in Moscow.
	s, _ := newTestSweeper(t, root, time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC))
	assert.Equal(t, domain.SweepRemoved, s.Tick(context.Background()))
}

func TestSweepMissingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "absent")
	s, sweeps := newTestSweeper(t, root, time.Date(2024, 5, 1, 5, 0, 0, 0, moscow(t)))

	assert.Equal(t, domain.SweepMissing, s.Tick(context.Background()))
	require.Len(t, sweeps.records, 1)
	assert.Equal(t, domain.SweepMissing, sweeps.records[0].Outcome)
}

func TestSweepWaitsForActiveLease(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(root, 0o755))
	s, _ := newTestSweeper(t, root, time.Date(2024, 5, 1, 4, 0, 0, 0, moscow(t)))

	release := s.dir.Lease()
	done := make(chan domain.SweepOutcome, 1)
	go func() { done <- s.Tick(context.Background()) }()

	select {
	case <-done:
		t.Fatal("sweep ran while an export held the lease")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	select {
	case outcome := <-done:
		assert.Equal(t, domain.SweepRemoved, outcome)
	case <-time.After(time.Second):
		t.Fatal("sweep never ran")
	}
}
