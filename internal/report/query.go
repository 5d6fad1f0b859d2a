package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// CourierStat is one spreadsheet row: a courier's deliveries inside the window.
type CourierStat struct {
	ID         int64
	Name       string
	Deliveries int64
	TotalWait  float64
	AvgWait    float64
}

// Window is the half-open interval [From, To) applied to orders.cur_time.
type Window struct {
	From time.Time
	To   time.Time
}

// DayWindow anchors the hour range to the calendar day of now in loc.
// Hours outside 0-23 normalize into neighbouring days.
func DayWindow(now time.Time, loc *time.Location, startHour, endHour int) Window {
	local := now.In(loc)
	y, m, d := local.Date()
	return Window{
		From: time.Date(y, m, d, startHour, 0, 0, 0, loc),
		To:   time.Date(y, m, d, endHour, 0, 0, 0, loc),
	}
}

func courierStatsQuery(w Window) (string, []any, error) {
	return psq.
		Select(
			"couriers.courier_id",
			"couriers.courier_name",
			"COUNT(orders.order_id) AS deliveries",
			"COALESCE(SUM(orders.time_taken), 0) AS total_wait",
			"COALESCE(ROUND(SUM(orders.time_taken)::numeric / NULLIF(COUNT(orders.order_id), 0), 2), 0) AS avg_wait",
		).
		From("couriers").
		Join("orders ON orders.courier_id = couriers.courier_id").
		Where(sq.GtOrEq{"orders.cur_time": w.From}).
		Where(sq.Lt{"orders.cur_time": w.To}).
		GroupBy("couriers.courier_id", "couriers.courier_name").
		OrderBy("avg_wait DESC").
		ToSql()
}

// FetchCourierStats runs the aggregation and returns rows ordered by average
// wait, slowest first.
func FetchCourierStats(ctx context.Context, db *sql.DB, w Window) ([]CourierStat, error) {
	query, args, err := courierStatsQuery(w)
	if err != nil {
		return nil, fmt.Errorf("building courier stats query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying courier stats: %w", err)
	}
	defer rows.Close()

	out := make([]CourierStat, 0)
	for rows.Next() {
		var stat CourierStat
		if err := rows.Scan(&stat.ID, &stat.Name, &stat.Deliveries, &stat.TotalWait, &stat.AvgWait); err != nil {
			return nil, fmt.Errorf("scanning courier stats: %w", err)
		}
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating courier stats: %w", err)
	}
	return out, nil
}
