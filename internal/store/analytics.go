package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats is the dashboard-level ticket summary.
type Stats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"byType"`
	ByState    map[string]int `json:"byState"`
	ByPriority map[string]int `json:"byPriority"`
	LastSyncAt *string        `json:"lastSyncAt,omitempty"`
}

// MonthBucket is one calendar month of ticket counts with a state
// breakdown. The sum of ByState can be lower than Total when rows have a
// NULL state; the state breakdown only covers labeled rows.
type MonthBucket struct {
	Month   string         `json:"month"` // e.g. "Mar 2025"
	Year    int            `json:"year"`
	Total   int            `json:"total"`
	ByState map[string]int `json:"byState"`
}

// SubtypeCount is one subtype bucket for a month; NULL subtypes group under
// "Unspecified".
type SubtypeCount struct {
	Subtype string `json:"subtype"`
	Count   int    `json:"count"`
}

// StatusCount is one automation-status bucket; NULL statuses group under
// "Not Set".
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// PartAnalytics is the per-product-area rollup.
type PartAnalytics struct {
	Part       string         `json:"part"`
	Total      int            `json:"total"`
	ByState    map[string]int `json:"byState"`
	ByPriority map[string]int `json:"byPriority"`
}

// Sentinel labels for grouping on nullable columns. Null-valued rows are
// never dropped from a grouping result.
const (
	SubtypeUnspecified = "Unspecified"
	AutomationNotSet   = "Not Set"
)

// GetStats returns overall counts across all stored rows, grouped by type,
// state and priority, plus the most recent synced_at as the last-sync
// marker. The "Closed" state folds into "Resolved".
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByType:     map[string]int{},
		ByState:    map[string]int{},
		ByPriority: map[string]int{},
	}

	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}

	if err := db.groupInto(ctx, stats.ByType,
		"SELECT type, COUNT(*) FROM tickets GROUP BY type", false); err != nil {
		return nil, err
	}
	if err := db.groupInto(ctx, stats.ByState,
		"SELECT state, COUNT(*) FROM tickets WHERE state IS NOT NULL GROUP BY state", true); err != nil {
		return nil, err
	}
	if err := db.groupInto(ctx, stats.ByPriority,
		"SELECT priority, COUNT(*) FROM tickets WHERE priority IS NOT NULL GROUP BY priority", false); err != nil {
		return nil, err
	}

	var lastSync sql.NullString
	err := db.conn.QueryRowContext(ctx, "SELECT MAX(synced_at) FROM tickets").Scan(&lastSync)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if lastSync.Valid {
		stats.LastSyncAt = &lastSync.String
	}

	return stats, nil
}

// groupInto runs a (label, count) query into dest. With foldClosed set the
// "Closed" label merges into "Resolved".
func (db *DB) groupInto(ctx context.Context, dest map[string]int, query string, foldClosed bool, args ...any) error {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to group tickets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return fmt.Errorf("failed to scan group row: %w", err)
		}
		if foldClosed && label == stateClosed {
			label = stateResolved
		}
		dest[label] += count
	}
	return rows.Err()
}

// GetMonthlyStats groups tickets (type='ticket') by the calendar month of
// created_date, most recent 12 months first, each bucket carrying a total
// and a state breakdown.
func (db *DB) GetMonthlyStats(ctx context.Context) ([]MonthBucket, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT strftime('%Y-%m', created_date) AS month_year, COUNT(*)
		FROM tickets
		WHERE type = 'ticket'
		GROUP BY month_year
		ORDER BY month_year DESC
		LIMIT 12`)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly totals: %w", err)
	}
	defer rows.Close()

	buckets := []MonthBucket{}
	keys := []string{}
	for rows.Next() {
		var key string
		var total int
		if err := rows.Scan(&key, &total); err != nil {
			return nil, fmt.Errorf("failed to scan monthly total: %w", err)
		}
		month, year := monthLabel(key)
		buckets = append(buckets, MonthBucket{
			Month:   month,
			Year:    year,
			Total:   total,
			ByState: map[string]int{},
		})
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monthly totals: %w", err)
	}

	for i, key := range keys {
		if err := db.groupInto(ctx, buckets[i].ByState, `
			SELECT state, COUNT(*) FROM tickets
			WHERE type = 'ticket' AND strftime('%Y-%m', created_date) = ? AND state IS NOT NULL
			GROUP BY state`, true, key); err != nil {
			return nil, err
		}
	}

	return buckets, nil
}

// GetMonthlyStatsBySubtype counts the month's tickets per subtype.
// monthYear is "YYYY-MM".
func (db *DB) GetMonthlyStatsBySubtype(ctx context.Context, monthYear string) ([]SubtypeCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT subtype, COUNT(*) AS count FROM tickets
		WHERE type = 'ticket' AND strftime('%Y-%m', created_date) = ?
		GROUP BY subtype
		ORDER BY count DESC, subtype ASC`, monthYear)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtype stats: %w", err)
	}
	defer rows.Close()

	results := []SubtypeCount{}
	for rows.Next() {
		var subtype sql.NullString
		var count int
		if err := rows.Scan(&subtype, &count); err != nil {
			return nil, fmt.Errorf("failed to scan subtype row: %w", err)
		}
		label := SubtypeUnspecified
		if subtype.Valid && subtype.String != "" {
			label = subtype.String
		}
		results = append(results, SubtypeCount{Subtype: label, Count: count})
	}
	return results, rows.Err()
}

// GetMonthlyStatsByAutomation counts the month's tickets per automation
// status. monthYear is "YYYY-MM".
func (db *DB) GetMonthlyStatsByAutomation(ctx context.Context, monthYear string) ([]StatusCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT automated_test, COUNT(*) AS count FROM tickets
		WHERE type = 'ticket' AND strftime('%Y-%m', created_date) = ?
		GROUP BY automated_test
		ORDER BY count DESC, automated_test ASC`, monthYear)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation stats: %w", err)
	}
	defer rows.Close()

	return scanStatusCounts(rows)
}

// GetAnalyticsByPart rolls tickets up per product area, restricted to
// tickets with a part assignment, honoring the optional state/priority/date
// filters. Areas come back ordered by total descending, ties broken by
// name.
func (db *DB) GetAnalyticsByPart(ctx context.Context, filters TicketFilters) ([]PartAnalytics, error) {
	fixed := []string{"type = 'ticket'", "applies_to_part_name IS NOT NULL"}
	where, args := buildTicketWhere(TicketFilters{
		State:    filters.State,
		Priority: filters.Priority,
		DateFrom: filters.DateFrom,
		DateTo:   filters.DateTo,
	}, fixed)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT applies_to_part_name, COUNT(*) AS total
		FROM tickets`+where+`
		GROUP BY applies_to_part_name
		ORDER BY total DESC, applies_to_part_name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query part totals: %w", err)
	}
	defer rows.Close()

	parts := []PartAnalytics{}
	index := map[string]int{}
	for rows.Next() {
		var p PartAnalytics
		if err := rows.Scan(&p.Part, &p.Total); err != nil {
			return nil, fmt.Errorf("failed to scan part total: %w", err)
		}
		p.ByState = map[string]int{}
		p.ByPriority = map[string]int{}
		index[p.Part] = len(parts)
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating part totals: %w", err)
	}

	fill := func(query string, fold bool, pick func(p *PartAnalytics) map[string]int) error {
		rows, err := db.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query part breakdown: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var part, label string
			var count int
			if err := rows.Scan(&part, &label, &count); err != nil {
				return fmt.Errorf("failed to scan part breakdown: %w", err)
			}
			i, ok := index[part]
			if !ok {
				continue
			}
			if fold && label == stateClosed {
				label = stateResolved
			}
			pick(&parts[i])[label] += count
		}
		return rows.Err()
	}

	err = fill(`
		SELECT applies_to_part_name, state, COUNT(*)
		FROM tickets`+where+` AND state IS NOT NULL
		GROUP BY applies_to_part_name, state`,
		true, func(p *PartAnalytics) map[string]int { return p.ByState })
	if err != nil {
		return nil, err
	}

	err = fill(`
		SELECT applies_to_part_name, priority, COUNT(*)
		FROM tickets`+where+` AND priority IS NOT NULL
		GROUP BY applies_to_part_name, priority`,
		false, func(p *PartAnalytics) map[string]int { return p.ByPriority })
	if err != nil {
		return nil, err
	}

	return parts, nil
}

func scanStatusCounts(rows *sql.Rows) ([]StatusCount, error) {
	results := []StatusCount{}
	for rows.Next() {
		var status sql.NullString
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		label := AutomationNotSet
		if status.Valid && status.String != "" {
			label = status.String
		}
		results = append(results, StatusCount{Status: label, Count: count})
	}
	return results, rows.Err()
}

// monthLabel turns a "YYYY-MM" key into a short display label and year.
func monthLabel(key string) (string, int) {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return key, 0
	}
	return t.Format("Jan 2006"), t.Year()
}
