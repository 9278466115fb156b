package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Ticket is one reconciled work item row.
//
// Optional columns are pointers; nil round-trips as SQL NULL. Timestamps
// are kept as the remote's ISO 8601 strings, stored verbatim.
type Ticket struct {
	ID                string  `json:"id"`
	DisplayID         string  `json:"display_id"`
	Title             string  `json:"title"`
	Body              *string `json:"body"`
	Type              string  `json:"type"`
	State             *string `json:"state"`
	StageName         *string `json:"stage_name"`
	Priority          *string `json:"priority"`
	Severity          *string `json:"severity"`
	Subtype           *string `json:"subtype"`
	CreatedDate       string  `json:"created_date"`
	ModifiedDate      string  `json:"modified_date"`
	TargetCloseDate   *string `json:"target_close_date"`
	CreatedByID       *string `json:"created_by_id"`
	CreatedByName     *string `json:"created_by_name"`
	ModifiedByID      *string `json:"modified_by_id"`
	ModifiedByName    *string `json:"modified_by_name"`
	OwnedByID         *string `json:"owned_by_id"`
	OwnedByName       *string `json:"owned_by_name"`
	ReportedByID      *string `json:"reported_by_id"`
	ReportedByName    *string `json:"reported_by_name"`
	AppliesToPartID   *string `json:"applies_to_part_id"`
	AppliesToPartName *string `json:"applies_to_part_name"`
	Tags              *string `json:"tags"` // JSON-encoded [{id,name}]
	SprintID          *string `json:"sprint_id"`
	SprintName        *string `json:"sprint_name"`
	AutomatedTest     *string `json:"automated_test"`
	RawData           string  `json:"raw_data"`
	SyncedAt          string  `json:"synced_at"`
}

// TicketFilters are the optional predicates for listing and analytics.
// Zero values mean "no filter"; Type ignores the catch-all "all".
type TicketFilters struct {
	Type     string
	State    string
	Priority string
	Search   string
	DateFrom string
	DateTo   string
}

// Pagination describes one page of a listing result.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// TicketPage is a filtered, paginated ticket listing.
type TicketPage struct {
	Tickets    []Ticket   `json:"tickets"`
	Pagination Pagination `json:"pagination"`
}

const ticketColumns = `id, display_id, title, body, type, state, stage_name,
	priority, severity, subtype, created_date, modified_date, target_close_date,
	created_by_id, created_by_name, modified_by_id, modified_by_name,
	owned_by_id, owned_by_name, reported_by_id, reported_by_name,
	applies_to_part_id, applies_to_part_name, tags, sprint_id, sprint_name,
	automated_test, raw_data, synced_at`

const upsertTicketQuery = `
	INSERT INTO tickets (
		id, display_id, title, body, type, state, stage_name,
		priority, severity, subtype, created_date, modified_date,
		target_close_date, created_by_id, created_by_name,
		modified_by_id, modified_by_name, owned_by_id, owned_by_name,
		reported_by_id, reported_by_name, applies_to_part_id,
		applies_to_part_name, tags, sprint_id, sprint_name,
		automated_test, raw_data, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		body = excluded.body,
		state = excluded.state,
		stage_name = excluded.stage_name,
		priority = excluded.priority,
		severity = excluded.severity,
		subtype = excluded.subtype,
		modified_date = excluded.modified_date,
		target_close_date = excluded.target_close_date,
		modified_by_id = excluded.modified_by_id,
		modified_by_name = excluded.modified_by_name,
		owned_by_id = excluded.owned_by_id,
		owned_by_name = excluded.owned_by_name,
		reported_by_id = excluded.reported_by_id,
		reported_by_name = excluded.reported_by_name,
		applies_to_part_id = excluded.applies_to_part_id,
		applies_to_part_name = excluded.applies_to_part_name,
		tags = excluded.tags,
		sprint_id = excluded.sprint_id,
		sprint_name = excluded.sprint_name,
		automated_test = excluded.automated_test,
		raw_data = excluded.raw_data,
		synced_at = CURRENT_TIMESTAMP
`

// UpsertTicket inserts the ticket or, on id conflict, updates every mutable
// field. id, display_id, type and created_date are set only on insert; the
// remote is authoritative for everything else (last-writer-wins, no
// conflict detection).
func (db *DB) UpsertTicket(ctx context.Context, t *Ticket) error {
	return upsertTicket(ctx, db.conn, t)
}

// UpsertTicket applies the same upsert inside the transaction.
func (tx *Tx) UpsertTicket(ctx context.Context, t *Ticket) error {
	return upsertTicket(ctx, tx.tx, t)
}

func upsertTicket(ctx context.Context, ex execer, t *Ticket) error {
	if t.ID == "" {
		return fmt.Errorf("ticket is missing an id")
	}

	_, err := ex.ExecContext(ctx, upsertTicketQuery,
		t.ID, t.DisplayID, t.Title, t.Body, t.Type, t.State, t.StageName,
		t.Priority, t.Severity, t.Subtype, t.CreatedDate, t.ModifiedDate,
		t.TargetCloseDate, t.CreatedByID, t.CreatedByName,
		t.ModifiedByID, t.ModifiedByName, t.OwnedByID, t.OwnedByName,
		t.ReportedByID, t.ReportedByName, t.AppliesToPartID,
		t.AppliesToPartName, t.Tags, t.SprintID, t.SprintName,
		t.AutomatedTest, t.RawData,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ticket %s: %w", t.ID, err)
	}
	return nil
}

// ClearTickets deletes all ticket rows within the transaction. Used by
// force syncs to replace the full set atomically.
func (tx *Tx) ClearTickets(ctx context.Context) error {
	if _, err := tx.tx.ExecContext(ctx, "DELETE FROM tickets"); err != nil {
		return fmt.Errorf("failed to clear tickets: %w", err)
	}
	return nil
}

// ListTickets returns tickets matching the filters, newest first, with the
// page clamped to [1,100] items. Returned rows carry the display-time state
// projection.
func (db *DB) ListTickets(ctx context.Context, filters TicketFilters, page, limit int) (*TicketPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	where, args := buildTicketWhere(filters, nil)

	var total int
	countQuery := "SELECT COUNT(*) FROM tickets" + where
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}

	query := "SELECT " + ticketColumns + " FROM tickets" + where +
		" ORDER BY created_date DESC LIMIT ? OFFSET ?"
	args = append(args, limit, (page-1)*limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}

	return &TicketPage{
		Tickets: tickets,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// GetTicket retrieves a single ticket by id or display_id, with the
// display-time state projection applied. Returns ErrNotFound when absent.
func (db *DB) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	query := "SELECT " + ticketColumns + " FROM tickets WHERE id = ? OR display_id = ? LIMIT 1"

	row := db.conn.QueryRowContext(ctx, query, id, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket %s: %w", id, err)
	}
	return t, nil
}

// UpdateAutomatedTest sets the locally mutable automation status of a
// ticket. A nil value clears it. Returns ErrNotFound for unknown tickets.
func (db *DB) UpdateAutomatedTest(ctx context.Context, ticketID string, value *string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE tickets SET automated_test = ? WHERE id = ?", value, ticketID)
	if err != nil {
		return fmt.Errorf("failed to update automated_test for %s: %w", ticketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update automated_test for %s: %w", ticketID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TicketCount returns the total number of ticket rows.
func (db *DB) TicketCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return count, nil
}

// buildTicketWhere composes a WHERE clause from the optional filters. The
// extra conditions are prepended unchanged (used by the analytics queries
// for their fixed predicates).
func buildTicketWhere(f TicketFilters, extra []string) (string, []any) {
	conditions := append([]string(nil), extra...)
	var args []any

	if f.Type != "" && f.Type != "all" {
		conditions = append(conditions, "type = ?")
		args = append(args, f.Type)
	}
	if f.State != "" {
		// "Resolved" is the display projection of the stored "Closed";
		// a filter for it must match both labels.
		if f.State == stateResolved {
			conditions = append(conditions, "state IN (?, ?)")
			args = append(args, stateResolved, stateClosed)
		} else {
			conditions = append(conditions, "state = ?")
			args = append(args, f.State)
		}
	}
	if f.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.Search != "" {
		conditions = append(conditions, "(title LIKE ? OR body LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	if f.DateFrom != "" {
		conditions = append(conditions, "created_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conditions = append(conditions, "created_date <= ?")
		args = append(args, f.DateTo)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

const (
	stateClosed   = "Closed"
	stateResolved = "Resolved"
)

// displayState maps the stored "Closed" label to "Resolved" for read paths.
// Storage is never mutated; this is a projection.
func displayState(s *string) *string {
	if s != nil && *s == stateClosed {
		resolved := stateResolved
		return &resolved
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*Ticket, error) {
	var t Ticket
	err := row.Scan(
		&t.ID, &t.DisplayID, &t.Title, &t.Body, &t.Type, &t.State, &t.StageName,
		&t.Priority, &t.Severity, &t.Subtype, &t.CreatedDate, &t.ModifiedDate,
		&t.TargetCloseDate, &t.CreatedByID, &t.CreatedByName,
		&t.ModifiedByID, &t.ModifiedByName, &t.OwnedByID, &t.OwnedByName,
		&t.ReportedByID, &t.ReportedByName, &t.AppliesToPartID,
		&t.AppliesToPartName, &t.Tags, &t.SprintID, &t.SprintName,
		&t.AutomatedTest, &t.RawData, &t.SyncedAt,
	)
	if err != nil {
		return nil, err
	}
	t.State = displayState(t.State)
	return &t, nil
}

func scanTickets(rows *sql.Rows) ([]Ticket, error) {
	tickets := []Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}
