package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qline/ticket-service/internal/models"
	"qline/ticket-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const txRetryLimit = 3

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinOrg serializes mutations per organization by locking the
// counter row for the duration of the transaction. Serialization and
// deadlock failures are retried a bounded number of times before
// surfacing as ErrConflict.
func (s *Store) WithinOrg(ctx context.Context, orgID string, fn func(tx store.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetryLimit; attempt++ {
		err := s.runOrgTx(ctx, orgID, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, lastErr)
}

func (s *Store) runOrgTx(ctx context.Context, orgID string, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO org_counters (org_id, cycle, next_number, current_served, updated_at)
		VALUES ($1, 0, 1, 0, now())
		ON CONFLICT (org_id) DO NOTHING
	`, orgID); err != nil {
		return err
	}

	orgTx := &pgTx{tx: tx, orgID: orgID}
	row := tx.QueryRow(ctx, `
		SELECT cycle, next_number, current_served, updated_at
		FROM org_counters
		WHERE org_id = $1
		FOR UPDATE
	`, orgID)
	orgTx.counter.OrgID = orgID
	if err = row.Scan(&orgTx.counter.Cycle, &orgTx.counter.NextNumber, &orgTx.counter.CurrentServed, &orgTx.counter.UpdatedAt); err != nil {
		return err
	}

	if err = fn(orgTx); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

func (s *Store) CounterState(ctx context.Context, orgID string) (models.CounterState, bool, error) {
	var state models.CounterState
	state.OrgID = orgID
	row := s.pool.QueryRow(ctx, `
		SELECT cycle, next_number, current_served, updated_at
		FROM org_counters
		WHERE org_id = $1
	`, orgID)
	if err := row.Scan(&state.Cycle, &state.NextNumber, &state.CurrentServed, &state.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CounterState{}, false, nil
		}
		return models.CounterState{}, false, err
	}
	return state, true, nil
}

const ticketColumns = `ticket_id, org_id, cycle, number, status, display_name, channel, external_user_id, request_id, created_at, updated_at, served_at`

// TicketByNumber resolves a number within the organization's current
// cycle; rows from before a reset are not reachable by number.
func (s *Store) TicketByNumber(ctx context.Context, orgID string, number int) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE org_id = $1 AND number = $2
		  AND cycle = COALESCE((SELECT cycle FROM org_counters WHERE org_id = $1), 0)
	`, orgID, number)
	return scanTicket(row)
}

func (s *Store) ListActive(ctx context.Context, orgID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE org_id = $1 AND status IN ('waiting', 'missed')
		ORDER BY number ASC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, _, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) RecentServedAt(ctx context.Context, orgID string, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = 6
	}
	rows, err := s.pool.Query(ctx, `
		SELECT served_at
		FROM tickets
		WHERE org_id = $1 AND status = 'served' AND served_at IS NOT NULL
		ORDER BY served_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		times = append(times, at)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return times, nil
}

func (s *Store) TransitionTicket(ctx context.Context, orgID, ticketID, from, to string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET status = $1, updated_at = $2
		WHERE ticket_id = $3 AND org_id = $4 AND status = $5
	`, to, at, ticketID, orgID, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type pgTx struct {
	tx      pgx.Tx
	orgID   string
	counter models.CounterState
}

func (t *pgTx) Counter(_ context.Context) (models.CounterState, error) {
	return t.counter, nil
}

func (t *pgTx) SetCounter(ctx context.Context, state models.CounterState) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE org_counters
		SET cycle = $1, next_number = $2, current_served = $3, updated_at = $4
		WHERE org_id = $5
	`, state.Cycle, state.NextNumber, state.CurrentServed, state.UpdatedAt, t.orgID)
	if err == nil {
		state.OrgID = t.orgID
		t.counter = state
	}
	return err
}

func (t *pgTx) MaxTicketNumber(ctx context.Context) (int, error) {
	var max int
	row := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(number), 0)
		FROM tickets
		WHERE org_id = $1 AND cycle = $2
	`, t.orgID, t.counter.Cycle)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (t *pgTx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tickets (
			ticket_id, org_id, cycle, number, status, display_name, channel,
			external_user_id, request_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, ticket.TicketID, t.orgID, ticket.Cycle, ticket.Number, ticket.Status,
		nullIfEmpty(ticket.DisplayName), nullIfEmpty(ticket.Channel),
		nullIfEmpty(ticket.ExternalUserID), nullIfEmpty(ticket.RequestID),
		ticket.CreatedAt, ticket.UpdatedAt)
	return err
}

func (t *pgTx) TicketByID(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE org_id = $1 AND ticket_id = $2
	`, t.orgID, ticketID)
	return scanTicket(row)
}

func (t *pgTx) TicketByNumber(ctx context.Context, number int) (models.Ticket, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE org_id = $1 AND cycle = $2 AND number = $3
	`, t.orgID, t.counter.Cycle, number)
	return scanTicket(row)
}

func (t *pgTx) TicketByRequestID(ctx context.Context, requestID string) (models.Ticket, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE org_id = $1 AND request_id = $2
	`, t.orgID, requestID)
	return scanTicket(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, ticketID, from, to string, at time.Time, servedAt *time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tickets
		SET status = $1, updated_at = $2, served_at = COALESCE($3, served_at)
		WHERE org_id = $4 AND ticket_id = $5 AND status = $6
	`, to, at, servedAt, t.orgID, ticketID, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) CancelActive(ctx context.Context, at time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tickets
		SET status = 'cancelled', updated_at = $1
		WHERE org_id = $2 AND status IN ('waiting', 'missed')
	`, at, t.orgID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (models.Ticket, bool, error) {
	var ticket models.Ticket
	var displayName, channel, externalUserID, requestID sql.NullString
	var servedAt sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.OrgID, &ticket.Cycle, &ticket.Number, &ticket.Status,
		&displayName, &channel, &externalUserID, &requestID,
		&ticket.CreatedAt, &ticket.UpdatedAt, &servedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	ticket.DisplayName = displayName.String
	ticket.Channel = channel.String
	ticket.ExternalUserID = externalUserID.String
	ticket.RequestID = requestID.String
	if servedAt.Valid {
		ticket.ServedAt = &servedAt.Time
	}
	return ticket, true, nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
