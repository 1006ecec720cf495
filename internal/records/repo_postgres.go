package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-agent-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo implements Repository on a pgx-backed *sql.DB.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

// validID reports whether id can match a UUID primary key. Anything else is
// unknown by definition and must not reach the database as a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const conversationColumns = `id, status, started_at, ended_at, duration_seconds, customer_name, created_at`

// Date and time are rendered as text so callers never depend on driver-specific types.
const reservationColumns = `id, conversation_id, name, email, to_char(date, 'YYYY-MM-DD'), to_char(time, 'HH24:MI:SS'), guests, status, created_at`

const agentConfigColumns = `id, restaurant_name, restaurant_hours, menu, instructions, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		c        Conversation
		status   string
		endedAt  sql.NullTime
		duration sql.NullInt64
		customer sql.NullString
	)
	if err := row.Scan(&c.ID, &status, &c.StartedAt, &endedAt, &duration, &customer, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	c.Status = ConversationStatus(status)
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		c.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	if customer.Valid {
		n := customer.String
		c.CustomerName = &n
	}
	return c, nil
}

func scanReservation(row rowScanner) (Reservation, error) {
	var (
		r      Reservation
		convID sql.NullString
		status string
	)
	if err := row.Scan(&r.ID, &convID, &r.Name, &r.Email, &r.Date, &r.Time, &r.Guests, &status, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, err
	}
	r.Status = ReservationStatus(status)
	if convID.Valid {
		id := convID.String
		r.ConversationID = &id
	}
	return r, nil
}

func (r *PostgresRepo) CreateConversation(ctx context.Context, startedAt time.Time) (Conversation, error) {
	now := r.clock().UTC()
	if startedAt.IsZero() {
		startedAt = now
	}
	row := r.db.QueryRowContext(ctx, `
INSERT INTO conversations (id, status, started_at, created_at)
VALUES ($1, $2, $3, $4)
RETURNING `+conversationColumns,
		uuid.NewString(), string(ConversationActive), startedAt.UTC(), now,
	)
	c, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) CompleteConversation(ctx context.Context, id string, endedAt time.Time) (Conversation, error) {
	if id == "" {
		return Conversation{}, ErrInvalidArgument
	}
	if !validID(id) {
		return Conversation{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
UPDATE conversations
SET status = $2,
    ended_at = $3,
    duration_seconds = GREATEST(0, ROUND(EXTRACT(EPOCH FROM ($3::timestamptz - started_at))))::int
WHERE id = $1 AND status = $4
RETURNING `+conversationColumns,
		id, string(ConversationCompleted), endedAt.UTC(), string(ConversationActive),
	)
	c, err := scanConversation(row)
	if errors.Is(err, ErrNotFound) {
		// Either unknown or already completed; the point read tells them apart.
		return r.GetConversation(ctx, id)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("complete conversation: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) SetConversationCustomer(ctx context.Context, id, name string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET customer_name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("set conversation customer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if !validID(id) {
		return Conversation{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (r *PostgresRepo) ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, clampLimit(f.Limit))
	q := `SELECT ` + conversationColumns + ` FROM conversations` + whereClause(where) +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateReservation(ctx context.Context, in NewReservation) (Reservation, error) {
	if err := validateNewReservation(in); err != nil {
		return Reservation{}, err
	}
	status := in.Status
	if status == "" {
		status = ReservationPending
	}
	// an unknown conversation leaves the reservation unlinked rather than failing the booking
	var convID any
	if validID(in.ConversationID) {
		convID = in.ConversationID
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO reservations (id, conversation_id, name, email, date, time, guests, status, created_at)
VALUES ($1, (SELECT id FROM conversations WHERE id = $2::uuid), $3, $4, $5::date, $6::time, $7, $8, $9)
RETURNING `+reservationColumns,
		uuid.NewString(), convID, in.Name, in.Email, in.Date, in.Time, in.Guests, string(status), r.clock().UTC(),
	)
	res, err := scanReservation(row)
	if err != nil {
		return Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	return res, nil
}

func (r *PostgresRepo) GetReservation(ctx context.Context, id string) (Reservation, error) {
	if !validID(id) {
		return Reservation{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	return scanReservation(row)
}

func (r *PostgresRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Date != "" {
		args = append(args, f.Date)
		where = append(where, fmt.Sprintf("date = $%d::date", len(args)))
	}
	args = append(args, clampLimit(f.Limit))
	q := `SELECT ` + reservationColumns + ` FROM reservations` + whereClause(where) +
		fmt.Sprintf(` ORDER BY date ASC, time ASC, created_at ASC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	out := make([]Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateReservationStatus(ctx context.Context, id string, status ReservationStatus) (Reservation, error) {
	if !status.Valid() {
		return Reservation{}, ErrInvalidArgument
	}
	if !validID(id) {
		return Reservation{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `UPDATE reservations SET status = $2 WHERE id = $1 RETURNING `+reservationColumns, id, string(status))
	return scanReservation(row)
}

func (r *PostgresRepo) GetAgentConfig(ctx context.Context) (AgentConfig, error) {
	var c AgentConfig
	err := r.db.QueryRowContext(ctx, `SELECT `+agentConfigColumns+` FROM agent_config ORDER BY updated_at DESC LIMIT 1`).
		Scan(&c.ID, &c.RestaurantName, &c.RestaurantHours, &c.Menu, &c.Instructions, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentConfig{}, ErrNotFound
	}
	if err != nil {
		return AgentConfig{}, fmt.Errorf("get agent config: %w", err)
	}
	return c, nil
}

// UpsertAgentConfig updates the singleton row, inserting it on first save.
func (r *PostgresRepo) UpsertAgentConfig(ctx context.Context, c AgentConfig) (AgentConfig, error) {
	now := r.clock().UTC()
	var out AgentConfig
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM agent_config ORDER BY updated_at DESC LIMIT 1 FOR UPDATE`).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = uuid.NewString()
			_, err = tx.ExecContext(ctx, `
INSERT INTO agent_config (id, restaurant_name, restaurant_hours, menu, instructions, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
				id, c.RestaurantName, c.RestaurantHours, c.Menu, c.Instructions, now)
		case err == nil:
			_, err = tx.ExecContext(ctx, `
UPDATE agent_config
SET restaurant_name = $2, restaurant_hours = $3, menu = $4, instructions = $5, updated_at = $6
WHERE id = $1`,
				id, c.RestaurantName, c.RestaurantHours, c.Menu, c.Instructions, now)
		}
		if err != nil {
			return err
		}
		out = c
		out.ID = id
		out.UpdatedAt = now
		return nil
	})
	if err != nil {
		return AgentConfig{}, fmt.Errorf("upsert agent config: %w", err)
	}
	return out, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
