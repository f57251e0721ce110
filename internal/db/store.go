package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queueflow/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateTicket inserts the ticket and its line items, allocating the next
// per-shop per-day sequence number atomically.
func (s *Store) CreateTicket(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		day := t.CreatedAt.UTC().Format("2006-01-02")
		if err := tx.QueryRow(ctx, `
			INSERT INTO shop_day_counters (shop_id, day, counter)
			VALUES ($1, $2, 1)
			ON CONFLICT (shop_id, day) DO UPDATE SET counter = shop_day_counters.counter + 1
			RETURNING counter
		`, t.ShopID, day).Scan(&t.SequenceNumber); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO tickets (id, shop_id, department_id, customer_id, customer_tier, sequence_number,
				total_amount, status, priority, estimated_wait_minutes, notes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, t.ID, t.ShopID, t.DepartmentID, t.CustomerID, t.CustomerTier, t.SequenceNumber,
			t.TotalAmount, t.Status, t.Priority, t.EstimatedWaitMinutes, t.Notes, t.CreatedAt); err != nil {
			return err
		}

		if len(t.Items) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(t.Items))
		for _, it := range t.Items {
			rows = append(rows, []any{t.ID, it.ServiceID, it.ServiceName, it.Quantity, it.UnitPrice, it.LineTotal})
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"ticket_items"},
			[]string{"ticket_id", "service_id", "service_name", "quantity", "unit_price", "line_total"},
			pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	var t models.Ticket
	err := s.Pool.QueryRow(ctx, `
		SELECT id, shop_id, department_id, customer_id, customer_tier, sequence_number, total_amount,
			status, priority, estimated_wait_minutes, actual_wait_minutes, staff_id, notes,
			created_at, called_at, completed_at
		FROM tickets WHERE id = $1
	`, ticketID).Scan(&t.ID, &t.ShopID, &t.DepartmentID, &t.CustomerID, &t.CustomerTier, &t.SequenceNumber,
		&t.TotalAmount, &t.Status, &t.Priority, &t.EstimatedWaitMinutes, &t.ActualWaitMinutes, &t.StaffID,
		&t.Notes, &t.CreatedAt, &t.CalledAt, &t.CompletedAt)
	if err != nil {
		return models.Ticket{}, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT service_id, service_name, quantity, unit_price, line_total
		FROM ticket_items WHERE ticket_id = $1 ORDER BY service_id
	`, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it models.TicketItem
		if err := rows.Scan(&it.ServiceID, &it.ServiceName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return models.Ticket{}, err
		}
		t.Items = append(t.Items, it)
	}
	return t, rows.Err()
}

func (s *Store) ListTickets(ctx context.Context, shopID, status, departmentID string, limit, offset int) ([]models.Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, shop_id, department_id, customer_id, customer_tier, sequence_number, total_amount,
		status, priority, estimated_wait_minutes, actual_wait_minutes, staff_id, notes,
		created_at, called_at, completed_at FROM tickets`
	args := []any{shopID}
	wheres := []string{"shop_id = $1"}
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if departmentID != "" {
		args = append(args, departmentID)
		wheres = append(wheres, fmt.Sprintf("department_id = $%d", len(args)))
	}
	query += " WHERE " + strings.Join(wheres, " AND ")
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (s *Store) ListWaitingTickets(ctx context.Context, shopID, departmentID string) ([]models.Ticket, error) {
	query := `SELECT id, shop_id, department_id, customer_id, customer_tier, sequence_number, total_amount,
		status, priority, estimated_wait_minutes, actual_wait_minutes, staff_id, notes,
		created_at, called_at, completed_at
		FROM tickets WHERE shop_id = $1 AND status = $2`
	args := []any{shopID, models.StatusWaiting}
	if departmentID != "" {
		args = append(args, departmentID)
		query += fmt.Sprintf(" AND department_id = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]models.Ticket, error) {
	var out []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.ShopID, &t.DepartmentID, &t.CustomerID, &t.CustomerTier, &t.SequenceNumber,
			&t.TotalAmount, &t.Status, &t.Priority, &t.EstimatedWaitMinutes, &t.ActualWaitMinutes, &t.StaffID,
			&t.Notes, &t.CreatedAt, &t.CalledAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AssignTicket performs the conditional assignment write: it succeeds only if
// the ticket is still in an assignable status and not claimed by someone else.
// Two racing assigns cannot both win.
func (s *Store) AssignTicket(ctx context.Context, ticketID, staffID string, allowed []string) (bool, error) {
	assigned := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tickets
			SET staff_id = $1, status = $2, called_at = COALESCE(called_at, NOW())
			WHERE id = $3 AND status = ANY($4) AND (staff_id IS NULL OR staff_id = $1)
		`, staffID, models.StatusServing, ticketID, allowed)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		assigned = true
		_, err = tx.Exec(ctx, `UPDATE staff SET current_load = current_load + 1, updated_at = NOW() WHERE id = $1`, staffID)
		return err
	})
	return assigned, err
}

// ReassignTicket moves a SERVING ticket to a different staff member, keeping
// both load counters consistent.
func (s *Store) ReassignTicket(ctx context.Context, ticketID, fromStaffID, toStaffID string) (bool, error) {
	moved := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tickets SET staff_id = $1
			WHERE id = $2 AND status = $3 AND staff_id = $4
		`, toStaffID, ticketID, models.StatusServing, fromStaffID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		moved = true
		if _, err := tx.Exec(ctx, `UPDATE staff SET current_load = GREATEST(current_load - 1, 0), updated_at = NOW() WHERE id = $1`, fromStaffID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE staff SET current_load = current_load + 1, updated_at = NOW() WHERE id = $1`, toStaffID)
		return err
	})
	return moved, err
}

// UpdateTicketStatus is the generic conditional transition write.
func (s *Store) UpdateTicketStatus(ctx context.Context, ticketID string, allowedFrom []string, to string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE tickets SET status = $1 WHERE id = $2 AND status = ANY($3)
	`, to, ticketID, allowedFrom)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteTicket stamps completion, records the actual wait, and releases the
// staff member's load slot.
func (s *Store) CompleteTicket(ctx context.Context, ticketID string, actualWaitMinutes *int) (bool, error) {
	completed := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var staffID *string
		err := tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = $1, completed_at = NOW(), actual_wait_minutes = $2
			WHERE id = $3 AND status = $4
			RETURNING staff_id
		`, models.StatusCompleted, actualWaitMinutes, ticketID, models.StatusServing).Scan(&staffID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		completed = true
		if staffID == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE staff SET current_load = GREATEST(current_load - 1, 0), updated_at = NOW() WHERE id = $1`, *staffID)
		return err
	})
	return completed, err
}

func (s *Store) GetStaff(ctx context.Context, staffID string) (models.Staff, error) {
	var st models.Staff
	err := s.Pool.QueryRow(ctx, `
		SELECT id, shop_id, department_id, name, seniority, skills, on_duty, current_load, shift_minutes, updated_at
		FROM staff WHERE id = $1
	`, staffID).Scan(&st.ID, &st.ShopID, &st.DepartmentID, &st.Name, &st.Seniority, &st.Skills,
		&st.OnDuty, &st.CurrentLoad, &st.ShiftMinutes, &st.UpdatedAt)
	return st, err
}

func (s *Store) ListStaff(ctx context.Context, shopID, departmentID string, onDutyOnly bool) ([]models.Staff, error) {
	query := `SELECT id, shop_id, department_id, name, seniority, skills, on_duty, current_load, shift_minutes, updated_at
		FROM staff WHERE shop_id = $1`
	args := []any{shopID}
	if departmentID != "" {
		args = append(args, departmentID)
		query += fmt.Sprintf(" AND department_id = $%d", len(args))
	}
	if onDutyOnly {
		query += " AND on_duty"
	}
	query += " ORDER BY current_load ASC, id ASC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Staff
	for rows.Next() {
		var st models.Staff
		if err := rows.Scan(&st.ID, &st.ShopID, &st.DepartmentID, &st.Name, &st.Seniority, &st.Skills,
			&st.OnDuty, &st.CurrentLoad, &st.ShiftMinutes, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// AdvanceRotationCursor atomically increments the round-robin cursor for the
// (shop, department) pair and returns the new value. Held in the database so
// concurrent engine instances share one rotation.
func (s *Store) AdvanceRotationCursor(ctx context.Context, shopID, departmentID string) (int64, error) {
	var cursor int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO rotation_cursors (shop_id, department_id, cursor)
		VALUES ($1, $2, 0)
		ON CONFLICT (shop_id, department_id) DO UPDATE SET cursor = rotation_cursors.cursor + 1
		RETURNING cursor
	`, shopID, departmentID).Scan(&cursor)
	return cursor, err
}

// TicketHistoryPage reads one keyset page of terminal tickets joined with
// their payment totals. The cursor is the unique (created_at, id) tuple of the
// previous page's last row, so records sharing a timestamp never straddle a
// page boundary unseen.
func (s *Store) TicketHistoryPage(ctx context.Context, shopID, departmentID string, from, to, afterTime time.Time, afterID string, limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	if afterTime.Before(from) {
		afterTime = from
		afterID = ""
	}

	query := `SELECT t.id, t.shop_id, t.department_id, t.staff_id, t.status, t.created_at, t.called_at, t.completed_at,
		t.actual_wait_minutes,
		CASE WHEN t.called_at IS NOT NULL AND t.completed_at IS NOT NULL
			THEN CAST(EXTRACT(EPOCH FROM (t.completed_at - t.called_at)) / 60 AS INT) END,
		COALESCE(p.amount, 0)
		FROM tickets t
		LEFT JOIN (SELECT ticket_id, SUM(amount) AS amount FROM payments GROUP BY ticket_id) p ON p.ticket_id = t.id
		WHERE t.shop_id = $1 AND t.status = ANY($2) AND (t.created_at, t.id) > ($3, $4) AND t.created_at <= $5`
	args := []any{shopID, []string{models.StatusCompleted, models.StatusCancelled, models.StatusNoShow}, afterTime, afterID, to}
	if departmentID != "" {
		args = append(args, departmentID)
		query += fmt.Sprintf(" AND t.department_id = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY t.created_at ASC, t.id ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryRecord
	for rows.Next() {
		var r models.HistoryRecord
		if err := rows.Scan(&r.TicketID, &r.ShopID, &r.DepartmentID, &r.StaffID, &r.Status, &r.CreatedAt,
			&r.CalledAt, &r.CompletedAt, &r.WaitMinutes, &r.ServiceMinutes, &r.PaidAmount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListRules(ctx context.Context, shopID, kind string) ([]models.NotificationRule, error) {
	query := `SELECT id, shop_id, name, kind, time_of_day, recurrence, target_status, event_name,
		delay_minutes, conditions, channels, active, priority
		FROM notification_rules WHERE shop_id = $1 AND active`
	args := []any{shopID}
	if kind != "" {
		args = append(args, kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	query += " ORDER BY priority DESC, id ASC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NotificationRule
	for rows.Next() {
		var r models.NotificationRule
		var conditions, channels []byte
		if err := rows.Scan(&r.ID, &r.ShopID, &r.Name, &r.Kind, &r.TimeOfDay, &r.Recurrence, &r.TargetStatus,
			&r.EventName, &r.DelayMinutes, &conditions, &channels, &r.Active, &r.Priority); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
				return nil, err
			}
		}
		if len(channels) > 0 {
			if err := json.Unmarshal(channels, &r.Channels); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertNotifications(ctx context.Context, notifications []models.Notification) (int64, error) {
	rows := make([][]any, 0, len(notifications))
	for _, n := range notifications {
		rows = append(rows, []any{n.ID, nullable(n.RuleID), n.ShopID, nullable(n.TicketID), n.Channel, n.Recipient,
			n.Message, n.Priority, n.Status, nullable(n.MessageID), n.ScheduledFor})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"notifications"},
		[]string{"id", "rule_id", "shop_id", "ticket_id", "channel", "recipient", "message", "priority", "status", "message_id", "scheduled_for"},
		pgx.CopyFromRows(rows))
}

func (s *Store) ListDueNotifications(ctx context.Context, due time.Time, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, COALESCE(rule_id, ''), shop_id, COALESCE(ticket_id, ''), channel, recipient, message, priority, status,
			COALESCE(message_id, ''), scheduled_for, sent_at
		FROM notifications
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
		LIMIT $3
	`, models.NotificationPending, due, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.RuleID, &n.ShopID, &n.TicketID, &n.Channel, &n.Recipient, &n.Message,
			&n.Priority, &n.Status, &n.MessageID, &n.ScheduledFor, &n.SentAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotification(ctx context.Context, id, status, messageID string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE notifications SET status = $1, message_id = $2, sent_at = NOW() WHERE id = $3
	`, status, nullable(messageID), id)
	return err
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
