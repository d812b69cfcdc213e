package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"campusbook/internal/models"

	"github.com/jmoiron/sqlx"
)

const reservationColumns = `id, category, resource_key, slot_date, time_slot, host_id, host_name,
	participants, min_participants, details, status, version, created_at, updated_at, cancelled_at`

type reservationRow struct {
	ID              string     `db:"id"`
	Category        string     `db:"category"`
	ResourceKey     string     `db:"resource_key"`
	SlotDate        string     `db:"slot_date"`
	TimeSlot        string     `db:"time_slot"`
	HostID          string     `db:"host_id"`
	HostName        string     `db:"host_name"`
	Participants    string     `db:"participants"`
	MinParticipants int        `db:"min_participants"`
	Details         string     `db:"details"`
	Status          string     `db:"status"`
	Version         int64      `db:"version"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	CancelledAt     *time.Time `db:"cancelled_at"`
}

func (row *reservationRow) toModel() (*models.Reservation, error) {
	r := &models.Reservation{
		ID:              row.ID,
		Category:        models.Category(row.Category),
		ResourceKey:     row.ResourceKey,
		Date:            row.SlotDate,
		TimeSlot:        row.TimeSlot,
		HostID:          row.HostID,
		HostName:        row.HostName,
		MinParticipants: row.MinParticipants,
		Status:          models.ReservationStatus(row.Status),
		Version:         row.Version,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		CancelledAt:     row.CancelledAt,
	}

	if err := json.Unmarshal([]byte(row.Participants), &r.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants of %s: %w", row.ID, err)
	}
	if r.Participants == nil {
		r.Participants = []string{}
	}

	var err error
	switch r.Category {
	case models.CategorySport:
		r.Sport = &models.SportDetails{}
		err = json.Unmarshal([]byte(row.Details), r.Sport)
	case models.CategoryExercise:
		r.Exercise = &models.ExerciseDetails{}
		err = json.Unmarshal([]byte(row.Details), r.Exercise)
	case models.CategoryCoworking:
		r.Coworking = &models.CoworkingDetails{}
		err = json.Unmarshal([]byte(row.Details), r.Coworking)
	default:
		err = fmt.Errorf("unknown category %q", row.Category)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode details of %s: %w", row.ID, err)
	}
	return r, nil
}

func newReservationRow(r *models.Reservation) (*reservationRow, error) {
	details := r.Details()
	if details == nil {
		return nil, fmt.Errorf("reservation %s has no resource details", r.ID)
	}
	rawDetails, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	participants := r.Participants
	if participants == nil {
		participants = []string{}
	}
	rawParticipants, err := json.Marshal(participants)
	if err != nil {
		return nil, err
	}
	return &reservationRow{
		ID:              r.ID,
		Category:        string(details.Category()),
		ResourceKey:     details.ResourceKey(),
		SlotDate:        r.Date,
		TimeSlot:        r.TimeSlot,
		HostID:          r.HostID,
		HostName:        r.HostName,
		Participants:    string(rawParticipants),
		MinParticipants: r.MinParticipants,
		Details:         string(rawDetails),
		Status:          string(r.Status),
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CancelledAt:     r.CancelledAt,
	}, nil
}

// CreateReservationWithLock checks the slot and inserts inside one transaction.
// The partial unique index on active slots backs the check under concurrency.
func (db *DB) CreateReservationWithLock(ctx context.Context, r *models.Reservation) error {
	now := time.Now().UTC()
	r.Status = models.ReservationActive
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	r.CancelledAt = nil

	row, err := newReservationRow(r)
	if err != nil {
		return err
	}
	r.Category = models.Category(row.Category)
	r.ResourceKey = row.ResourceKey

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var taken int
	err = tx.GetContext(ctx, &taken, tx.Rebind(`
        SELECT COUNT(*) FROM reservations
        WHERE resource_key = ? AND slot_date = ? AND time_slot = ? AND status <> ?`),
		row.ResourceKey, row.SlotDate, row.TimeSlot, models.ReservationCancelled)
	if err != nil {
		return fmt.Errorf("failed to check slot in tx: %w", err)
	}
	if taken > 0 {
		return ErrSlotTaken
	}

	_, err = tx.NamedExecContext(ctx, `
        INSERT INTO reservations (`+reservationColumns+`)
        VALUES (:id, :category, :resource_key, :slot_date, :time_slot, :host_id, :host_name,
            :participants, :min_participants, :details, :status, :version, :created_at, :updated_at, :cancelled_at)`,
		row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("failed to insert reservation in tx: %w", err)
	}

	return tx.Commit()
}

func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return getReservation(ctx, db, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
}

// lockReservation reads the reservation inside tx, holding a row lock on PostgreSQL.
// SQLite transactions are opened immediate and already serialize writers.
func (db *DB) lockReservation(ctx context.Context, tx *sqlx.Tx, id string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	if db.driver == DriverPostgres {
		query += " FOR UPDATE"
	}
	return getReservation(ctx, tx, query, id)
}

func getReservation(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) (*models.Reservation, error) {
	var row reservationRow
	if err := sqlx.GetContext(ctx, q, &row, q.Rebind(query), args...); err != nil {
		return nil, notFound(err)
	}
	return row.toModel()
}

func (db *DB) GetReservationsByIDs(ctx context.Context, ids []string) (map[string]*models.Reservation, error) {
	out := make(map[string]*models.Reservation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT `+reservationColumns+` FROM reservations WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := db.scanReservations(ctx, db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// ListReservations returns reservations matching f, newest first when filtering
// by host, otherwise ordered by date and slot.
func (db *DB) ListReservations(ctx context.Context, f models.SlotFilter) ([]*models.Reservation, error) {
	var (
		where []string
		args  []interface{}
	)
	if !f.IncludeCancelled {
		where = append(where, "status <> ?")
		args = append(args, models.ReservationCancelled)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Date != "" {
		where = append(where, "slot_date = ?")
		args = append(args, f.Date)
	}
	if f.FromDate != "" {
		where = append(where, "slot_date >= ?")
		args = append(args, f.FromDate)
	}
	if f.ToDate != "" {
		where = append(where, "slot_date <= ?")
		args = append(args, f.ToDate)
	}
	if f.TimeSlot != "" {
		where = append(where, "time_slot = ?")
		args = append(args, f.TimeSlot)
	}
	if f.KeyPrefix != "" {
		where = append(where, "resource_key LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.KeyPrefix)+"%")
	}
	if f.HostID != "" {
		where = append(where, "host_id = ?")
		args = append(args, f.HostID)
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.HostID != "" {
		query += " ORDER BY created_at DESC"
	} else {
		query += " ORDER BY slot_date, time_slot, resource_key"
	}

	return db.scanReservations(ctx, db.Rebind(query), args...)
}

func (db *DB) scanReservations(ctx context.Context, query string, args ...interface{}) ([]*models.Reservation, error) {
	var rows []reservationRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	out := make([]*models.Reservation, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// updateParticipants replaces the participant list if the row is still at version.
func updateParticipants(ctx context.Context, q sqlx.ExtContext, id string, version int64, participants []string, at time.Time) error {
	raw, err := json.Marshal(participants)
	if err != nil {
		return err
	}
	result, err := q.ExecContext(ctx, q.Rebind(`UPDATE reservations SET participants = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND version = ?`), string(raw), at, id, version)
	if err != nil {
		return fmt.Errorf("failed to update participants: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// cancelActive flips an active reservation to cancelled. It reports false when
// the reservation is missing or already cancelled.
func cancelActive(ctx context.Context, q sqlx.ExtContext, id string, at time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, q.Rebind(`UPDATE reservations SET status = ?, cancelled_at = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND status <> ?`), models.ReservationCancelled, at, at, id, models.ReservationCancelled)
	if err != nil {
		return false, fmt.Errorf("failed to cancel reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// CancelReservationCascade cancels the reservation and deletes its invitations atomically.
// Invitations of an already cancelled reservation are still removed; the result
// reports whether the status changed.
func (db *DB) CancelReservationCascade(ctx context.Context, id string, at time.Time) (bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	changed, err := cancelActive(ctx, tx, id, at.UTC())
	if err != nil {
		return false, err
	}
	if !changed {
		var exists int
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM reservations WHERE id = ?`), id); err != nil {
			return false, fmt.Errorf("failed to look up reservation in tx: %w", err)
		}
		if exists == 0 {
			return false, nil
		}
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM invitations WHERE reservation_id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to delete invitations in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return changed, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`%`, `\%`, `_`, `\_`).Replace(s)
}
