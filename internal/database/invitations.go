package database

import (
	"context"
	"fmt"
	"time"

	"campusbook/internal/models"

	"github.com/jmoiron/sqlx"
)

const invitationColumns = `id, sender_id, receiver_id, reservation_id, status, expires_at, responded_at, created_at, updated_at`

func (db *DB) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = inv.CreatedAt
	inv.ExpiresAt = inv.ExpiresAt.UTC()
	if inv.Status == "" {
		inv.Status = models.InvitationPending
	}

	_, err := db.NamedExecContext(ctx, `
        INSERT INTO invitations (`+invitationColumns+`)
        VALUES (:id, :sender_id, :receiver_id, :reservation_id, :status, :expires_at, :responded_at, :created_at, :updated_at)`,
		inv)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateInvitation
		}
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

func (db *DB) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	var inv models.Invitation
	err := db.GetContext(ctx, &inv, db.Rebind(`SELECT `+invitationColumns+` FROM invitations WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (db *DB) FindInvitation(ctx context.Context, receiverID, reservationID string) (*models.Invitation, error) {
	var inv models.Invitation
	err := db.GetContext(ctx, &inv, db.Rebind(`SELECT `+invitationColumns+` FROM invitations
        WHERE receiver_id = ? AND reservation_id = ?`), receiverID, reservationID)
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (db *DB) ListInvitationsByReservations(ctx context.Context, reservationIDs []string) (map[string][]*models.Invitation, error) {
	out := make(map[string][]*models.Invitation, len(reservationIDs))
	if len(reservationIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT `+invitationColumns+` FROM invitations
        WHERE reservation_id IN (?) ORDER BY created_at`, reservationIDs)
	if err != nil {
		return nil, err
	}

	var invs []*models.Invitation
	if err := db.SelectContext(ctx, &invs, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	for _, inv := range invs {
		out[inv.ReservationID] = append(out[inv.ReservationID], inv)
	}
	return out, nil
}

func (db *DB) ListPendingInvitationsForReceiver(ctx context.Context, receiverID string) ([]*models.Invitation, error) {
	var invs []*models.Invitation
	err := db.SelectContext(ctx, &invs, db.Rebind(`SELECT `+invitationColumns+` FROM invitations
        WHERE receiver_id = ? AND status = ? ORDER BY created_at DESC`), receiverID, models.InvitationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list received invitations: %w", err)
	}
	return invs, nil
}

// RecordDecision stores an invitation response and its effect on the reservation
// in one transaction. An accept appends participant to an active reservation; a
// decline re-counts the invitations and cancels the reservation (status only) on a
// strict majority. When any step fails nothing is written.
func (db *DB) RecordDecision(ctx context.Context, invitationID string, decision models.InvitationStatus, participant string, at time.Time) (*models.DecisionOutcome, error) {
	if decision != models.InvitationAccepted && decision != models.InvitationDeclined {
		return nil, fmt.Errorf("unsupported decision %q", decision)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	at = at.UTC()
	reservationID, err := respondInvitation(ctx, tx, invitationID, decision, at)
	if err != nil {
		return nil, err
	}
	r, err := db.lockReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	out := &models.DecisionOutcome{Reservation: r}

	if decision == models.InvitationAccepted {
		if !r.IsCancelled() {
			participants := append(append([]string(nil), r.Participants...), participant)
			if err := updateParticipants(ctx, tx, r.ID, r.Version, participants, at); err != nil {
				return nil, err
			}
			r.Participants = participants
			r.Version++
			r.UpdatedAt = at
		}
	} else {
		counts, err := countInvitations(ctx, tx, r.ID)
		if err != nil {
			return nil, err
		}
		out.Counts = counts
		if counts.MajorityDeclined() && !r.IsCancelled() {
			changed, err := cancelActive(ctx, tx, r.ID, at)
			if err != nil {
				return nil, err
			}
			if changed {
				out.Cancelled = true
				r.Status = models.ReservationCancelled
				r.CancelledAt = &at
				r.Version++
				r.UpdatedAt = at
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit decision: %w", err)
	}
	return out, nil
}

// respondInvitation writes the final status only while the invitation is still
// pending and returns its reservation id.
func respondInvitation(ctx context.Context, q sqlx.ExtContext, id string, status models.InvitationStatus, at time.Time) (string, error) {
	var reservationID string
	if err := sqlx.GetContext(ctx, q, &reservationID, q.Rebind(`SELECT reservation_id FROM invitations WHERE id = ?`), id); err != nil {
		return "", notFound(err)
	}

	result, err := q.ExecContext(ctx, q.Rebind(`UPDATE invitations SET status = ?, responded_at = ?, updated_at = ?
        WHERE id = ? AND status = ?`), status, at, at, id, models.InvitationPending)
	if err != nil {
		return "", fmt.Errorf("failed to update invitation: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return "", ErrStatusChanged
	}
	return reservationID, nil
}

// CountInvitations reads the counts the quorum rule is evaluated on.
func (db *DB) CountInvitations(ctx context.Context, reservationID string) (models.InvitationCounts, error) {
	return countInvitations(ctx, db, reservationID)
}

func countInvitations(ctx context.Context, q sqlx.ExtContext, reservationID string) (models.InvitationCounts, error) {
	var c models.InvitationCounts
	err := sqlx.GetContext(ctx, q, &c, q.Rebind(`
        SELECT COUNT(*) AS total,
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS declined,
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS accepted,
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending
        FROM invitations WHERE reservation_id = ?`),
		models.InvitationDeclined, models.InvitationAccepted, models.InvitationPending, reservationID)
	if err != nil {
		return c, fmt.Errorf("failed to count invitations: %w", err)
	}
	return c, nil
}
