package models

import "time"

type Invitation struct {
	ID            string           `json:"id" db:"id"`
	SenderID      string           `json:"sender_id" db:"sender_id"`
	ReceiverID    string           `json:"receiver_id" db:"receiver_id"`
	ReservationID string           `json:"reservation_id" db:"reservation_id"`
	Status        InvitationStatus `json:"status" db:"status"`
	ExpiresAt     time.Time        `json:"expires_at" db:"expires_at"`
	RespondedAt   *time.Time       `json:"responded_at,omitempty" db:"responded_at"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// IsExpired reports whether the response deadline has passed at now.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// EffectiveStatus classifies a pending invitation past its deadline as expired.
// The stored status is left untouched.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && i.IsExpired(now) {
		return InvitationExpired
	}
	return i.Status
}

// InvitationCounts is a snapshot of an invitation set used by the quorum rule.
type InvitationCounts struct {
	Total    int `db:"total"`
	Declined int `db:"declined"`
	Accepted int `db:"accepted"`
	Pending  int `db:"pending"`
}

// MajorityDeclined is true when declines are a strict majority of all issued invitations.
func (c InvitationCounts) MajorityDeclined() bool {
	return c.Total > 0 && 2*c.Declined > c.Total
}

// DecisionOutcome is the committed result of recording an invitation response.
// Cancelled is true only when this response tipped the quorum.
type DecisionOutcome struct {
	Reservation *Reservation
	Counts      InvitationCounts
	Cancelled   bool
}

// InvitationDetail is the host side view of one invitation.
type InvitationDetail struct {
	InvitationID  string           `json:"invitation_id"`
	ReceiverEmail string           `json:"receiver_email"`
	ReceiverName  string           `json:"receiver_name"`
	Status        InvitationStatus `json:"status"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

type OwnedReservation struct {
	*Reservation
	InvitationDetails []InvitationDetail `json:"invitation_details"`
}

type ReceivedInvitation struct {
	InvitationID string           `json:"invitation_id"`
	Status       InvitationStatus `json:"status"`
	SenderName   string           `json:"sender_name"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Expired      bool             `json:"expired"`
	Reservation  *Reservation     `json:"reservation"`
}

type UserReservations struct {
	Owned    []OwnedReservation   `json:"owned"`
	Received []ReceivedInvitation `json:"received"`
}

// ResponseResult is returned to the invitee right after answering.
type ResponseResult struct {
	InvitationID         string           `json:"invitation_id"`
	Status               InvitationStatus `json:"status"`
	Message              string           `json:"message"`
	ReservationCancelled bool             `json:"reservation_cancelled"`
}

// InviteOutcome reports a single invite issued while booking.
type InviteOutcome struct {
	Email        string `json:"email"`
	InvitationID string `json:"invitation_id,omitempty"`
	Error        string `json:"error,omitempty"`
}
