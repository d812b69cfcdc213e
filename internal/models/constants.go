package models

import "time"

type Category string

const (
	CategorySport     Category = "sport"
	CategoryExercise  Category = "exercise"
	CategoryCoworking Category = "coworking"
)

// Valid reports whether c is one of the bookable categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySport, CategoryExercise, CategoryCoworking:
		return true
	}
	return false
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCancelled ReservationStatus = "cancelled"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

const (
	// InvitationTTL is fixed for every invitation, it is not configurable per call.
	InvitationTTL = time.Hour

	// DateLayout is the calendar date format used by reservations.
	DateLayout = "2006-01-02"

	// DefaultInviteRateLimit invitations a host may send per window.
	DefaultInviteRateLimit  = 20
	DefaultInviteRateWindow = 10 * time.Minute

	// DecisionAttempts how many times an invitation response transaction is tried.
	DecisionAttempts = 3

	DefaultExportRangeDays = 92
)

const (
	CancelReasonHost   = "host"
	CancelReasonQuorum = "quorum"
)
