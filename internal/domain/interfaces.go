package domain

import (
	"context"
	"time"

	"campusbook/internal/catalog"
	"campusbook/internal/models"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
}

type ReservationRepository interface {
	CreateReservationWithLock(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	GetReservationsByIDs(ctx context.Context, ids []string) (map[string]*models.Reservation, error)
	ListReservations(ctx context.Context, filter models.SlotFilter) ([]*models.Reservation, error)
	CancelReservationCascade(ctx context.Context, id string, at time.Time) (bool, error)
}

type InvitationRepository interface {
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, id string) (*models.Invitation, error)
	FindInvitation(ctx context.Context, receiverID, reservationID string) (*models.Invitation, error)
	ListInvitationsByReservations(ctx context.Context, reservationIDs []string) (map[string][]*models.Invitation, error)
	ListPendingInvitationsForReceiver(ctx context.Context, receiverID string) ([]*models.Invitation, error)
	// RecordDecision applies a response and its participant or quorum effect atomically.
	RecordDecision(ctx context.Context, invitationID string, decision models.InvitationStatus, participant string, at time.Time) (*models.DecisionOutcome, error)
}

type Repository interface {
	UserRepository
	ReservationRepository
	InvitationRepository
	PingContext(ctx context.Context) error
}

type StateRepository interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, eventType string, payload interface{}) error
}

// Notifier delivers invitation emails. Callers log and drop its errors.
type Notifier interface {
	NotifyInvitation(ctx context.Context, receiver, sender *models.User, r *models.Reservation, inv *models.Invitation) error
	NotifyResponse(ctx context.Context, host, invitee *models.User, r *models.Reservation, status models.InvitationStatus) error
}

type SheetsWriter interface {
	ReplaceReservations(ctx context.Context, reservations []*models.Reservation) error
}

type BookingService interface {
	CreateReservation(ctx context.Context, req BookingRequest) (*BookingResult, error)
	ListReservationsForUser(ctx context.Context, email string, includeCancelled bool) (*models.UserReservations, error)
	BookedSlots(ctx context.Context, q SlotQuery) ([]*models.Reservation, error)
	CancelReservation(ctx context.Context, id, actorID string) (*CancelResult, error)
	ReservationsInRange(ctx context.Context, from, to time.Time) ([]*models.Reservation, error)
	Catalog() *catalog.Catalog
}

type InvitationService interface {
	SendInvitation(ctx context.Context, senderID, receiverEmail, reservationID string) (*models.Invitation, error)
	RespondToInvitation(ctx context.Context, invitationID, responderID string, decision models.InvitationStatus) (*models.ResponseResult, error)
	AutoDeclineExpired(ctx context.Context, invitationID, actorID string) (*models.ResponseResult, error)
}

type UserService interface {
	EnsureUser(ctx context.Context, id, email, name string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// BookingRequest is the tagged booking payload. Exactly one variant matching
// Category must be set; HostID comes from the authenticated caller.
type BookingRequest struct {
	Category  models.Category   `json:"category" validate:"required,oneof=sport exercise coworking"`
	Sport     *SportRequest     `json:"sport,omitempty" validate:"required_if=Category sport,omitempty"`
	Exercise  *ExerciseRequest  `json:"exercise,omitempty" validate:"required_if=Category exercise,omitempty"`
	Coworking *CoworkingRequest `json:"coworking,omitempty" validate:"required_if=Category coworking,omitempty"`
	HostID    string            `json:"-" validate:"required"`
}

type SportRequest struct {
	Sport    string   `json:"sport" validate:"required"`
	Date     string   `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot string   `json:"time_slot" validate:"required"`
	Invitees []string `json:"invitees,omitempty" validate:"omitempty,dive,required,email"`
}

type ExerciseRequest struct {
	Facility string `json:"facility" validate:"required"`
	Unit     int    `json:"unit"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Period   string `json:"period" validate:"required"`
}

type CoworkingRequest struct {
	Hub      string `json:"hub" validate:"required"`
	SpaceID  string `json:"space_id" validate:"required"`
	Unit     int    `json:"unit"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot string `json:"time_slot" validate:"required"`
}

// SlotQuery narrows booked slot listings. Resource fields are catalog identifiers
// and require Category.
type SlotQuery struct {
	Category models.Category `json:"category" form:"category"`
	Date     string          `json:"date" form:"date"`
	TimeSlot string          `json:"time_slot" form:"time_slot"`
	Sport    string          `json:"sport" form:"sport"`
	Facility string          `json:"facility" form:"facility"`
	Hub      string          `json:"hub" form:"hub"`
	SpaceID  string          `json:"space_id" form:"space_id"`
}

type BookingResult struct {
	Reservation *models.Reservation    `json:"reservation"`
	Invites     []models.InviteOutcome `json:"invites,omitempty"`
}

type CancelResult struct {
	ReservationID string `json:"reservation_id"`
	Cancelled     bool   `json:"cancelled"`
	Message       string `json:"message"`
}
