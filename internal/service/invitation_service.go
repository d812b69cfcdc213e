package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusbook/internal/database"
	"campusbook/internal/domain"
	"campusbook/internal/events"
	"campusbook/internal/metrics"
	"campusbook/internal/models"
	"campusbook/internal/retry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InvitationOptions tunes rate limiting and the retry of response writes.
type InvitationOptions struct {
	RateLimit       int
	RateLimitWindow time.Duration
	Retry           retry.Policy
}

func (o *InvitationOptions) applyDefaults() {
	if o.RateLimit <= 0 {
		o.RateLimit = models.DefaultInviteRateLimit
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = models.DefaultInviteRateWindow
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.Policy{
			MaxAttempts:   models.DecisionAttempts,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			BackoffFactor: 2,
		}
	}
}

type InvitationService struct {
	repo     domain.Repository
	state    domain.StateRepository
	notifier domain.Notifier
	eventBus domain.EventPublisher
	opts     InvitationOptions
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewInvitationService wires the invitation workflow. state, notifier and eventBus may be nil.
func NewInvitationService(repo domain.Repository, state domain.StateRepository, notifier domain.Notifier, eventBus domain.EventPublisher, opts InvitationOptions, logger *zerolog.Logger) *InvitationService {
	opts.applyDefaults()
	return &InvitationService{
		repo:     repo,
		state:    state,
		notifier: notifier,
		eventBus: eventBus,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *InvitationService) SendInvitation(ctx context.Context, senderID, receiverEmail, reservationID string) (*models.Invitation, error) {
	ctx, span := tracer.Start(ctx, "InvitationService.SendInvitation",
		trace.WithAttributes(attribute.String("reservation_id", reservationID)))
	defer span.End()

	receiverEmail = models.NormalizeEmail(receiverEmail)
	if receiverEmail == "" || reservationID == "" {
		return nil, domain.Validationf("receiver_email and reservation_id are required")
	}

	if err := s.checkRateLimit(ctx, senderID); err != nil {
		return nil, err
	}

	receiver, err := s.repo.GetUserByEmail(ctx, receiverEmail)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, domain.ErrReceiverNotFound
		}
		return nil, s.internal(span, "load receiver", err)
	}
	sender, err := s.repo.GetUserByID(ctx, senderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, domain.ErrSenderNotFound
		}
		return nil, s.internal(span, "load sender", err)
	}
	r, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, domain.ErrReservationGone
		}
		return nil, s.internal(span, "load reservation", err)
	}
	if r.IsCancelled() {
		return nil, domain.Conflictf("reservation has been cancelled")
	}
	if r.HostID != sender.ID {
		return nil, domain.Forbiddenf("only the host can invite to this reservation")
	}
	if receiver.ID == sender.ID {
		return nil, domain.Validationf("you cannot invite yourself")
	}

	now := s.now()
	inv := &models.Invitation{
		ID:            uuid.NewString(),
		SenderID:      sender.ID,
		ReceiverID:    receiver.ID,
		ReservationID: r.ID,
		Status:        models.InvitationPending,
		ExpiresAt:     now.Add(models.InvitationTTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		if errors.Is(err, database.ErrDuplicateInvitation) {
			return nil, domain.ErrDuplicateInvite
		}
		return nil, s.internal(span, "create invitation", err)
	}
	metrics.IncInvitation(string(models.InvitationPending))

	s.logger.Info().
		Str("invitation_id", inv.ID).
		Str("reservation_id", r.ID).
		Str("receiver_id", receiver.ID).
		Msg("invitation sent")

	if s.notifier != nil {
		if err := s.notifier.NotifyInvitation(ctx, receiver, sender, r, inv); err != nil {
			s.logger.Warn().Err(err).Str("invitation_id", inv.ID).Msg("invitation email failed")
		}
	}
	s.publishInvitation(ctx, events.EventInvitationSent, inv, receiver.Email)
	return inv, nil
}

func (s *InvitationService) checkRateLimit(ctx context.Context, senderID string) error {
	if s.state == nil {
		return nil
	}
	allowed, err := s.state.CheckRateLimit(ctx, "invite:"+senderID, s.opts.RateLimit, s.opts.RateLimitWindow)
	if err != nil {
		// fail open
		s.logger.Warn().Err(err).Str("sender_id", senderID).Msg("invitation rate limit check failed")
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

// RespondToInvitation records the receiver's decision and applies its side effects.
func (s *InvitationService) RespondToInvitation(ctx context.Context, invitationID, responderID string, decision models.InvitationStatus) (*models.ResponseResult, error) {
	ctx, span := tracer.Start(ctx, "InvitationService.RespondToInvitation",
		trace.WithAttributes(attribute.String("invitation_id", invitationID), attribute.String("decision", string(decision))))
	defer span.End()

	if decision != models.InvitationAccepted && decision != models.InvitationDeclined {
		return nil, domain.Validationf("decision must be accepted or declined")
	}

	inv, err := s.loadInvitation(ctx, span, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.ReceiverID != responderID {
		return nil, domain.Forbiddenf("only the invited user can respond to this invitation")
	}
	now := s.now()
	if inv.Status != models.InvitationPending {
		return nil, domain.ErrAlreadyResponded
	}
	if inv.IsExpired(now) {
		return nil, domain.ErrExpired
	}

	return s.applyDecision(ctx, span, inv, decision, now)
}

// AutoDeclineExpired converts a lapsed pending invitation into a decline.
func (s *InvitationService) AutoDeclineExpired(ctx context.Context, invitationID, actorID string) (*models.ResponseResult, error) {
	ctx, span := tracer.Start(ctx, "InvitationService.AutoDeclineExpired",
		trace.WithAttributes(attribute.String("invitation_id", invitationID)))
	defer span.End()

	inv, err := s.loadInvitation(ctx, span, invitationID)
	if err != nil {
		return nil, err
	}
	if actorID != inv.ReceiverID && actorID != inv.SenderID {
		return nil, domain.Forbiddenf("only the sender or receiver can expire this invitation")
	}
	if inv.Status != models.InvitationPending {
		return nil, domain.ErrAlreadyResponded
	}
	now := s.now()
	if !inv.IsExpired(now) {
		return nil, domain.Validationf("invitation has not expired yet")
	}

	return s.applyDecision(ctx, span, inv, models.InvitationDeclined, now)
}

func (s *InvitationService) loadInvitation(ctx context.Context, span trace.Span, id string) (*models.Invitation, error) {
	if id == "" {
		return nil, domain.Validationf("invitation id is required")
	}
	inv, err := s.repo.GetInvitation(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, domain.ErrInvitationGone
		}
		return nil, s.internal(span, "load invitation", err)
	}
	return inv, nil
}

func (s *InvitationService) applyDecision(ctx context.Context, span trace.Span, inv *models.Invitation, decision models.InvitationStatus, now time.Time) (*models.ResponseResult, error) {
	receiver, err := s.repo.GetUserByID(ctx, inv.ReceiverID)
	if err != nil {
		return nil, s.internal(span, "load receiver", err)
	}

	outcome, err := s.recordDecision(ctx, inv.ID, decision, receiver.DisplayName(), now)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrStatusChanged):
			return nil, domain.ErrAlreadyResponded
		case errors.Is(err, database.ErrNotFound):
			return nil, domain.ErrInvitationGone
		}
		return nil, s.internal(span, "record response", err)
	}
	inv.Status = decision
	inv.RespondedAt = &now
	metrics.IncInvitation(string(decision))

	r := outcome.Reservation
	s.notifyHost(ctx, r, receiver, decision)
	if outcome.Cancelled {
		s.quorumCancelled(ctx, r, outcome.Counts)
	}

	result := &models.ResponseResult{InvitationID: inv.ID, Status: decision, ReservationCancelled: r.IsCancelled()}
	switch {
	case decision == models.InvitationAccepted && result.ReservationCancelled:
		result.Message = "Invitation accepted, but the reservation has been cancelled."
	case decision == models.InvitationAccepted:
		result.Message = "Invitation accepted."
	case outcome.Cancelled:
		result.Message = "Invitation declined. The reservation was cancelled because most invitees declined."
	default:
		result.Message = "Invitation declined."
	}

	s.publishInvitation(ctx, events.EventInvitationResponded, inv, receiver.Email)
	return result, nil
}

// recordDecision retries the response transaction. A failed attempt is rolled
// back, so the invitation stays pending until one attempt commits.
func (s *InvitationService) recordDecision(ctx context.Context, invitationID string, decision models.InvitationStatus, participant string, at time.Time) (*models.DecisionOutcome, error) {
	var outcome *models.DecisionOutcome
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context, attempt int) error {
		var err error
		outcome, err = s.repo.RecordDecision(ctx, invitationID, decision, participant, at)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, database.ErrStatusChanged), errors.Is(err, database.ErrNotFound):
			return retry.Permanent(err)
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("invitation_id", invitationID).Msg("record response attempt failed")
		return err
	})
	return outcome, err
}

func (s *InvitationService) quorumCancelled(ctx context.Context, r *models.Reservation, counts models.InvitationCounts) {
	metrics.IncCancellation(models.CancelReasonQuorum)
	s.logger.Info().
		Str("reservation_id", r.ID).
		Int("declined", counts.Declined).
		Int("total", counts.Total).
		Msg("reservation cancelled by quorum")

	if s.eventBus != nil {
		if err := s.eventBus.PublishJSON(ctx, events.EventReservationCancelled, reservationPayload(r, models.CancelReasonQuorum, s.now())); err != nil {
			s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("publish event error")
		}
	}
}

func (s *InvitationService) notifyHost(ctx context.Context, r *models.Reservation, invitee *models.User, status models.InvitationStatus) {
	if s.notifier == nil {
		return
	}
	host, err := s.repo.GetUserByID(ctx, r.HostID)
	if err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("host lookup for notification failed")
		return
	}
	if err := s.notifier.NotifyResponse(ctx, host, invitee, r, status); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("response email failed")
	}
}

func (s *InvitationService) publishInvitation(ctx context.Context, eventType string, inv *models.Invitation, receiverEmail string) {
	if s.eventBus == nil {
		return
	}
	payload := events.InvitationEventPayload{
		InvitationID:  inv.ID,
		ReservationID: inv.ReservationID,
		SenderID:      inv.SenderID,
		ReceiverID:    inv.ReceiverID,
		ReceiverEmail: receiverEmail,
		Status:        string(inv.Status),
		ExpiresAt:     inv.ExpiresAt.UTC(),
		OccurredAt:    s.now().UTC(),
	}
	if err := s.eventBus.PublishJSON(ctx, eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("invitation_id", inv.ID).Msg("publish event error")
	}
}

func (s *InvitationService) internal(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.Error().Err(err).Msg(msg)
	return domain.Internal(fmt.Sprintf("failed to %s", msg), err)
}
