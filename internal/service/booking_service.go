package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"campusbook/internal/catalog"
	"campusbook/internal/database"
	"campusbook/internal/domain"
	"campusbook/internal/events"
	"campusbook/internal/metrics"
	"campusbook/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("campusbook/internal/service")

type BookingService struct {
	repo        domain.Repository
	catalog     *catalog.Catalog
	invitations domain.InvitationService
	eventBus    domain.EventPublisher
	validate    *validator.Validate
	logger      *zerolog.Logger
	now         func() time.Time
}

// NewBookingService wires the booking engine. invitations and eventBus may be nil.
func NewBookingService(repo domain.Repository, cat *catalog.Catalog, invitations domain.InvitationService, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		repo:        repo,
		catalog:     cat,
		invitations: invitations,
		eventBus:    eventBus,
		validate:    newValidator(),
		logger:      logger,
		now:         time.Now,
	}
}

func (s *BookingService) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *BookingService) CreateReservation(ctx context.Context, req domain.BookingRequest) (*domain.BookingResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.CreateReservation",
		trace.WithAttributes(attribute.String("category", string(req.Category))))
	defer span.End()

	r, invitees, err := s.buildReservation(req)
	if err != nil {
		metrics.IncReservation(string(req.Category), "rejected")
		return nil, err
	}

	host, err := s.repo.GetUserByID(ctx, req.HostID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, s.internal(span, "load host", err)
	}
	r.ID = uuid.NewString()
	r.HostID = host.ID
	r.HostName = host.DisplayName()
	r.Participants = []string{}

	if err := s.repo.CreateReservationWithLock(ctx, r); err != nil {
		if errors.Is(err, database.ErrSlotTaken) {
			metrics.IncReservation(string(r.Category), "conflict")
			return nil, conflictMessage(r)
		}
		return nil, s.internal(span, "create reservation", err)
	}
	metrics.IncReservation(string(r.Category), "created")
	span.SetAttributes(attribute.String("reservation_id", r.ID))

	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("resource_key", r.ResourceKey).
		Str("date", r.Date).
		Str("time_slot", r.TimeSlot).
		Str("host_id", r.HostID).
		Msg("reservation created")
	s.publishReservation(ctx, events.EventReservationCreated, r, "")

	result := &domain.BookingResult{Reservation: r}
	for _, email := range invitees {
		outcome := models.InviteOutcome{Email: email}
		if s.invitations == nil {
			outcome.Error = "invitations are disabled"
		} else if inv, err := s.invitations.SendInvitation(ctx, host.ID, email, r.ID); err != nil {
			outcome.Error = domain.PublicMessage(err)
		} else {
			outcome.InvitationID = inv.ID
		}
		result.Invites = append(result.Invites, outcome)
	}
	return result, nil
}

// buildReservation validates the request against the catalog. It never touches the store.
func (s *BookingService) buildReservation(req domain.BookingRequest) (*models.Reservation, []string, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, validationError(err)
	}

	r := &models.Reservation{Status: models.ReservationActive}
	var invitees []string

	switch req.Category {
	case models.CategorySport:
		sport, ok := s.catalog.Sport(req.Sport.Sport)
		if !ok {
			return nil, nil, domain.ErrInvalidResource
		}
		r.Date = req.Sport.Date
		r.TimeSlot = strings.TrimSpace(req.Sport.TimeSlot)
		r.MinParticipants = sport.MinParticipants
		r.SetDetails(models.SportDetails{Sport: sport.Key, SportName: sport.Name})
		invitees = dedupeEmails(req.Sport.Invitees)

	case models.CategoryExercise:
		facility, ok := s.catalog.Facility(req.Exercise.Facility)
		if !ok {
			return nil, nil, domain.ErrInvalidResource
		}
		if err := checkUnit(req.Exercise.Unit, facility.TotalUnits); err != nil {
			return nil, nil, err
		}
		period, ok := facility.HasPeriod(req.Exercise.Period)
		if !ok {
			return nil, nil, domain.Validationf("Time slot must be one of: %s.", periodNames(facility))
		}
		r.Date = req.Exercise.Date
		r.TimeSlot = period
		r.MinParticipants = 1
		r.SetDetails(models.ExerciseDetails{
			Facility:     facility.ID,
			FacilityName: facility.Name,
			UnitLabel:    facility.UnitLabel,
			UnitNumber:   req.Exercise.Unit,
		})

	case models.CategoryCoworking:
		space, ok := s.catalog.Space(req.Coworking.Hub, req.Coworking.SpaceID)
		if !ok {
			return nil, nil, domain.ErrInvalidResource
		}
		if err := checkUnit(req.Coworking.Unit, space.TotalUnits); err != nil {
			return nil, nil, err
		}
		r.Date = req.Coworking.Date
		r.TimeSlot = strings.TrimSpace(req.Coworking.TimeSlot)
		r.MinParticipants = 1
		r.SetDetails(models.CoworkingDetails{
			Hub:        space.Hub,
			SpaceID:    space.ID,
			SpaceName:  space.Name,
			Location:   space.Location,
			UnitLabel:  space.UnitLabel,
			UnitNumber: req.Coworking.Unit,
		})
	}

	if r.TimeSlot == "" {
		return nil, nil, domain.Validationf("time_slot is required")
	}
	return r, invitees, nil
}

func checkUnit(unit, total int) error {
	if unit < 1 || unit > total {
		return domain.Validationf("Unit must be between 1 and %d.", total)
	}
	return nil
}

func periodNames(f catalog.Facility) string {
	names := make([]string, 0, len(f.Periods))
	for _, p := range f.Periods {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}

func conflictMessage(r *models.Reservation) error {
	if r.Sport != nil {
		return domain.Conflictf("%s is already booked for this slot.", r.Sport.SportName)
	}
	return domain.Conflictf("%s is already booked for this slot.", r.Details().Unit())
}

func dedupeEmails(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = models.NormalizeEmail(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// ListReservationsForUser returns what the user hosts and the invitations waiting on them.
func (s *BookingService) ListReservationsForUser(ctx context.Context, email string, includeCancelled bool) (*models.UserReservations, error) {
	ctx, span := tracer.Start(ctx, "BookingService.ListReservationsForUser")
	defer span.End()

	if strings.TrimSpace(email) == "" {
		return nil, domain.Validationf("email is required")
	}
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, s.internal(span, "load user", err)
	}

	owned, err := s.ownedReservations(ctx, user, includeCancelled)
	if err != nil {
		return nil, s.internal(span, "list owned reservations", err)
	}
	received, err := s.receivedInvitations(ctx, user)
	if err != nil {
		return nil, s.internal(span, "list received invitations", err)
	}
	return &models.UserReservations{Owned: owned, Received: received}, nil
}

func (s *BookingService) ownedReservations(ctx context.Context, user *models.User, includeCancelled bool) ([]models.OwnedReservation, error) {
	reservations, err := s.repo.ListReservations(ctx, models.SlotFilter{HostID: user.ID, IncludeCancelled: includeCancelled})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(reservations))
	for _, r := range reservations {
		ids = append(ids, r.ID)
	}
	invitations, err := s.repo.ListInvitationsByReservations(ctx, ids)
	if err != nil {
		return nil, err
	}

	receiverIDs := make([]string, 0)
	for _, list := range invitations {
		for _, inv := range list {
			receiverIDs = append(receiverIDs, inv.ReceiverID)
		}
	}
	receivers, err := s.repo.GetUsersByIDs(ctx, receiverIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	owned := make([]models.OwnedReservation, 0, len(reservations))
	for _, r := range reservations {
		details := make([]models.InvitationDetail, 0, len(invitations[r.ID]))
		for _, inv := range invitations[r.ID] {
			d := models.InvitationDetail{
				InvitationID: inv.ID,
				Status:       inv.EffectiveStatus(now),
				ExpiresAt:    inv.ExpiresAt,
			}
			if u, ok := receivers[inv.ReceiverID]; ok {
				d.ReceiverEmail = u.Email
				d.ReceiverName = u.DisplayName()
			}
			details = append(details, d)
		}
		owned = append(owned, models.OwnedReservation{Reservation: r, InvitationDetails: details})
	}
	return owned, nil
}

func (s *BookingService) receivedInvitations(ctx context.Context, user *models.User) ([]models.ReceivedInvitation, error) {
	pending, err := s.repo.ListPendingInvitationsForReceiver(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	resIDs := make([]string, 0, len(pending))
	senderIDs := make([]string, 0, len(pending))
	for _, inv := range pending {
		resIDs = append(resIDs, inv.ReservationID)
		senderIDs = append(senderIDs, inv.SenderID)
	}
	reservations, err := s.repo.GetReservationsByIDs(ctx, resIDs)
	if err != nil {
		return nil, err
	}
	senders, err := s.repo.GetUsersByIDs(ctx, senderIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	received := make([]models.ReceivedInvitation, 0, len(pending))
	for _, inv := range pending {
		r, ok := reservations[inv.ReservationID]
		if !ok || r.IsCancelled() {
			continue
		}
		sender, ok := senders[inv.SenderID]
		if !ok {
			continue
		}
		received = append(received, models.ReceivedInvitation{
			InvitationID: inv.ID,
			Status:       inv.EffectiveStatus(now),
			SenderName:   sender.DisplayName(),
			ExpiresAt:    inv.ExpiresAt,
			Expired:      inv.IsExpired(now),
			Reservation:  r,
		})
	}
	return received, nil
}

// BookedSlots lists taken slots so clients can grey them out.
func (s *BookingService) BookedSlots(ctx context.Context, q domain.SlotQuery) ([]*models.Reservation, error) {
	filter, err := s.slotFilter(q)
	if err != nil {
		return nil, err
	}
	slots, err := s.repo.ListReservations(ctx, filter)
	if err != nil {
		return nil, domain.Internal("failed to list booked slots", err)
	}
	return slots, nil
}

// slotFilter resolves catalog identifiers into a resource key prefix.
func (s *BookingService) slotFilter(q domain.SlotQuery) (models.SlotFilter, error) {
	filter := models.SlotFilter{Category: q.Category, Date: q.Date, TimeSlot: strings.TrimSpace(q.TimeSlot)}
	if q.Date != "" {
		if _, err := time.Parse(models.DateLayout, q.Date); err != nil {
			return filter, domain.Validationf("date must be a date in YYYY-MM-DD format")
		}
	}

	switch q.Category {
	case "":
		if q.Sport != "" || q.Facility != "" || q.Hub != "" || q.SpaceID != "" {
			return filter, domain.Validationf("category is required when filtering by resource")
		}
	case models.CategorySport:
		if q.Sport != "" {
			sport, ok := s.catalog.Sport(q.Sport)
			if !ok {
				return filter, domain.ErrInvalidResource
			}
			filter.KeyPrefix = models.SportDetails{Sport: sport.Key}.ResourceKey()
		}
	case models.CategoryExercise:
		if q.Facility != "" {
			facility, ok := s.catalog.Facility(q.Facility)
			if !ok {
				return filter, domain.ErrInvalidResource
			}
			filter.KeyPrefix = fmt.Sprintf("exercise:%s:", facility.ID)
		}
	case models.CategoryCoworking:
		switch {
		case q.SpaceID != "":
			space, ok := s.catalog.Space(q.Hub, q.SpaceID)
			if !ok {
				return filter, domain.ErrInvalidResource
			}
			filter.KeyPrefix = fmt.Sprintf("coworking:%s:%s:", space.Hub, space.ID)
		case q.Hub != "":
			spaces := s.catalog.SpacesInHub(q.Hub)
			if len(spaces) == 0 {
				return filter, domain.ErrInvalidResource
			}
			filter.KeyPrefix = fmt.Sprintf("coworking:%s:", spaces[0].Hub)
		}
	default:
		return filter, domain.Validationf("category must be one of: sport exercise coworking")
	}
	return filter, nil
}

// CancelReservation soft-cancels a reservation on behalf of its host and drops its invitations.
func (s *BookingService) CancelReservation(ctx context.Context, id, actorID string) (*domain.CancelResult, error) {
	ctx, span := tracer.Start(ctx, "BookingService.CancelReservation", trace.WithAttributes(attribute.String("reservation_id", id)))
	defer span.End()

	if strings.TrimSpace(id) == "" {
		return nil, domain.Validationf("reservation id is required")
	}
	notFound := &domain.CancelResult{ReservationID: id, Message: "Reservation not found or already cancelled."}

	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return notFound, nil
		}
		return nil, s.internal(span, "load reservation", err)
	}
	if r.HostID != actorID {
		return nil, domain.Forbiddenf("only the host can cancel this reservation")
	}
	if r.IsCancelled() {
		// drop leftover invitations, the end state matches a first cancel
		if _, err := s.repo.CancelReservationCascade(ctx, id, s.now()); err != nil {
			return nil, s.internal(span, "cancel reservation", err)
		}
		return notFound, nil
	}

	changed, err := s.repo.CancelReservationCascade(ctx, id, s.now())
	if err != nil {
		return nil, s.internal(span, "cancel reservation", err)
	}
	if !changed {
		return notFound, nil
	}

	metrics.IncCancellation(models.CancelReasonHost)
	r.Status = models.ReservationCancelled
	s.logger.Info().Str("reservation_id", id).Str("actor_id", actorID).Msg("reservation cancelled by host")
	s.publishReservation(ctx, events.EventReservationCancelled, r, models.CancelReasonHost)

	return &domain.CancelResult{ReservationID: id, Cancelled: true, Message: "Reservation cancelled successfully."}, nil
}

// ReservationsInRange feeds the admin exports; both ends are inclusive calendar dates.
func (s *BookingService) ReservationsInRange(ctx context.Context, from, to time.Time) ([]*models.Reservation, error) {
	if to.Before(from) {
		return nil, domain.Validationf("to must not be before from")
	}
	list, err := s.repo.ListReservations(ctx, models.SlotFilter{
		FromDate:         from.Format(models.DateLayout),
		ToDate:           to.Format(models.DateLayout),
		IncludeCancelled: true,
	})
	if err != nil {
		return nil, domain.Internal("list reservations", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].TimeSlot < list[j].TimeSlot
	})
	return list, nil
}

func (s *BookingService) publishReservation(ctx context.Context, eventType string, r *models.Reservation, reason string) {
	if s.eventBus == nil {
		return
	}
	payload := reservationPayload(r, reason, s.now())
	if err := s.eventBus.PublishJSON(ctx, eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("reservation_id", r.ID).Msg("publish event error")
	}
}

func reservationPayload(r *models.Reservation, reason string, at time.Time) events.ReservationEventPayload {
	return events.ReservationEventPayload{
		ReservationID: r.ID,
		Category:      string(r.Category),
		ResourceKey:   r.ResourceKey,
		Title:         r.Title(),
		Date:          r.Date,
		TimeSlot:      r.TimeSlot,
		HostID:        r.HostID,
		HostName:      r.HostName,
		Participants:  r.Participants,
		Status:        string(r.Status),
		Reason:        reason,
		OccurredAt:    at.UTC(),
	}
}

func (s *BookingService) internal(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.Error().Err(err).Msg(msg)
	return domain.Internal(fmt.Sprintf("failed to %s", msg), err)
}
