package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"campusbook/internal/catalog"
	"campusbook/internal/database"
	"campusbook/internal/domain"
	"campusbook/internal/models"
	"campusbook/internal/repository"
	"campusbook/internal/retry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyInvitation(ctx context.Context, receiver, sender *models.User, r *models.Reservation, inv *models.Invitation) error {
	return m.Called(ctx, receiver, sender, r, inv).Error(0)
}

func (m *mockNotifier) NotifyResponse(ctx context.Context, host, invitee *models.User, r *models.Reservation, status models.InvitationStatus) error {
	return m.Called(ctx, host, invitee, r, status).Error(0)
}

type recordedEvent struct {
	Type    string
	Payload interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) PublishJSON(_ context.Context, eventType string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Payload: payload})
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db       *database.DB
	repo     domain.Repository
	booking  *BookingService
	invites  *InvitationService
	users    *UserService
	notifier *mockNotifier
	events   *eventRecorder
	clock    *clock
}

type envOption func(*envConfig)

type envConfig struct {
	wrap      func(*database.DB) domain.Repository
	rateLimit int
}

func withRepo(wrap func(*database.DB) domain.Repository) envOption {
	return func(c *envConfig) { c.wrap = wrap }
}

func withRateLimit(n int) envOption {
	return func(c *envConfig) { c.rateLimit = n }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{wrap: func(db *database.DB) domain.Repository { return db }}
	for _, o := range opts {
		o(&cfg)
	}

	logger := zerolog.New(io.Discard)
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "svc.db"), "", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cat, err := catalog.New(catalog.Config{})
	require.NoError(t, err)

	repo := cfg.wrap(db)
	notifier := new(mockNotifier)
	notifier.On("NotifyInvitation", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier.On("NotifyResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	recorder := &eventRecorder{}
	clk := &clock{now: time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)}

	invites := NewInvitationService(repo, repository.NewMemoryStateRepository(), notifier, recorder, InvitationOptions{
		RateLimit:       cfg.rateLimit,
		RateLimitWindow: time.Minute,
		Retry:           retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond},
	}, &logger)
	invites.now = clk.Now

	booking := NewBookingService(repo, cat, invites, recorder, &logger)
	booking.now = clk.Now

	return &testEnv{
		db:       db,
		repo:     repo,
		booking:  booking,
		invites:  invites,
		users:    NewUserService(repo, &logger),
		notifier: notifier,
		events:   recorder,
		clock:    clk,
	}
}

func (e *testEnv) user(t *testing.T, name, email string) *models.User {
	t.Helper()
	u, err := e.users.EnsureUser(context.Background(), uuid.NewString(), email, name)
	require.NoError(t, err)
	return u
}

func sportRequest(hostID, sport, date, slot string, invitees ...string) domain.BookingRequest {
	return domain.BookingRequest{
		Category: models.CategorySport,
		HostID:   hostID,
		Sport:    &domain.SportRequest{Sport: sport, Date: date, TimeSlot: slot, Invitees: invitees},
	}
}

func (e *testEnv) book(t *testing.T, req domain.BookingRequest) *models.Reservation {
	t.Helper()
	res, err := e.booking.CreateReservation(context.Background(), req)
	require.NoError(t, err)
	return res.Reservation
}

func (e *testEnv) invite(t *testing.T, hostID, email, reservationID string) *models.Invitation {
	t.Helper()
	inv, err := e.invites.SendInvitation(context.Background(), hostID, email, reservationID)
	require.NoError(t, err)
	return inv
}
