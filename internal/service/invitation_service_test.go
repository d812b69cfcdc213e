package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"campusbook/internal/database"
	"campusbook/internal/domain"
	"campusbook/internal/events"
	"campusbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestQuorumCancellation_BadmintonScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")
	b := env.user(t, "Bob", "b@uni.ac.th")
	c := env.user(t, "Carol", "c@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	invA := env.invite(t, host.ID, a.Email, r.ID)
	invB := env.invite(t, host.ID, b.Email, r.ID)
	invC := env.invite(t, host.ID, c.Email, r.ID)

	res, err := env.invites.RespondToInvitation(ctx, invA.ID, a.ID, models.InvitationAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, res.Status)
	assert.False(t, res.ReservationCancelled)

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, got.Participants)
	assert.Equal(t, models.ReservationActive, got.Status)

	res, err = env.invites.RespondToInvitation(ctx, invB.ID, b.ID, models.InvitationDeclined)
	require.NoError(t, err)
	assert.False(t, res.ReservationCancelled, "1 of 3 declined is not a majority")

	res, err = env.invites.RespondToInvitation(ctx, invC.ID, c.ID, models.InvitationDeclined)
	require.NoError(t, err)
	assert.True(t, res.ReservationCancelled)

	got, err = env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, got.Status)
	assert.Equal(t, []string{"Alice"}, got.Participants)

	counts, err := env.db.CountInvitations(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total, "quorum cancel keeps invitations")

	assert.Contains(t, env.events.types(), events.EventReservationCancelled)
}

func TestQuorum_TieDoesNotCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")
	b := env.user(t, "Bob", "b@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "tabletennis", "2025-06-01", "18:00"))
	invA := env.invite(t, host.ID, a.Email, r.ID)
	env.invite(t, host.ID, b.Email, r.ID)

	res, err := env.invites.RespondToInvitation(ctx, invA.ID, a.ID, models.InvitationDeclined)
	require.NoError(t, err)
	assert.False(t, res.ReservationCancelled)

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationActive, got.Status)
}

func TestAcceptAfterQuorumCancelKeepsCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")
	b := env.user(t, "Bob", "b@uni.ac.th")
	c := env.user(t, "Carol", "c@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "football", "2025-06-01", "18:00"))
	invA := env.invite(t, host.ID, a.Email, r.ID)
	invB := env.invite(t, host.ID, b.Email, r.ID)
	invC := env.invite(t, host.ID, c.Email, r.ID)

	_, err := env.invites.RespondToInvitation(ctx, invA.ID, a.ID, models.InvitationDeclined)
	require.NoError(t, err)
	res, err := env.invites.RespondToInvitation(ctx, invB.ID, b.ID, models.InvitationDeclined)
	require.NoError(t, err)
	require.True(t, res.ReservationCancelled)

	res, err = env.invites.RespondToInvitation(ctx, invC.ID, c.ID, models.InvitationAccepted)
	require.NoError(t, err)
	assert.True(t, res.ReservationCancelled)

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, got.Status)
	assert.Empty(t, got.Participants)
}

func TestRespondToInvitation_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	inv := env.invite(t, host.ID, a.Email, r.ID)
	assert.Equal(t, env.clock.Now().Add(time.Hour), inv.ExpiresAt)

	env.clock.Advance(61 * time.Minute)

	_, err := env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationAccepted)
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, domain.KindExpired, domain.KindOf(err))

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Participants)

	stored, err := env.db.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, stored.Status)
}

func TestRespondToInvitation_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	inv := env.invite(t, host.ID, a.Email, r.ID)

	_, err := env.invites.RespondToInvitation(ctx, inv.ID, a.ID, "maybe")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = env.invites.RespondToInvitation(ctx, "missing", a.ID, models.InvitationAccepted)
	assert.ErrorIs(t, err, domain.ErrInvitationGone)

	_, err = env.invites.RespondToInvitation(ctx, inv.ID, host.ID, models.InvitationAccepted)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationAccepted)
	require.NoError(t, err)

	_, err = env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationDeclined)
	assert.ErrorIs(t, err, domain.ErrAlreadyResponded)

	stored, err := env.db.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, stored.Status, "responses are monotonic")
}

func TestAccept_SameNameInviteesBothJoin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	first := env.user(t, "Sam", "sam.lee@uni.ac.th")
	second := env.user(t, "Sam", "sam.wong@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	for _, u := range []*models.User{first, second} {
		inv := env.invite(t, host.ID, u.Email, r.ID)
		_, err := env.invites.RespondToInvitation(ctx, inv.ID, u.ID, models.InvitationAccepted)
		require.NoError(t, err)
	}

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sam", "Sam"}, got.Participants)
}

func TestSendInvitation_Rules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")
	b := env.user(t, "Bob", "b@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	env.invite(t, host.ID, "A@UNI.AC.TH", r.ID)

	tests := []struct {
		name     string
		sender   string
		receiver string
		resID    string
		target   error
		kind     domain.Kind
	}{
		{name: "duplicate", sender: host.ID, receiver: a.Email, resID: r.ID, target: domain.ErrDuplicateInvite, kind: domain.KindConflict},
		{name: "unknown receiver", sender: host.ID, receiver: "ghost@uni.ac.th", resID: r.ID, target: domain.ErrReceiverNotFound, kind: domain.KindNotFound},
		{name: "unknown sender", sender: "ghost", receiver: b.Email, resID: r.ID, target: domain.ErrSenderNotFound, kind: domain.KindNotFound},
		{name: "unknown reservation", sender: host.ID, receiver: b.Email, resID: "nope", target: domain.ErrReservationGone, kind: domain.KindNotFound},
		{name: "not the host", sender: a.ID, receiver: b.Email, resID: r.ID, kind: domain.KindForbidden},
		{name: "self invite", sender: host.ID, receiver: host.Email, resID: r.ID, kind: domain.KindValidation},
		{name: "empty receiver", sender: host.ID, receiver: " ", resID: r.ID, kind: domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.invites.SendInvitation(ctx, tt.sender, tt.receiver, tt.resID)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}

	t.Run("cancelled reservation", func(t *testing.T) {
		other := env.book(t, sportRequest(host.ID, "football", "2025-06-01", "18:00"))
		_, err := env.booking.CancelReservation(ctx, other.ID, host.ID)
		require.NoError(t, err)

		_, err = env.invites.SendInvitation(ctx, host.ID, b.Email, other.ID)
		assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	})

	t.Run("decliner cannot be re-invited", func(t *testing.T) {
		other := env.book(t, sportRequest(host.ID, "volleyball", "2025-06-01", "18:00"))
		env.invite(t, host.ID, a.Email, other.ID)
		inv := env.invite(t, host.ID, b.Email, other.ID)
		_, err := env.invites.RespondToInvitation(ctx, inv.ID, b.ID, models.InvitationDeclined)
		require.NoError(t, err)

		_, err = env.invites.SendInvitation(ctx, host.ID, b.Email, other.ID)
		assert.ErrorIs(t, err, domain.ErrDuplicateInvite)
	})
}

func TestSendInvitation_RateLimited(t *testing.T) {
	env := newTestEnv(t, withRateLimit(1))
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")
	b := env.user(t, "Bob", "b@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	env.invite(t, host.ID, a.Email, r.ID)

	_, err := env.invites.SendInvitation(ctx, host.ID, b.Email, r.ID)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
}

func TestSendInvitation_EmailFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")
	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))

	env.notifier.ExpectedCalls = nil
	env.notifier.On("NotifyInvitation", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp: 421 service not available")).Once()

	inv, err := env.invites.SendInvitation(context.Background(), host.ID, a.Email, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, inv.Status)
	env.notifier.AssertExpectations(t)
}

func TestAutoDeclineExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")
	outsider := env.user(t, "Eve", "eve@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	inv := env.invite(t, host.ID, a.Email, r.ID)

	_, err := env.invites.AutoDeclineExpired(ctx, inv.ID, host.ID)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err), "not expired yet")

	env.clock.Advance(time.Hour + time.Second)

	_, err = env.invites.AutoDeclineExpired(ctx, inv.ID, outsider.ID)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	res, err := env.invites.AutoDeclineExpired(ctx, inv.ID, host.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationDeclined, res.Status)
	assert.True(t, res.ReservationCancelled, "1 of 1 declined is a majority")

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, got.Status)

	_, err = env.invites.AutoDeclineExpired(ctx, inv.ID, a.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyResponded)
}

// failingDecisionRepo fails RecordDecision before it reaches the store, the way a
// rolled back transaction looks to the caller.
type failingDecisionRepo struct {
	*database.DB
	err      error
	failures int32
	calls    atomic.Int32
}

func (f *failingDecisionRepo) RecordDecision(ctx context.Context, id string, decision models.InvitationStatus, participant string, at time.Time) (*models.DecisionOutcome, error) {
	if f.calls.Add(1) <= atomic.LoadInt32(&f.failures) {
		return nil, f.err
	}
	return f.DB.RecordDecision(ctx, id, decision, participant, at)
}

func newFailingEnv(t *testing.T, err error, failures int32) (*testEnv, *failingDecisionRepo) {
	t.Helper()
	failing := &failingDecisionRepo{err: err, failures: failures}
	env := newTestEnv(t, withRepo(func(db *database.DB) domain.Repository {
		failing.DB = db
		return failing
	}))
	return env, failing
}

func TestQuorumCancel_Retries(t *testing.T) {
	locked := errors.New("database is locked")

	t.Run("RecoversWithinAttempts", func(t *testing.T) {
		env, failing := newFailingEnv(t, locked, 2)
		ctx := context.Background()
		host := env.user(t, "Host", "host@uni.ac.th")
		a := env.user(t, "Alice", "a@uni.ac.th")

		r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
		inv := env.invite(t, host.ID, a.Email, r.ID)

		res, err := env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationDeclined)
		require.NoError(t, err)
		assert.True(t, res.ReservationCancelled)
		assert.Equal(t, int32(3), failing.calls.Load())
	})

	t.Run("GivesUpWithoutPartialWrite", func(t *testing.T) {
		env, failing := newFailingEnv(t, locked, 10)
		ctx := context.Background()
		host := env.user(t, "Host", "host@uni.ac.th")
		a := env.user(t, "Alice", "a@uni.ac.th")

		r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
		inv := env.invite(t, host.ID, a.Email, r.ID)

		_, err := env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationDeclined)
		assert.Equal(t, domain.KindInternal, domain.KindOf(err))
		assert.Equal(t, int32(3), failing.calls.Load())

		stored, err := env.db.GetInvitation(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InvitationPending, stored.Status)

		// the invitee can decline again and the quorum still applies
		atomic.StoreInt32(&failing.failures, 0)
		res, err := env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationDeclined)
		require.NoError(t, err)
		assert.True(t, res.ReservationCancelled)

		got, err := env.db.GetReservation(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReservationCancelled, got.Status)
	})
}

func TestAccept_RetriesOnConcurrentModification(t *testing.T) {
	env, failing := newFailingEnv(t, database.ErrConcurrentModification, 1)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	inv := env.invite(t, host.ID, a.Email, r.ID)

	_, err := env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationAccepted)
	require.NoError(t, err)
	assert.Equal(t, int32(2), failing.calls.Load())

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, got.Participants)
}

func TestAccept_ExhaustedRetriesLeaveInvitationPending(t *testing.T) {
	env, failing := newFailingEnv(t, database.ErrConcurrentModification, 10)
	ctx := context.Background()
	host := env.user(t, "Host", "host@uni.ac.th")
	a := env.user(t, "Alice", "a@uni.ac.th")

	r := env.book(t, sportRequest(host.ID, "badminton", "2025-06-01", "18:00"))
	inv := env.invite(t, host.ID, a.Email, r.ID)

	_, err := env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationAccepted)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	stored, err := env.db.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, stored.Status)
	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Participants)

	atomic.StoreInt32(&failing.failures, 0)
	res, err := env.invites.RespondToInvitation(ctx, inv.ID, a.ID, models.InvitationAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, res.Status)

	got, err = env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, got.Participants)
}

func TestEnsureUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.users.EnsureUser(ctx, "sub-1", " Alice@Uni.ac.th ", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@uni.ac.th", first.Email)

	again, err := env.users.EnsureUser(ctx, "sub-2", "alice@uni.ac.th", "Alice B.")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "email is the identity")
	assert.Equal(t, "Alice B.", again.Name)

	other, err := env.users.EnsureUser(ctx, "sub-1", "bob@uni.ac.th", "Bob")
	require.NoError(t, err, "a reused subject does not block a new account")
	assert.NotEqual(t, first.ID, other.ID)

	_, err = env.users.EnsureUser(ctx, "sub-3", "", "x")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = env.users.GetUserByEmail(ctx, "nobody@uni.ac.th")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
