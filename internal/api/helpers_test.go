package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"campusbook/internal/catalog"
	"campusbook/internal/config"
	"campusbook/internal/database"
	"campusbook/internal/events"
	"campusbook/internal/models"
	"campusbook/internal/notify"
	"campusbook/internal/repository"
	"campusbook/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeSheets struct {
	rows []*models.Reservation
	err  error
}

func (f *fakeSheets) ReplaceReservations(_ context.Context, reservations []*models.Reservation) error {
	f.rows = reservations
	return f.err
}

type testAPI struct {
	t       *testing.T
	cfg     config.APIConfig
	server  *httptest.Server
	booking *service.BookingService
	sheets  *fakeSheets
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Auth: config.APIAuthConfig{
			HeaderAPIKey: "x-api-key",
			JWT:          config.JWTConfig{Secret: testSecret, Issuer: "campus-idp", AdminRole: "admin"},
		},
	}
}

func newTestDeps(t *testing.T) (Dependencies, *service.BookingService) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "api.db"), "", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cat, err := catalog.New(catalog.Config{})
	require.NoError(t, err)

	bus := events.NewEventBus(&logger)
	invites := service.NewInvitationService(db, repository.NewMemoryStateRepository(), notify.NewLogNotifier(&logger), bus, service.InvitationOptions{}, &logger)
	booking := service.NewBookingService(db, cat, invites, bus, &logger)

	return Dependencies{
		Booking:      booking,
		Invitations:  invites,
		Users:        service.NewUserService(db, &logger),
		Health:       db,
		MaxRangeDays: 92,
	}, booking
}

func newTestAPI(t *testing.T, mutate ...func(*config.APIConfig, *Dependencies)) *testAPI {
	t.Helper()
	cfg := testAPIConfig()
	deps, booking := newTestDeps(t)
	sheets := &fakeSheets{}
	deps.Sheets = sheets
	for _, m := range mutate {
		m(&cfg, &deps)
	}

	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(cfg, deps, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testAPI{t: t, cfg: cfg, server: ts, booking: booking, sheets: sheets}
}

func token(t *testing.T, sub, email, name, role string) string {
	t.Helper()
	return signToken(t, testSecret, Claims{
		Email: email,
		Name:  name,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "campus-idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (a *testAPI) do(method, path, bearer string, body interface{}) *http.Response {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, resp, &body)
	return body.Error
}
