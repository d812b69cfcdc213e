package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"campusbook/internal/config"
	"campusbook/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Pinger reports store liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the services exposed over HTTP. Sheets may be nil when the
// spreadsheet export is not configured.
type Dependencies struct {
	Booking      domain.BookingService
	Invitations  domain.InvitationService
	Users        domain.UserService
	Sheets       domain.SheetsWriter
	Health       Pinger
	MaxRangeDays int
}

// HTTPServer exposes the JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	engine *gin.Engine
	server *http.Server
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Dependencies, logger *zerolog.Logger) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	serverLogger := logger.With().Str("component", "http").Logger()

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		requestContext(&serverLogger),
		accessLog(),
		observeMetrics(),
		corsMiddleware(cfg.CORS),
		rateLimit(newRateLimiter(cfg.RateLimit), cfg.Auth.HeaderAPIKey),
	)

	h := &handlers{deps: deps, adminRole: cfg.Auth.JWT.AdminRole}
	engine.GET("/healthz", h.health)

	v1 := engine.Group("/api/v1")
	v1.GET("/catalog", h.catalog)

	authed := v1.Group("")
	authed.Use(Authenticate(NewTokenVerifier(cfg.Auth.JWT), deps.Users))
	{
		authed.POST("/reservations", h.createReservation)
		authed.GET("/reservations", h.listReservations)
		authed.GET("/reservations/slots", h.bookedSlots)
		authed.DELETE("/reservations", h.cancelReservation)
		authed.DELETE("/reservations/:id", h.cancelReservation)

		authed.POST("/invitations", h.sendInvitation)
		authed.POST("/invitations/:id/respond", h.respondInvitation)
		authed.POST("/invitations/:id/expire", h.expireInvitation)
	}

	admin := authed.Group("/admin")
	admin.Use(RequireRole(cfg.Auth.JWT.AdminRole))
	{
		admin.GET("/export.xlsx", h.exportXLSX)
		admin.POST("/export/sheets", h.exportSheets)
	}

	srv := &HTTPServer{cfg: cfg, engine: engine, logger: &serverLogger}
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           http.TimeoutHandler(engine, cfg.HTTP.RequestTimeout, `{"error":"request timed out"}`),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.RequestTimeout + 5*time.Second,
	}
	return srv
}

// Handler returns the router without the server timeout wrapper.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
