package api

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campusbook/internal/domain"
	"campusbook/internal/export"
	"campusbook/internal/models"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	deps      Dependencies
	adminRole string
}

func (h *handlers) health(c *gin.Context) {
	if err := h.deps.Health.PingContext(c.Request.Context()); err != nil {
		requestLogger(c).Error().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) catalog(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Booking.Catalog().Listing())
}

func (h *handlers) createReservation(c *gin.Context) {
	var req domain.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.HostID = currentUser(c).ID

	result, err := h.deps.Booking.CreateReservation(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// listReservations defaults to the caller; other addresses need the admin role.
func (h *handlers) listReservations(c *gin.Context) {
	user := currentUser(c)
	email := models.NormalizeEmail(c.Query("email"))
	if email == "" {
		email = user.Email
	}
	if email != user.Email && !h.isAdmin(c) {
		abortWithMessage(c, http.StatusForbidden, "you can only list your own reservations")
		return
	}

	includeCancelled := false
	if raw := c.Query("include_cancelled"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			abortWithMessage(c, http.StatusBadRequest, "include_cancelled must be a boolean")
			return
		}
		includeCancelled = v
	}

	out, err := h.deps.Booking.ListReservationsForUser(c.Request.Context(), email, includeCancelled)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) bookedSlots(c *gin.Context) {
	var q domain.SlotQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid query")
		return
	}
	reservations, err := h.deps.Booking.BookedSlots(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

func (h *handlers) cancelReservation(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		id = strings.TrimSpace(c.Query("id"))
	}
	if id == "" {
		abortWithMessage(c, http.StatusBadRequest, "id is required")
		return
	}

	result, err := h.deps.Booking.CancelReservation(c.Request.Context(), id, currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	// missing or already cancelled keeps the result body under a 404
	status := http.StatusOK
	if !result.Cancelled {
		status = http.StatusNotFound
	}
	c.JSON(status, result)
}

type sendInvitationRequest struct {
	ReservationID string `json:"reservation_id"`
	ReceiverEmail string `json:"receiver_email"`
}

func (h *handlers) sendInvitation(c *gin.Context) {
	var req sendInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	inv, err := h.deps.Invitations.SendInvitation(c.Request.Context(), currentUser(c).ID, req.ReceiverEmail, req.ReservationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

type respondInvitationRequest struct {
	Decision string `json:"decision"`
}

func (h *handlers) respondInvitation(c *gin.Context) {
	var req respondInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	decision := models.InvitationStatus(strings.ToLower(strings.TrimSpace(req.Decision)))

	result, err := h.deps.Invitations.RespondToInvitation(c.Request.Context(), c.Param("id"), currentUser(c).ID, decision)
	if err != nil {
		respondInvitationError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) expireInvitation(c *gin.Context) {
	result, err := h.deps.Invitations.AutoDeclineExpired(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		respondInvitationError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// respondInvitationError reports a missing invitation as gone, since expired
// invitations are removed together with their reservation.
func respondInvitationError(c *gin.Context, err error) {
	if domain.KindOf(err) == domain.KindNotFound {
		respondErrorStatus(c, http.StatusGone, err)
		return
	}
	respondError(c, err)
}

func (h *handlers) exportXLSX(c *gin.Context) {
	from, to, ok := h.exportRange(c)
	if !ok {
		return
	}
	reservations, err := h.deps.Booking.ReservationsInRange(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteReservations(&buf, from, to, reservations); err != nil {
		respondError(c, domain.Internal("failed to build workbook", err))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.FileName(from, to)+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *handlers) exportSheets(c *gin.Context) {
	if h.deps.Sheets == nil {
		abortWithMessage(c, http.StatusServiceUnavailable, "sheets export is not configured")
		return
	}
	from, to, ok := h.exportRange(c)
	if !ok {
		return
	}
	reservations, err := h.deps.Booking.ReservationsInRange(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.deps.Sheets.ReplaceReservations(c.Request.Context(), reservations); err != nil {
		respondError(c, domain.Internal("failed to update spreadsheet", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": len(reservations)})
}

func (h *handlers) exportRange(c *gin.Context) (from, to time.Time, ok bool) {
	from, err := time.Parse(models.DateLayout, c.Query("from"))
	if err != nil {
		abortWithMessage(c, http.StatusBadRequest, "from must be a date in YYYY-MM-DD format")
		return from, to, false
	}
	to, err = time.Parse(models.DateLayout, c.Query("to"))
	if err != nil {
		abortWithMessage(c, http.StatusBadRequest, "to must be a date in YYYY-MM-DD format")
		return from, to, false
	}
	if to.Before(from) {
		abortWithMessage(c, http.StatusBadRequest, "to must not be before from")
		return from, to, false
	}
	if h.deps.MaxRangeDays > 0 && to.Sub(from) > time.Duration(h.deps.MaxRangeDays)*24*time.Hour {
		abortWithMessage(c, http.StatusBadRequest, "export range may not exceed "+strconv.Itoa(h.deps.MaxRangeDays)+" days")
		return from, to, false
	}
	return from, to, true
}

func (h *handlers) isAdmin(c *gin.Context) bool {
	return h.adminRole != "" && c.GetString(ctxRoleKey) == h.adminRole
}
