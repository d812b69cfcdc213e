package api

import (
	"net/http"

	"campusbook/internal/domain"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func httpStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindExpired:
		return http.StatusGone
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func grpcStatus(err error) error {
	code := codes.Internal
	switch domain.KindOf(err) {
	case domain.KindValidation:
		code = codes.InvalidArgument
	case domain.KindNotFound:
		code = codes.NotFound
	case domain.KindConflict:
		code = codes.AlreadyExists
	case domain.KindExpired:
		code = codes.FailedPrecondition
	case domain.KindForbidden:
		code = codes.PermissionDenied
	case domain.KindRateLimited:
		code = codes.ResourceExhausted
	}
	return status.Error(code, domain.PublicMessage(err))
}

// respondError writes {"error": msg}. Internal failures are logged with the
// request logger and hidden from the client.
func respondError(c *gin.Context, err error) {
	respondErrorStatus(c, httpStatus(err), err)
}

func respondErrorStatus(c *gin.Context, code int, err error) {
	if code >= http.StatusInternalServerError {
		requestLogger(c).Error().Err(err).Msg("request failed")
	}
	c.AbortWithStatusJSON(code, gin.H{"error": domain.PublicMessage(err)})
}

func abortWithMessage(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}
