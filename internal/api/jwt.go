package api

import (
	"errors"
	"net/http"
	"strings"

	"campusbook/internal/config"
	"campusbook/internal/domain"
	"campusbook/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserKey = "user"
	ctxRoleKey = "user_role"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the profile carried by identity provider access tokens.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens against the configured secret,
// issuer and audience.
type TokenVerifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

func NewTokenVerifier(cfg config.JWTConfig) *TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &TokenVerifier{secret: []byte(cfg.Secret), opts: opts}
}

func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate verifies the bearer token and upserts the caller. Handlers read
// the stored user, whose ID is the acting identity.
func Authenticate(verifier *TokenVerifier, users domain.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithMessage(c, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "Bearer") {
			abortWithMessage(c, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				abortWithMessage(c, http.StatusUnauthorized, "Token expired")
				return
			}
			abortWithMessage(c, http.StatusUnauthorized, "Invalid or malformed token")
			return
		}

		user, err := users.EnsureUser(c.Request.Context(), claims.Subject, claims.Email, claims.Name)
		if err != nil {
			if domain.KindOf(err) == domain.KindValidation {
				respondErrorStatus(c, http.StatusUnauthorized, err)
				return
			}
			respondError(c, err)
			return
		}

		c.Set(ctxUserKey, user)
		c.Set(ctxRoleKey, claims.Role)
		c.Next()
	}
}

func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRoleKey) != role {
			abortWithMessage(c, http.StatusForbidden, "Insufficient permissions")
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
