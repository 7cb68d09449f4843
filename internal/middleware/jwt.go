package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tutorlive/backend/internal/auth"
	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// JWT returns a middleware that validates the bearer token and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			return
		}
		authenticate(c, jwtService, parts[1])
	}
}

// QueryJWT authenticates with ?token= for clients that cannot set headers (websocket upgrades).
func QueryJWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			response.Unauthorized(c, "missing token")
			return
		}
		authenticate(c, jwtService, token)
	}
}

func authenticate(c *gin.Context, jwtService *auth.JWTService, token string) {
	claims, err := jwtService.Validate(token)
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		return
	}
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextUserRole, claims.Role)
	c.Set(ContextUserEmail, claims.Email)
	c.Next()
}

// UserID returns the authenticated user id set by JWT.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// Role returns the authenticated user's role.
func Role(c *gin.Context) models.Role {
	v, _ := c.Get(ContextUserRole)
	r, _ := v.(models.Role)
	return r
}
