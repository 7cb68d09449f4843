package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextUserRole); !ok {
			response.Unauthorized(c, "missing user context")
			return
		}
		if _, ok := allowed[Role(c)]; !ok {
			response.Forbidden(c, "insufficient permissions")
			return
		}
		c.Next()
	}
}
