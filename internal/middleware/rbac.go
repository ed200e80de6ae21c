package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
	"github.com/campusflow/lms-api/pkg/response"
)

// RequireRoles enforces that the resolved identity holds one of the allowed
// roles. An unknown role stored on the user row is rejected outright.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthenticated)
			c.Abort()
			return
		}
		if !user.Role.Valid() {
			response.Error(c, appErrors.ErrInsufficientRole)
			c.Abort()
			return
		}
		if _, ok := allowed[user.Role]; !ok {
			response.Error(c, appErrors.ErrInsufficientRole)
			c.Abort()
			return
		}
		c.Next()
	}
}
