package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
	"github.com/campusflow/lms-api/pkg/response"
)

// ContextUserKey is the gin context key storing the resolved identity.
const ContextUserKey = "currentUser"

type identityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (*models.CurrentUser, error)
}

// Authenticate protects routes by resolving the bearer token to an active
// user. The credential alone is not trusted; the user row must still exist
// and be active at request time.
func Authenticate(auth identityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthenticated)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthenticated, "invalid authorization header"))
			c.Abort()
			return
		}

		identity, err := auth.ResolveIdentity(c.Request.Context(), parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, identity)
		c.Next()
	}
}

// CurrentUser extracts the resolved identity from the gin context.
func CurrentUser(c *gin.Context) (*models.CurrentUser, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.CurrentUser)
	return user, ok
}
