package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campusflow/lms-api/internal/middleware"
	"github.com/campusflow/lms-api/internal/models"
)

func currentUser(c *gin.Context) *models.CurrentUser {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil
	}
	return user
}
