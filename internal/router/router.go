package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusflow/lms-api/internal/handler"
	"github.com/campusflow/lms-api/internal/middleware"
	"github.com/campusflow/lms-api/internal/models"
	"github.com/campusflow/lms-api/internal/service"
)

// Handlers aggregates the HTTP handlers mounted by the router.
type Handlers struct {
	Auth        *handler.AuthHandler
	Users       *handler.UserHandler
	Courses     *handler.CourseHandler
	Enrollments *handler.EnrollmentHandler
	Assessments *handler.AssessmentHandler
	Exports     *handler.ExportHandler
}

// Register mounts the API surface under the given prefix. Identity resolution
// runs on every protected route; role gates narrow mutation endpoints.
func Register(r *gin.Engine, prefix string, auth *service.AuthService, metrics *service.MetricsService, h Handlers) {
	api := r.Group(prefix)

	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)

	if h.Exports != nil {
		// Token-authenticated by the HMAC signature, not a bearer credential.
		api.GET("/exports/download", h.Exports.Download)
	}

	protected := api.Group("")
	protected.Use(middleware.Authenticate(auth))

	protected.POST("/auth/logout", h.Auth.Logout)
	protected.PUT("/auth/password", h.Auth.ChangePassword)
	protected.GET("/auth/me", h.Auth.Me)

	users := protected.Group("/users", middleware.RequireRoles(models.RoleAdmin))
	{
		users.GET("", h.Users.List)
		users.POST("", h.Users.Create)
		users.GET("/:id", h.Users.Get)
		users.PUT("/:id", h.Users.Update)
		users.PUT("/:id/active", h.Users.SetActive)
		users.DELETE("/:id", h.Users.Delete)
	}

	courses := protected.Group("/courses")
	{
		courses.GET("", h.Courses.List)
		courses.GET("/:id", h.Courses.Get)
		courses.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), h.Courses.Create)
		courses.PUT("/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), h.Courses.Update)
		courses.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), h.Courses.Delete)

		courses.GET("/:id/enrollments", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), h.Enrollments.ListByCourse)

		courses.GET("/:id/assessments", h.Assessments.ListByCourse)
		courses.POST("/:id/assessments", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), h.Assessments.Create)
		courses.GET("/:id/students/:studentId/results", h.Assessments.ListStudentResults)

		if h.Exports != nil {
			courses.POST("/:id/roster/export", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), h.Exports.Request)
		}
	}

	enrollments := protected.Group("/enrollments")
	{
		enrollments.GET("", h.Enrollments.List)
		enrollments.GET("/:id", h.Enrollments.Get)
		enrollments.POST("", h.Enrollments.Create)
		enrollments.DELETE("/:id", h.Enrollments.Drop)
		enrollments.PATCH("/:id/status", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), h.Enrollments.SetStatus)
		enrollments.PATCH("/:id/grade", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), h.Enrollments.SetGrade)
	}

	protected.GET("/students/:id/enrollments", h.Enrollments.ListByStudent)

	assessments := protected.Group("/assessments", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor))
	{
		assessments.PUT("/:id", h.Assessments.Update)
		assessments.DELETE("/:id", h.Assessments.Delete)
		assessments.POST("/:id/results", h.Assessments.GradeResult)
		assessments.GET("/:id/results", h.Assessments.ListResults)
	}

	if h.Exports != nil {
		protected.GET("/exports/:id", h.Exports.GetJob)
	}

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "route not found", "code": "NOT_FOUND"})
	})
}
