package progress

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/courseloom/api/services"
	"github.com/courseloom/api/utils/middleware"
	"github.com/courseloom/api/utils/response"
)

// ProgressHandler handles lesson completion tracking and the student
// dashboard.
type ProgressHandler struct {
	progress *services.ProgressService
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(progress *services.ProgressService) *ProgressHandler {
	return &ProgressHandler{progress: progress}
}

// MarkLessonRequest represents a lesson completion toggle
type MarkLessonRequest struct {
	Completed bool `json:"completed"`
}

// MarkLesson handles PUT /api/v1/courses/:course_id/lessons/:id/completion
// Toggles a lesson's completed state for the current user and returns the
// recomputed course progress. Marking an already-completed lesson (or
// unmarking a never-completed one) is a no-op.
func (h *ProgressHandler) MarkLesson(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "Authentication required")
	}

	courseID, err := strconv.ParseUint(c.Params("course_id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}
	lessonID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid lesson ID")
	}

	var req MarkLessonRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	progress, err := h.progress.MarkLesson(c.Context(), userID, uint(courseID), uint(lessonID), req.Completed)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotEnrolled):
			return response.Forbidden(c, "Enroll in this course to track progress")
		case errors.Is(err, services.ErrForbiddenLesson):
			return response.BadRequest(c, "Lesson does not belong to this course")
		case errors.Is(err, services.ErrNotFound):
			return response.NotFound(c, "Course not found")
		default:
			return response.InternalServerError(c, "Failed to update progress")
		}
	}

	return response.Success(c, progress)
}

// GetProgress handles GET /api/v1/courses/:course_id/progress
func (h *ProgressHandler) GetProgress(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "Authentication required")
	}

	courseID, err := strconv.ParseUint(c.Params("course_id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	progress, err := h.progress.GetProgress(c.Context(), userID, uint(courseID))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotEnrolled):
			return response.Forbidden(c, "Enroll in this course to track progress")
		case errors.Is(err, services.ErrNotFound):
			return response.NotFound(c, "Course not found")
		default:
			return response.InternalServerError(c, "Failed to fetch progress")
		}
	}

	return response.Success(c, progress)
}

// MyCourses handles GET /api/v1/me/courses
// The student dashboard: every enrolled course with its completion summary.
func (h *ProgressHandler) MyCourses(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "Authentication required")
	}

	courses, err := h.progress.EnrolledCourses(c.Context(), userID)
	if err != nil {
		return response.InternalServerError(c, "Failed to fetch enrolled courses")
	}

	return response.Success(c, courses)
}
