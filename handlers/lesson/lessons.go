package lesson

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services"
	"github.com/courseloom/api/utils/middleware"
	"github.com/courseloom/api/utils/response"
	"github.com/courseloom/api/utils/storage"
	"github.com/courseloom/api/utils/validation"
)

// LessonHandler handles lesson-related requests
type LessonHandler struct {
	db          *gorm.DB
	catalog     *services.CatalogService
	enrollments *services.EnrollmentService
	media       *storage.MediaStore // nil when media storage is not configured
	validator   *validation.Validator
}

// NewLessonHandler creates a new lesson handler
func NewLessonHandler(db *gorm.DB, catalog *services.CatalogService, enrollments *services.EnrollmentService, media *storage.MediaStore) *LessonHandler {
	return &LessonHandler{
		db:          db,
		catalog:     catalog,
		enrollments: enrollments,
		media:       media,
		validator:   validation.NewValidator(),
	}
}

// CreateLessonRequest represents the request body for creating a lesson
type CreateLessonRequest struct {
	Title           string `json:"title" validate:"required,min=2,max=255"`
	Content         string `json:"content"`
	Kind            string `json:"kind" validate:"omitempty,max=10"`
	Position        int    `json:"position" validate:"min=0"`
	DurationMinutes *int   `json:"duration_minutes" validate:"omitempty,min=0"`
	Published       bool   `json:"published"`
}

// UpdateLessonRequest represents the request body for updating a lesson
type UpdateLessonRequest struct {
	Title           *string `json:"title" validate:"omitempty,min=2,max=255"`
	Content         *string `json:"content"`
	Kind            *string `json:"kind" validate:"omitempty,max=10"`
	Position        *int    `json:"position" validate:"omitempty,min=0"`
	DurationMinutes *int    `json:"duration_minutes" validate:"omitempty,min=0"`
	Published       *bool   `json:"published"`
}

// LessonNav is the prev/next navigation block returned with a lesson.
type LessonNav struct {
	Prev *LessonRef `json:"prev"`
	Next *LessonRef `json:"next"`
}

// LessonRef is a minimal lesson pointer used for navigation.
type LessonRef struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

// LessonResponse is a lesson plus its navigation and optional media URL.
type LessonResponse struct {
	Lesson      *model.Lesson `json:"lesson"`
	Navigation  LessonNav     `json:"navigation"`
	PlaybackURL string        `json:"playback_url,omitempty"`
}

// GetLesson handles GET /api/v1/courses/:course_id/lessons/:id
// Lesson content is gated by enrollment: admins always see it, everyone else
// must hold an enrollment in the course the lesson belongs to. The response
// carries prev/next pointers in catalog order so clients can page through
// the course without refetching the outline.
func (h *LessonHandler) GetLesson(c *fiber.Ctx) error {
	courseID, err := strconv.ParseUint(c.Params("course_id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}
	lessonID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid lesson ID")
	}

	belongs, err := h.catalog.LessonBelongsToCourse(c.Context(), uint(courseID), uint(lessonID))
	if err != nil {
		return response.InternalServerError(c, "Failed to resolve lesson")
	}
	if !belongs {
		return response.NotFound(c, "Lesson not found in this course")
	}

	// Enrollment gate
	role, _ := middleware.GetUserRole(c)
	if role != model.RoleAdmin {
		userID, ok := middleware.GetUserID(c)
		if !ok {
			return response.Unauthorized(c, "Authentication required")
		}
		enrolled, err := h.enrollments.IsEnrolled(c.Context(), userID, uint(courseID))
		if err != nil {
			return response.InternalServerError(c, "Failed to check enrollment")
		}
		if !enrolled {
			return response.Forbidden(c, "Enroll in this course to access its lessons")
		}
	}

	var lesson model.Lesson
	if err := h.db.First(&lesson, lessonID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Lesson not found")
		}
		return response.InternalServerError(c, "Failed to fetch lesson")
	}

	prev, next, err := h.catalog.Neighbors(c.Context(), uint(courseID), uint(lessonID))
	if err != nil {
		return response.InternalServerError(c, "Failed to resolve navigation")
	}

	res := LessonResponse{Lesson: &lesson}
	if prev != nil {
		res.Navigation.Prev = &LessonRef{ID: prev.ID, Title: prev.Title}
	}
	if next != nil {
		res.Navigation.Next = &LessonRef{ID: next.ID, Title: next.Title}
	}

	// Presign a playback URL for media lessons
	if h.media != nil && model.KindHasMedia(lesson.Kind) && lesson.MediaKey != "" {
		url, err := h.media.PresignPlayback(lesson.MediaKey)
		if err == nil {
			res.PlaybackURL = url
		}
	}

	return response.Success(c, res)
}

// CreateLesson handles POST /api/v1/modules/:module_id/lessons (admin only)
func (h *LessonHandler) CreateLesson(c *fiber.Ctx) error {
	moduleID := c.Params("module_id")

	var req CreateLessonRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	req.Title = validation.SanitizeString(req.Title)

	kind := req.Kind
	if kind == "" {
		kind = model.LessonKindText
	}
	if !model.IsValidLessonKind(kind) {
		return response.BadRequest(c, "Invalid lesson kind")
	}

	var module model.Module
	if err := h.db.First(&module, moduleID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Module not found")
		}
		return response.InternalServerError(c, "Failed to fetch module")
	}

	lesson := model.Lesson{
		ModuleID:        module.ID,
		Title:           req.Title,
		Content:         req.Content,
		Kind:            kind,
		Position:        req.Position,
		DurationMinutes: req.DurationMinutes,
		Published:       req.Published,
	}

	if err := h.db.Create(&lesson).Error; err != nil {
		return response.InternalServerError(c, "Failed to create lesson")
	}

	return response.Created(c, lesson)
}

// UpdateLesson handles PUT /api/v1/lessons/:id (admin only)
// Changing the kind away from video/audio clears the media key.
func (h *LessonHandler) UpdateLesson(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid lesson ID")
	}

	var req UpdateLessonRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	update := services.LessonUpdate{
		Title:           req.Title,
		Content:         req.Content,
		Kind:            req.Kind,
		Position:        req.Position,
		DurationMinutes: req.DurationMinutes,
		Published:       req.Published,
	}

	lesson, err := h.catalog.UpdateLesson(c.Context(), uint(id), update)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			return response.NotFound(c, "Lesson not found")
		case errors.Is(err, services.ErrConflict):
			return response.BadRequest(c, "Invalid lesson kind")
		default:
			return response.InternalServerError(c, "Failed to update lesson")
		}
	}

	return response.SuccessWithMessage(c, "Lesson updated successfully", lesson)
}

// DeleteLesson handles DELETE /api/v1/lessons/:id (admin only)
func (h *LessonHandler) DeleteLesson(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid lesson ID")
	}

	if err := h.catalog.DeleteLesson(c.Context(), uint(id)); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return response.NotFound(c, "Lesson not found")
		}
		return response.InternalServerError(c, "Failed to delete lesson")
	}

	return response.SuccessWithMessage(c, "Lesson deleted successfully", nil)
}

// UploadURLRequest represents a media upload URL request
type UploadURLRequest struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"content_type" validate:"required"`
}

// GetUploadURL handles POST /api/v1/lessons/:id/media/upload-url (admin only)
// Returns a presigned PUT URL; the admin console uploads the file directly
// to object storage and the resulting key is stored on the lesson.
func (h *LessonHandler) GetUploadURL(c *fiber.Ctx) error {
	if h.media == nil {
		return response.ServiceUnavailable(c, "Media storage is not configured")
	}

	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid lesson ID")
	}

	var req UploadURLRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Filename == "" || req.ContentType == "" {
		return response.BadRequest(c, "Filename and content type are required")
	}

	var lesson model.Lesson
	if err := h.db.First(&lesson, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Lesson not found")
		}
		return response.InternalServerError(c, "Failed to fetch lesson")
	}

	if !model.KindHasMedia(lesson.Kind) {
		return response.BadRequest(c, "Only video and audio lessons carry media")
	}

	key := storage.NewObjectKey(lesson.ID, req.Filename)
	url, err := h.media.PresignUpload(key, req.ContentType)
	if err != nil {
		return response.InternalServerError(c, "Failed to presign upload URL")
	}

	// Record the key now; the client uploads to the URL afterwards.
	if err := h.db.Model(&lesson).Update("media_key", key).Error; err != nil {
		return response.InternalServerError(c, "Failed to store media key")
	}

	return response.Success(c, fiber.Map{
		"upload_url": url,
		"media_key":  key,
	})
}
