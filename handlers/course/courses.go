package course

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services"
	"github.com/courseloom/api/utils/middleware"
	"github.com/courseloom/api/utils/response"
	"github.com/courseloom/api/utils/validation"
)

// CourseHandler handles course-related requests
type CourseHandler struct {
	db        *gorm.DB
	catalog   *services.CatalogService
	validator *validation.Validator
}

// NewCourseHandler creates a new course handler
func NewCourseHandler(db *gorm.DB, catalog *services.CatalogService) *CourseHandler {
	return &CourseHandler{
		db:        db,
		catalog:   catalog,
		validator: validation.NewValidator(),
	}
}

// CreateCourseRequest represents the request body for creating a course
type CreateCourseRequest struct {
	Title          string `json:"title" validate:"required,min=3,max=255"`
	Slug           string `json:"slug" validate:"omitempty,min=3,max=120"`
	Description    string `json:"description" validate:"omitempty,max=5000"`
	PriceCents     int64  `json:"price_cents" validate:"min=0"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	GatewayPriceID string `json:"gateway_price_id" validate:"omitempty,max=100"`
	Published      bool   `json:"published"`
}

// UpdateCourseRequest represents the request body for updating a course
type UpdateCourseRequest struct {
	Title          string `json:"title" validate:"omitempty,min=3,max=255"`
	Description    *string `json:"description" validate:"omitempty,max=5000"`
	PriceCents     *int64 `json:"price_cents" validate:"omitempty,min=0"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	GatewayPriceID *string `json:"gateway_price_id" validate:"omitempty,max=100"`
	Published      *bool  `json:"published"`
}

// ListCourses handles GET /api/v1/courses
// Students and anonymous visitors only see published courses; admins can
// pass include_unpublished=true to see drafts too.
func (h *CourseHandler) ListCourses(c *fiber.Ctx) error {
	// Parse query parameters
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	search := c.Query("search", "")

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	// Build query
	query := h.db.Model(&model.Course{})

	role, _ := middleware.GetUserRole(c)
	includeUnpublished := c.Query("include_unpublished") == "true" && role == model.RoleAdmin
	if !includeUnpublished {
		query = query.Where("published = ?", true)
	}

	if search != "" {
		query = query.Where("title ILIKE ? OR description ILIKE ?",
			"%"+search+"%", "%"+search+"%")
	}

	// Get total count
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return response.InternalServerError(c, "Failed to count courses")
	}

	// Calculate pagination
	offset := (page - 1) * limit
	pagination := response.CalculatePagination(page, limit, total)

	var courses []model.Course
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&courses).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch courses")
	}

	return response.Paginated(c, courses, pagination)
}

// GetCourse handles GET /api/v1/courses/:slug
// Returns the course with its full outline (modules and lessons in order).
// Lesson content bodies are not included here; they are gated per lesson.
func (h *CourseHandler) GetCourse(c *fiber.Ctx) error {
	slug := c.Params("slug")

	course, err := h.catalog.GetCourseBySlug(c.Context(), slug)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return response.NotFound(c, "Course not found")
		}
		return response.InternalServerError(c, "Failed to fetch course")
	}

	role, _ := middleware.GetUserRole(c)
	if !course.Published && role != model.RoleAdmin {
		return response.NotFound(c, "Course not found")
	}

	// Load the ordered outline
	if err := h.db.
		Preload("Modules", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Preload("Modules.Lessons", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "module_id", "title", "kind", "position", "duration_minutes", "published", "created_at", "updated_at").
				Order("position ASC, id ASC")
		}).
		First(course, course.ID).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch course outline")
	}

	return response.Success(c, course)
}

// CreateCourse handles POST /api/v1/courses (admin only)
func (h *CourseHandler) CreateCourse(c *fiber.Ctx) error {
	var req CreateCourseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	// Sanitize inputs
	req.Title = validation.SanitizeString(req.Title)
	req.Description = validation.SanitizeString(req.Description)

	slug := req.Slug
	if slug == "" {
		slug = validation.Slugify(req.Title)
	}
	if slug == "" {
		return response.BadRequest(c, "Could not derive a slug from the title")
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	// Check if course with same slug already exists
	var existingCourse model.Course
	if err := h.db.Where("slug = ?", slug).First(&existingCourse).Error; err == nil {
		return response.Conflict(c, "Course with this slug already exists")
	}

	course := model.Course{
		Title:          req.Title,
		Slug:           slug,
		Description:    req.Description,
		PriceCents:     req.PriceCents,
		Currency:       currency,
		GatewayPriceID: req.GatewayPriceID,
		Published:      req.Published,
	}

	if err := h.db.Create(&course).Error; err != nil {
		return response.InternalServerError(c, "Failed to create course")
	}

	return response.Created(c, course)
}

// UpdateCourse handles PUT /api/v1/courses/:id (admin only)
// The slug is immutable after creation; it is the external identifier
// students bookmark and payment metadata references.
func (h *CourseHandler) UpdateCourse(c *fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateCourseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	var course model.Course
	if err := h.db.First(&course, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Course not found")
		}
		return response.InternalServerError(c, "Failed to fetch course")
	}

	// Update fields if provided
	if req.Title != "" {
		course.Title = validation.SanitizeString(req.Title)
	}
	if req.Description != nil {
		course.Description = validation.SanitizeString(*req.Description)
	}
	if req.PriceCents != nil {
		course.PriceCents = *req.PriceCents
	}
	if req.Currency != "" {
		course.Currency = req.Currency
	}
	if req.GatewayPriceID != nil {
		course.GatewayPriceID = *req.GatewayPriceID
	}
	if req.Published != nil {
		course.Published = *req.Published
	}

	if err := h.db.Save(&course).Error; err != nil {
		return response.InternalServerError(c, "Failed to update course")
	}

	return response.SuccessWithMessage(c, "Course updated successfully", course)
}

// DeleteCourse handles DELETE /api/v1/courses/:id (admin only)
// Deletes the course along with its modules, lessons, enrollments, and
// completion records in a single transaction. Payment records survive for
// revenue reporting.
func (h *CourseHandler) DeleteCourse(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.catalog.DeleteCourse(c.Context(), uint(id)); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return response.NotFound(c, "Course not found")
		}
		return response.InternalServerError(c, "Failed to delete course")
	}

	return response.SuccessWithMessage(c, "Course deleted successfully", nil)
}
