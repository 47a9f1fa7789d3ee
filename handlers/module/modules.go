package module

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services"
	"github.com/courseloom/api/utils/response"
	"github.com/courseloom/api/utils/validation"
)

// ModuleHandler handles module-related requests
type ModuleHandler struct {
	db        *gorm.DB
	catalog   *services.CatalogService
	validator *validation.Validator
}

// NewModuleHandler creates a new module handler
func NewModuleHandler(db *gorm.DB, catalog *services.CatalogService) *ModuleHandler {
	return &ModuleHandler{
		db:        db,
		catalog:   catalog,
		validator: validation.NewValidator(),
	}
}

// CreateModuleRequest represents the request body for creating a module
type CreateModuleRequest struct {
	Title    string `json:"title" validate:"required,min=2,max=255"`
	Position int    `json:"position" validate:"min=0"`
}

// UpdateModuleRequest represents the request body for updating a module
type UpdateModuleRequest struct {
	Title    string `json:"title" validate:"omitempty,min=2,max=255"`
	Position *int   `json:"position" validate:"omitempty,min=0"`
}

// ListModules handles GET /api/v1/courses/:course_id/modules
func (h *ModuleHandler) ListModules(c *fiber.Ctx) error {
	courseID := c.Params("course_id")

	var course model.Course
	if err := h.db.First(&course, courseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Course not found")
		}
		return response.InternalServerError(c, "Failed to fetch course")
	}

	var modules []model.Module
	if err := h.db.
		Where("course_id = ?", course.ID).
		Order("position ASC, id ASC").
		Preload("Lessons", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "module_id", "title", "kind", "position", "duration_minutes", "published").
				Order("position ASC, id ASC")
		}).
		Find(&modules).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch modules")
	}

	return response.Success(c, modules)
}

// CreateModule handles POST /api/v1/courses/:course_id/modules (admin only)
func (h *ModuleHandler) CreateModule(c *fiber.Ctx) error {
	courseID := c.Params("course_id")

	var req CreateModuleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	req.Title = validation.SanitizeString(req.Title)

	var course model.Course
	if err := h.db.First(&course, courseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Course not found")
		}
		return response.InternalServerError(c, "Failed to fetch course")
	}

	module := model.Module{
		CourseID: course.ID,
		Title:    req.Title,
		Position: req.Position,
	}

	// Position is unique per course; a duplicate insert comes back as a
	// unique violation rather than a pre-check race.
	if err := h.db.Create(&module).Error; err != nil {
		if services.IsDuplicateKey(err) {
			return response.Conflict(c, "A module already occupies this position")
		}
		return response.InternalServerError(c, "Failed to create module")
	}

	return response.Created(c, module)
}

// UpdateModule handles PUT /api/v1/modules/:id (admin only)
func (h *ModuleHandler) UpdateModule(c *fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateModuleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	var module model.Module
	if err := h.db.First(&module, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Module not found")
		}
		return response.InternalServerError(c, "Failed to fetch module")
	}

	if req.Title != "" {
		module.Title = validation.SanitizeString(req.Title)
	}
	if req.Position != nil {
		module.Position = *req.Position
	}

	if err := h.db.Save(&module).Error; err != nil {
		if services.IsDuplicateKey(err) {
			return response.Conflict(c, "A module already occupies this position")
		}
		return response.InternalServerError(c, "Failed to update module")
	}

	return response.SuccessWithMessage(c, "Module updated successfully", module)
}

// DeleteModule handles DELETE /api/v1/modules/:id (admin only)
// Lessons under the module go with it; completion records for those lessons
// stay in the ledger and simply stop counting toward progress.
func (h *ModuleHandler) DeleteModule(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid module ID")
	}

	if err := h.catalog.DeleteModule(c.Context(), uint(id)); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return response.NotFound(c, "Module not found")
		}
		return response.InternalServerError(c, "Failed to delete module")
	}

	return response.SuccessWithMessage(c, "Module deleted successfully", nil)
}
