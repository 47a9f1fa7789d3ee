package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/courseloom/api/database"
	"github.com/courseloom/api/utils/response"
)

// HealthHandler reports process and database liveness.
type HealthHandler struct {
	store database.Storage
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store database.Storage) *HealthHandler {
	return &HealthHandler{store: store}
}

// Check handles GET /ping
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := h.store.HealthCheck(); err != nil {
		dbStatus = "unreachable"
	}

	return response.Success(c, fiber.Map{
		"status":   "ok",
		"database": dbStatus,
	})
}
