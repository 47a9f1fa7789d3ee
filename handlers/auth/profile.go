package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/courseloom/api/model"
	authutil "github.com/courseloom/api/utils/auth"
	"github.com/courseloom/api/utils/response"
)

// UpdateProfileRequest represents a profile update request
type UpdateProfileRequest struct {
	Name string `json:"name,omitempty"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// GetProfile retrieves the current user's profile
func (h *AuthHandler) GetProfile(c *fiber.Ctx) error {
	// Get user ID from context
	userID := c.Locals("user_id")
	if userID == nil {
		return response.Unauthorized(c, "Not authenticated")
	}

	// Get user from database
	var user model.User
	if err := h.db.First(&user, userID.(uint)).Error; err != nil {
		return response.NotFound(c, "User not found")
	}

	// Prepare response
	res := UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}

	return response.Success(c, res)
}

// UpdateProfile updates the current user's profile
func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	// Get user ID from context
	userID := c.Locals("user_id")
	if userID == nil {
		return response.Unauthorized(c, "Not authenticated")
	}

	var req UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	// Get user from database
	var user model.User
	if err := h.db.First(&user, userID.(uint)).Error; err != nil {
		return response.NotFound(c, "User not found")
	}

	// Update fields if provided
	if req.Name != "" {
		user.Name = req.Name
	}

	// Save updates
	if err := h.db.Save(&user).Error; err != nil {
		return response.InternalServerError(c, "Failed to update profile")
	}

	// Prepare response
	res := UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}

	return response.Success(c, res)
}

// ChangePassword updates the current user's password and invalidates every
// outstanding token by bumping the token version.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	userID := c.Locals("user_id")
	if userID == nil {
		return response.Unauthorized(c, "Not authenticated")
	}

	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		return response.BadRequest(c, "Current and new passwords are required")
	}

	if !authutil.IsPasswordValid(req.NewPassword) {
		return response.BadRequest(c, "Password must be at least 8 characters long")
	}

	var user model.User
	if err := h.db.First(&user, userID.(uint)).Error; err != nil {
		return response.NotFound(c, "User not found")
	}

	if err := authutil.VerifyPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		return response.Unauthorized(c, "Current password is incorrect")
	}

	hashedPassword, err := authutil.HashPassword(req.NewPassword)
	if err != nil {
		return response.InternalServerError(c, "Failed to process password")
	}

	user.PasswordHash = hashedPassword
	user.TokenVersion++

	if err := h.db.Save(&user).Error; err != nil {
		return response.InternalServerError(c, "Failed to update password")
	}

	return response.Success(c, fiber.Map{
		"message": "Password changed successfully. Please log in again.",
	})
}
