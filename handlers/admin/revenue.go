package admin

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/utils/money"
	"github.com/courseloom/api/utils/response"
)

// AdminHandler serves the admin console's reporting endpoints.
type AdminHandler struct {
	db *gorm.DB
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(db *gorm.DB) *AdminHandler {
	return &AdminHandler{db: db}
}

// CourseRevenue is one row of the revenue report.
type CourseRevenue struct {
	CourseID        uint   `json:"course_id"`
	Title           string `json:"title"`
	Currency        string `json:"currency"`
	Payments        int64  `json:"payments"`
	RevenueCents    int64  `json:"revenue_cents"`
	Revenue         string `json:"revenue"`
	EnrollmentCount int64  `json:"enrollment_count"`
}

// GetRevenue handles GET /api/v1/admin/revenue
// Aggregates succeeded payments per course. Supports an optional
// since=YYYY-MM-DD filter.
func (h *AdminHandler) GetRevenue(c *fiber.Ctx) error {
	query := h.db.Model(&model.Payment{}).
		Select("payments.course_id, courses.title, payments.currency, COUNT(*) AS payments, SUM(payments.amount_cents) AS revenue_cents, courses.enrollment_count").
		Joins("JOIN courses ON courses.id = payments.course_id").
		Where("payments.status = ?", model.PaymentStatusSucceeded).
		Group("payments.course_id, courses.title, payments.currency, courses.enrollment_count").
		Order("revenue_cents DESC")

	if since := c.Query("since"); since != "" {
		t, err := time.Parse("2006-01-02", since)
		if err != nil {
			return response.BadRequest(c, "Invalid since date, expected YYYY-MM-DD")
		}
		query = query.Where("payments.created_at >= ?", t)
	}

	var rows []CourseRevenue
	if err := query.Scan(&rows).Error; err != nil {
		return response.InternalServerError(c, "Failed to compute revenue")
	}

	var totalCents int64
	for i := range rows {
		rows[i].Revenue = money.Format(rows[i].RevenueCents, rows[i].Currency)
		totalCents += rows[i].RevenueCents
	}

	return response.Success(c, fiber.Map{
		"courses":             rows,
		"total_revenue_cents": totalCents,
	})
}

// PaymentSummary is the per-status payment count breakdown.
type PaymentSummary struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// GetPaymentStats handles GET /api/v1/admin/payments/stats
func (h *AdminHandler) GetPaymentStats(c *fiber.Ctx) error {
	var rows []PaymentSummary
	err := h.db.Model(&model.Payment{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return response.InternalServerError(c, "Failed to compute payment stats")
	}

	return response.Success(c, rows)
}
