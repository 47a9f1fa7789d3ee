package checkout

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services"
	"github.com/courseloom/api/services/stripe"
	"github.com/courseloom/api/utils/middleware"
	"github.com/courseloom/api/utils/response"
)

// CheckoutHandler handles purchase flows: creating checkout sessions and the
// synchronous success-return path.
type CheckoutHandler struct {
	db          *gorm.DB
	gateway     *stripe.Client
	enrollments *services.EnrollmentService
	appURL      string
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(db *gorm.DB, gateway *stripe.Client, enrollments *services.EnrollmentService, appURL string) *CheckoutHandler {
	return &CheckoutHandler{
		db:          db,
		gateway:     gateway,
		enrollments: enrollments,
		appURL:      appURL,
	}
}

// CreateSession handles POST /api/v1/courses/:id/checkout
// Creates a hosted checkout session for the course and a pending payment
// record anchored to the session id. The client redirects the buyer to the
// returned URL.
func (h *CheckoutHandler) CreateSession(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "Authentication required")
	}

	courseID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	var course model.Course
	if err := h.db.First(&course, courseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return response.NotFound(c, "Course not found")
		}
		return response.InternalServerError(c, "Failed to fetch course")
	}

	if !course.Published {
		return response.NotFound(c, "Course not found")
	}

	// Already enrolled: nothing to buy.
	enrolled, err := h.enrollments.IsEnrolled(c.Context(), user.ID, course.ID)
	if err != nil {
		return response.InternalServerError(c, "Failed to check enrollment")
	}
	if enrolled {
		return response.Conflict(c, "You are already enrolled in this course")
	}

	session, err := h.gateway.CreateCheckoutSession(c.Context(), stripe.CheckoutParams{
		PriceID:        course.GatewayPriceID,
		AmountCents:    course.PriceCents,
		Currency:       course.Currency,
		Name:           course.Title,
		SuccessURL:     fmt.Sprintf("%s/checkout/success?session_id={CHECKOUT_SESSION_ID}", h.appURL),
		CancelURL:      fmt.Sprintf("%s/courses/%s", h.appURL, course.Slug),
		CustomerEmail:  user.Email,
		ExternalUserID: user.ExternalID,
		CourseID:       course.ID,
	})
	if err != nil {
		log.Printf("[CHECKOUT] failed to create session for user=%d course=%d: %v", user.ID, course.ID, err)
		return response.ServiceUnavailable(c, "Payment provider is unavailable, please try again")
	}

	// Pending payment record anchored to the session. The reconciler flips
	// it to succeeded; the sweep expires it if the session never completes.
	payment := model.Payment{
		UserID:            user.ID,
		CourseID:          course.ID,
		AmountCents:       course.PriceCents,
		Currency:          course.Currency,
		CheckoutSessionID: session.ID,
		Status:            model.PaymentStatusPending,
	}
	if err := h.db.Create(&payment).Error; err != nil && !services.IsDuplicateKey(err) {
		log.Printf("[CHECKOUT] failed to record pending payment for session=%s: %v", session.ID, err)
		return response.InternalServerError(c, "Failed to record payment")
	}

	return response.Created(c, fiber.Map{
		"session_id":   session.ID,
		"checkout_url": session.URL,
	})
}

// Success handles GET /api/v1/checkout/success?session_id=...
// The synchronous return path: re-confirms payment status with the gateway
// server-side and reconciles enrollment. The webhook may have already done
// the work; reconciliation is idempotent either way.
func (h *CheckoutHandler) Success(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "Authentication required")
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		return response.BadRequest(c, "Missing session_id")
	}

	result, session, err := h.enrollments.ReconcileBySessionID(c.Context(), user, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUpstream):
			log.Printf("[CHECKOUT] failed to retrieve session=%s: %v", sessionID, err)
			return response.ServiceUnavailable(c, "Could not confirm payment, please refresh")
		case errors.Is(err, services.ErrAuthMismatch):
			return response.Forbidden(c, "This checkout session belongs to a different account")
		case errors.Is(err, services.ErrBadEvent):
			return response.BadRequest(c, "Checkout session is missing required metadata")
		case errors.Is(err, services.ErrNotFound):
			return response.NotFound(c, "Course not found")
		default:
			return response.InternalServerError(c, "Failed to finalize enrollment")
		}
	}

	if result.Ignored {
		return response.Success(c, fiber.Map{
			"enrolled":       false,
			"payment_status": session.PaymentStatus,
		})
	}

	return response.Success(c, fiber.Map{
		"enrolled":  true,
		"course_id": result.CourseID,
	})
}
