package webhook

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/courseloom/api/services"
	"github.com/courseloom/api/utils/response"
)

// WebhookHandler receives payment-gateway webhook deliveries.
type WebhookHandler struct {
	webhooks *services.WebhookService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// HandleStripe handles POST /api/v1/webhooks/stripe
// The raw body is verified against the Stripe-Signature header before any
// state is touched; an invalid signature is rejected with zero writes. A
// non-2xx on a transient failure makes the gateway redeliver, which the
// event dedup table absorbs.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("Stripe-Signature")

	if err := h.webhooks.ProcessEvent(c.Context(), payload, signature); err != nil {
		if errors.Is(err, services.ErrBadEvent) {
			log.Printf("[WEBHOOK] rejected event: %v", err)
			return response.BadRequest(c, "Invalid webhook event")
		}
		log.Printf("[WEBHOOK] processing failed: %v", err)
		return response.InternalServerError(c, "Webhook processing failed")
	}

	return response.Success(c, fiber.Map{"received": true})
}
