package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services/stripe"
)

// WebhookService verifies, records and dispatches asynchronous payment
// gateway events. Every event gets a row in webhook_events; the unique
// (provider, event id) index turns redelivery of a successfully processed
// event into a no-op, while a delivery that failed mid-dispatch is retried.
type WebhookService struct {
	db            *gorm.DB
	enrollments   *EnrollmentService
	signingSecret string
	tolerance     time.Duration
}

// NewWebhookService creates a new webhook service
func NewWebhookService(db *gorm.DB, enrollments *EnrollmentService, signingSecret string) *WebhookService {
	return &WebhookService{
		db:            db,
		enrollments:   enrollments,
		signingSecret: signingSecret,
		tolerance:     stripe.DefaultTolerance,
	}
}

// ProcessEvent handles one raw webhook delivery. The signature is verified
// against the raw body before anything is trusted or written; a bad
// signature produces zero database writes and ErrBadEvent so the handler
// rejects without retry benefit. Transient storage failures bubble up as
// plain errors so the handler returns 500 and the gateway retries.
func (s *WebhookService) ProcessEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := stripe.VerifySignature(payload, signatureHeader, s.signingSecret, s.tolerance); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEvent, err)
	}

	event, err := stripe.ParseEvent(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEvent, err)
	}

	record := model.WebhookEvent{
		Provider:        stripe.Provider,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		SignatureValid:  true,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if !IsDuplicateKey(err) {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
		// Redelivered event. Skip only when the first delivery finished
		// cleanly; a gateway retry after a transient dispatch failure must
		// reprocess, or the event is lost for good.
		var prior model.WebhookEvent
		if err := s.db.WithContext(ctx).
			Where("provider = ? AND provider_event_id = ?", stripe.Provider, event.ID).
			First(&prior).Error; err != nil {
			return fmt.Errorf("failed to load webhook event: %w", err)
		}
		if prior.ProcessedAt != nil && prior.ProcessingError == "" {
			log.Printf("[WEBHOOK] Duplicate event %s (%s), skipping", event.ID, event.Type)
			return nil
		}
		log.Printf("[WEBHOOK] Retrying event %s (%s) after incomplete delivery", event.ID, event.Type)
		record = prior
	}

	err = s.dispatch(ctx, event)

	now := time.Now()
	update := map[string]interface{}{"processed_at": &now, "processing_error": ""}
	if err != nil {
		update["processing_error"] = err.Error()
	}
	if updErr := s.db.WithContext(ctx).Model(&record).Updates(update).Error; updErr != nil {
		log.Printf("[WEBHOOK] Failed to mark event %s processed: %v", event.ID, updErr)
	}

	return err
}

func (s *WebhookService) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return s.handleSubscriptionChange(ctx, event, false)
	case "customer.subscription.deleted":
		return s.handleSubscriptionChange(ctx, event, true)
	default:
		// Unhandled event types are acknowledged so the gateway stops
		// delivering them.
		log.Printf("[WEBHOOK] Ignoring event type %s", event.Type)
		return nil
	}
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return fmt.Errorf("%w: bad session object: %v", ErrBadEvent, err)
	}

	courseID, err := courseIDFromMetadata(session.Metadata)
	if err != nil {
		return err
	}

	result, err := s.enrollments.Reconcile(ctx, ReconcileInput{
		ExternalUserID:    session.Metadata["external_user_id"],
		Email:             session.CustomerEmail,
		CourseID:          courseID,
		CheckoutSessionID: session.ID,
		PaymentStatus:     session.PaymentStatus,
		AmountCents:       session.AmountTotal,
		Currency:          session.Currency,
	})
	if err != nil {
		return err
	}

	if result.Applied {
		log.Printf("[WEBHOOK] Enrolled user %d in course %d (session %s)", result.UserID, result.CourseID, session.ID)
	}
	return nil
}

func (s *WebhookService) handleSubscriptionChange(ctx context.Context, event *stripe.Event, canceled bool) error {
	var sub stripe.SubscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: bad subscription object: %v", ErrBadEvent, err)
	}

	externalUserID := sub.Metadata["external_user_id"]
	if externalUserID == "" {
		return fmt.Errorf("%w: subscription event missing user identity", ErrBadEvent)
	}

	var user model.User
	if err := s.db.WithContext(ctx).Where("external_id = ?", externalUserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %q", ErrNotFound, externalUserID)
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	update := map[string]interface{}{
		"subscription_id":     sub.ID,
		"subscription_status": sub.Status,
	}
	if canceled {
		update["subscription_status"] = "canceled"
	}
	if len(sub.Items.Data) > 0 {
		update["subscription_price_id"] = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)
		update["subscription_period_end"] = &periodEnd
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(update).Error; err != nil {
		return fmt.Errorf("failed to update subscription state: %w", err)
	}
	return nil
}
