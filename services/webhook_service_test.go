package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services/stripe"
)

const testSigningSecret = "whsec_test_secret"

// checkoutEventPayload builds a checkout.session.completed event body for a
// paid session referencing the given user/course.
func checkoutEventPayload(t *testing.T, eventID, sessionID, externalUserID string, courseID uint) []byte {
	t.Helper()

	event := map[string]interface{}{
		"id":      eventID,
		"type":    "checkout.session.completed",
		"created": time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             sessionID,
				"payment_status": "paid",
				"status":         "complete",
				"amount_total":   4999,
				"currency":       "usd",
				"customer_email": "buyer@example.com",
				"metadata": map[string]string{
					"external_user_id": externalUserID,
					"course_id":        fmt.Sprint(courseID),
				},
			},
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return payload
}

func TestProcessEventRejectsInvalidSignature(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)

	enrollments := NewEnrollmentService(db, nil, nil, nil)
	svc := NewWebhookService(db, enrollments, testSigningSecret)

	payload := checkoutEventPayload(t, "evt_1", "cs_test_1", "ext-1", course.ID)
	badHeader := stripe.SignPayload(payload, "whsec_wrong_secret", time.Now())

	err := svc.ProcessEvent(context.Background(), payload, badHeader)
	if !errors.Is(err, ErrBadEvent) {
		t.Fatalf("expected ErrBadEvent, got %v", err)
	}

	// A rejected delivery must leave zero writes behind.
	var events, enrollmentRows, payments int64
	db.Model(&model.WebhookEvent{}).Count(&events)
	db.Model(&model.Enrollment{}).Count(&enrollmentRows)
	db.Model(&model.Payment{}).Count(&payments)
	if events != 0 || enrollmentRows != 0 || payments != 0 {
		t.Errorf("invalid signature must write nothing; got events=%d enrollments=%d payments=%d",
			events, enrollmentRows, payments)
	}
}

func TestProcessEventEnrollsBuyer(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)

	enrollments := NewEnrollmentService(db, nil, nil, nil)
	svc := NewWebhookService(db, enrollments, testSigningSecret)

	// The buyer has never signed in; the webhook can arrive before the
	// redirect and must still enroll them.
	payload := checkoutEventPayload(t, "evt_1", "cs_test_1", "ext-webhook-first", course.ID)
	header := stripe.SignPayload(payload, testSigningSecret, time.Now())

	if err := svc.ProcessEvent(context.Background(), payload, header); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	var user model.User
	if err := db.Where("external_id = ?", "ext-webhook-first").First(&user).Error; err != nil {
		t.Fatalf("expected lazily created user: %v", err)
	}

	enrolled, err := enrollments.IsEnrolled(context.Background(), user.ID, course.ID)
	if err != nil {
		t.Fatalf("IsEnrolled: %v", err)
	}
	if !enrolled {
		t.Error("expected buyer enrolled after webhook")
	}

	var event model.WebhookEvent
	if err := db.Where("provider_event_id = ?", "evt_1").First(&event).Error; err != nil {
		t.Fatalf("expected recorded webhook event: %v", err)
	}
	if !event.SignatureValid || event.ProcessedAt == nil {
		t.Errorf("expected verified, processed event, got %+v", event)
	}
}

func TestProcessEventDeduplicatesRedelivery(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)

	enrollments := NewEnrollmentService(db, nil, nil, nil)
	svc := NewWebhookService(db, enrollments, testSigningSecret)

	payload := checkoutEventPayload(t, "evt_1", "cs_test_1", "ext-1", course.ID)
	header := stripe.SignPayload(payload, testSigningSecret, time.Now())

	if err := svc.ProcessEvent(context.Background(), payload, header); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.ProcessEvent(context.Background(), payload, header); err != nil {
		t.Fatalf("redelivery must be absorbed, got %v", err)
	}

	var events, enrollmentRows, payments int64
	db.Model(&model.WebhookEvent{}).Count(&events)
	db.Model(&model.Enrollment{}).Count(&enrollmentRows)
	db.Model(&model.Payment{}).Count(&payments)
	if events != 1 || enrollmentRows != 1 || payments != 1 {
		t.Errorf("redelivery must not duplicate state; got events=%d enrollments=%d payments=%d",
			events, enrollmentRows, payments)
	}
}

func TestProcessEventRetriesAfterTransientFailure(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)

	enrollments := NewEnrollmentService(db, nil, nil, nil)
	svc := NewWebhookService(db, enrollments, testSigningSecret)

	payload := checkoutEventPayload(t, "evt_1", "cs_test_1", "ext-1", course.ID)
	header := stripe.SignPayload(payload, testSigningSecret, time.Now())

	// Simulate a storage hiccup mid-dispatch: the dedup row is written but
	// the enrollment insert fails.
	if err := db.Migrator().DropTable(&model.Enrollment{}); err != nil {
		t.Fatalf("failed to drop enrollments table: %v", err)
	}
	if err := svc.ProcessEvent(context.Background(), payload, header); err == nil {
		t.Fatal("expected first delivery to fail")
	}

	var event model.WebhookEvent
	if err := db.Where("provider_event_id = ?", "evt_1").First(&event).Error; err != nil {
		t.Fatalf("expected recorded webhook event: %v", err)
	}
	if event.ProcessingError == "" {
		t.Fatal("expected failed delivery to record its error")
	}

	// Storage recovers; the gateway retries the same event.
	if err := db.AutoMigrate(&model.Enrollment{}); err != nil {
		t.Fatalf("failed to restore enrollments table: %v", err)
	}
	if err := svc.ProcessEvent(context.Background(), payload, header); err != nil {
		t.Fatalf("retry after transient failure must reprocess, got %v", err)
	}

	var enrollmentRows, events int64
	db.Model(&model.Enrollment{}).Count(&enrollmentRows)
	db.Model(&model.WebhookEvent{}).Count(&events)
	if enrollmentRows != 1 {
		t.Errorf("expected retry to enroll the buyer, got %d enrollments", enrollmentRows)
	}
	if events != 1 {
		t.Errorf("expected a single event row across deliveries, got %d", events)
	}

	db.Where("provider_event_id = ?", "evt_1").First(&event)
	if event.ProcessedAt == nil || event.ProcessingError != "" {
		t.Errorf("expected event marked cleanly processed after retry, got processed_at=%v error=%q",
			event.ProcessedAt, event.ProcessingError)
	}
}

func TestProcessEventIgnoresUnhandledType(t *testing.T) {
	db := setupTestDB(t)

	enrollments := NewEnrollmentService(db, nil, nil, nil)
	svc := NewWebhookService(db, enrollments, testSigningSecret)

	payload, _ := json.Marshal(map[string]interface{}{
		"id":      "evt_other",
		"type":    "invoice.paid",
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": map[string]interface{}{}},
	})
	header := stripe.SignPayload(payload, testSigningSecret, time.Now())

	if err := svc.ProcessEvent(context.Background(), payload, header); err != nil {
		t.Fatalf("unhandled type should be acknowledged, got %v", err)
	}

	// The event is still recorded for audit.
	var events int64
	db.Model(&model.WebhookEvent{}).Count(&events)
	if events != 1 {
		t.Errorf("expected 1 recorded event, got %d", events)
	}
}

func TestProcessEventSubscriptionUpdate(t *testing.T) {
	db := setupTestDB(t)
	user := seedUser(t, db, "ext-sub", "sub@example.com")

	enrollments := NewEnrollmentService(db, nil, nil, nil)
	svc := NewWebhookService(db, enrollments, testSigningSecret)

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	payload, _ := json.Marshal(map[string]interface{}{
		"id":      "evt_sub_1",
		"type":    "customer.subscription.updated",
		"created": time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                 "sub_123",
				"status":             "active",
				"current_period_end": periodEnd,
				"metadata":           map[string]string{"external_user_id": user.ExternalID},
				"items": map[string]interface{}{
					"data": []map[string]interface{}{
						{"price": map[string]string{"id": "price_123"}},
					},
				},
			},
		},
	})
	header := stripe.SignPayload(payload, testSigningSecret, time.Now())

	if err := svc.ProcessEvent(context.Background(), payload, header); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	var reloaded model.User
	db.First(&reloaded, user.ID)
	if reloaded.SubscriptionID != "sub_123" || reloaded.SubscriptionStatus != "active" {
		t.Errorf("expected subscription recorded, got id=%q status=%q",
			reloaded.SubscriptionID, reloaded.SubscriptionStatus)
	}
	if reloaded.SubscriptionPriceID != "price_123" {
		t.Errorf("expected price recorded, got %q", reloaded.SubscriptionPriceID)
	}
	if reloaded.SubscriptionPeriodEnd == nil {
		t.Error("expected period end recorded")
	}
}
