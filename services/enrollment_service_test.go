package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services/stripe"
)

func TestReconcileCreatesEnrollmentAndPayment(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")

	svc := NewEnrollmentService(db, nil, nil, nil)

	result, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalUserID:    user.ExternalID,
		Email:             user.Email,
		CourseID:          course.ID,
		CheckoutSessionID: "cs_test_1",
		PaymentStatus:     "paid",
		AmountCents:       4999,
		Currency:          "usd",
	})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !result.Applied {
		t.Error("expected first reconcile to be applied")
	}
	if result.UserID != user.ID || result.CourseID != course.ID {
		t.Errorf("unexpected result identities: %+v", result)
	}

	var enrollmentCount int64
	db.Model(&model.Enrollment{}).Count(&enrollmentCount)
	if enrollmentCount != 1 {
		t.Errorf("expected 1 enrollment, got %d", enrollmentCount)
	}

	var payment model.Payment
	if err := db.Where("checkout_session_id = ?", "cs_test_1").First(&payment).Error; err != nil {
		t.Fatalf("expected payment record: %v", err)
	}
	if payment.Status != model.PaymentStatusSucceeded {
		t.Errorf("expected succeeded payment, got %q", payment.Status)
	}
	if payment.AmountCents != 4999 {
		t.Errorf("expected amount 4999, got %d", payment.AmountCents)
	}

	var reloaded model.Course
	db.First(&reloaded, course.ID)
	if reloaded.EnrollmentCount != 1 {
		t.Errorf("expected enrollment count 1, got %d", reloaded.EnrollmentCount)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")

	svc := NewEnrollmentService(db, nil, nil, nil)
	in := ReconcileInput{
		ExternalUserID:    user.ExternalID,
		Email:             user.Email,
		CourseID:          course.ID,
		CheckoutSessionID: "cs_test_1",
		PaymentStatus:     "paid",
		AmountCents:       4999,
		Currency:          "usd",
	}

	// First delivery applies, second is absorbed. This is the
	// webhook-plus-redirect double delivery case.
	first, err := svc.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, err := svc.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	if !first.Applied {
		t.Error("expected first reconcile applied")
	}
	if second.Applied {
		t.Error("expected second reconcile to be an idempotency hit")
	}

	var enrollments, payments int64
	db.Model(&model.Enrollment{}).Count(&enrollments)
	db.Model(&model.Payment{}).Count(&payments)
	if enrollments != 1 {
		t.Errorf("expected 1 enrollment after double reconcile, got %d", enrollments)
	}
	if payments != 1 {
		t.Errorf("expected 1 payment after double reconcile, got %d", payments)
	}

	var reloaded model.Course
	db.First(&reloaded, course.ID)
	if reloaded.EnrollmentCount != 1 {
		t.Errorf("expected enrollment count 1 after double reconcile, got %d", reloaded.EnrollmentCount)
	}
}

func TestReconcileIgnoresUnpaidSession(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")

	svc := NewEnrollmentService(db, nil, nil, nil)

	result, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalUserID:    user.ExternalID,
		Email:             user.Email,
		CourseID:          course.ID,
		CheckoutSessionID: "cs_test_unpaid",
		PaymentStatus:     "unpaid",
	})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !result.Ignored {
		t.Error("expected unpaid session to be ignored")
	}

	var enrollments int64
	db.Model(&model.Enrollment{}).Count(&enrollments)
	if enrollments != 0 {
		t.Errorf("unpaid session must not enroll; got %d enrollments", enrollments)
	}
}

func TestReconcileCreatesUserLazily(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)

	svc := NewEnrollmentService(db, nil, nil, nil)

	// Webhook arrives for a buyer who has never signed in.
	result, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalUserID:    "ext-never-seen",
		Email:             "new@example.com",
		Name:              "New Buyer",
		CourseID:          course.ID,
		CheckoutSessionID: "cs_test_lazy",
		PaymentStatus:     "paid",
		AmountCents:       4999,
		Currency:          "usd",
	})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !result.Applied {
		t.Error("expected reconcile to apply")
	}

	var user model.User
	if err := db.Where("external_id = ?", "ext-never-seen").First(&user).Error; err != nil {
		t.Fatalf("expected lazily created user: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Errorf("expected buyer email on lazy user, got %q", user.Email)
	}

	enrolled, err := svc.IsEnrolled(context.Background(), user.ID, course.ID)
	if err != nil {
		t.Fatalf("IsEnrolled: %v", err)
	}
	if !enrolled {
		t.Error("lazily created user should be enrolled")
	}
}

func TestReconcileRejectsBadInput(t *testing.T) {
	db := setupTestDB(t)
	svc := NewEnrollmentService(db, nil, nil, nil)

	_, err := svc.Reconcile(context.Background(), ReconcileInput{
		PaymentStatus: "paid",
	})
	if !errors.Is(err, ErrBadEvent) {
		t.Errorf("expected ErrBadEvent for missing identifiers, got %v", err)
	}
}

func TestReconcileUnknownCourse(t *testing.T) {
	db := setupTestDB(t)
	svc := NewEnrollmentService(db, nil, nil, nil)

	_, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalUserID:    "ext-1",
		Email:             "student@example.com",
		CourseID:          999,
		CheckoutSessionID: "cs_test_x",
		PaymentStatus:     "paid",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown course, got %v", err)
	}
}

func TestReconcileSessionRejectsForeignSession(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)
	user := seedUser(t, db, "ext-owner", "owner@example.com")

	svc := NewEnrollmentService(db, nil, nil, nil)

	session := &stripe.CheckoutSession{
		ID:            "cs_test_foreign",
		PaymentStatus: "paid",
		AmountTotal:   4999,
		Currency:      "usd",
		Metadata: map[string]string{
			"external_user_id": "ext-somebody-else",
			"course_id":        fmt.Sprint(course.ID),
		},
	}

	_, err := svc.ReconcileSession(context.Background(), user, session)
	if !errors.Is(err, ErrAuthMismatch) {
		t.Errorf("expected ErrAuthMismatch, got %v", err)
	}

	var enrollments int64
	db.Model(&model.Enrollment{}).Count(&enrollments)
	if enrollments != 0 {
		t.Errorf("mismatched session must not enroll; got %d enrollments", enrollments)
	}
}

func TestReconcileSessionAppliesForOwner(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)
	user := seedUser(t, db, "ext-owner", "owner@example.com")

	svc := NewEnrollmentService(db, nil, nil, nil)

	session := &stripe.CheckoutSession{
		ID:            "cs_test_owner",
		PaymentStatus: "paid",
		AmountTotal:   4999,
		Currency:      "usd",
		Metadata: map[string]string{
			"external_user_id": user.ExternalID,
			"course_id":        fmt.Sprint(course.ID),
		},
	}

	result, err := svc.ReconcileSession(context.Background(), user, session)
	if err != nil {
		t.Fatalf("ReconcileSession: %v", err)
	}
	if !result.Applied {
		t.Error("expected session to apply for its owner")
	}
	if result.CourseID != course.ID {
		t.Errorf("expected course %d, got %d", course.ID, result.CourseID)
	}
}

func TestReconcileBySessionIDGatewayDown(t *testing.T) {
	db := setupTestDB(t)
	seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")

	// Gateway endpoint that is no longer reachable.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	gateway := stripe.NewClient(stripe.Config{
		SecretKey: "sk_test_x",
		BaseURL:   server.URL,
		RetryConfig: &stripe.RetryConfig{
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	})
	svc := NewEnrollmentService(db, gateway, nil, nil)

	_, _, err := svc.ReconcileBySessionID(context.Background(), user, "cs_test_down")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream when the gateway is unreachable, got %v", err)
	}

	// A gateway failure must not write anything.
	var enrollments, payments int64
	db.Model(&model.Enrollment{}).Count(&enrollments)
	db.Model(&model.Payment{}).Count(&payments)
	if enrollments != 0 || payments != 0 {
		t.Errorf("gateway failure must write nothing; got enrollments=%d payments=%d", enrollments, payments)
	}

	// Without a gateway client the sync path cannot confirm anything.
	_, _, err = NewEnrollmentService(db, nil, nil, nil).ReconcileBySessionID(context.Background(), user, "cs_test_down")
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream without a gateway client, got %v", err)
	}
}

func TestReconcileBySessionIDAppliesRetrievedSession(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)
	user := seedUser(t, db, "ext-owner", "owner@example.com")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "cs_test_sync",
			"payment_status": "paid",
			"status":         "complete",
			"amount_total":   4999,
			"currency":       "usd",
			"metadata": map[string]string{
				"external_user_id": user.ExternalID,
				"course_id":        fmt.Sprint(course.ID),
			},
		})
	}))
	defer server.Close()

	gateway := stripe.NewClient(stripe.Config{SecretKey: "sk_test_x", BaseURL: server.URL})
	svc := NewEnrollmentService(db, gateway, nil, nil)

	result, session, err := svc.ReconcileBySessionID(context.Background(), user, "cs_test_sync")
	if err != nil {
		t.Fatalf("ReconcileBySessionID: %v", err)
	}
	if !result.Applied {
		t.Error("expected retrieved session to apply")
	}
	if session == nil || !session.IsPaid() {
		t.Errorf("expected the paid session back, got %+v", session)
	}

	enrolled, err := svc.IsEnrolled(context.Background(), user.ID, course.ID)
	if err != nil {
		t.Fatalf("IsEnrolled: %v", err)
	}
	if !enrolled {
		t.Error("expected owner enrolled after sync reconcile")
	}
}

func TestIsEnrolled(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")

	svc := NewEnrollmentService(db, nil, nil, nil)

	enrolled, err := svc.IsEnrolled(context.Background(), user.ID, course.ID)
	if err != nil {
		t.Fatalf("IsEnrolled: %v", err)
	}
	if enrolled {
		t.Error("expected not enrolled before reconcile")
	}

	enroll(t, db, user.ID, course.ID)

	enrolled, err = svc.IsEnrolled(context.Background(), user.ID, course.ID)
	if err != nil {
		t.Fatalf("IsEnrolled: %v", err)
	}
	if !enrolled {
		t.Error("expected enrolled after enrollment row exists")
	}
}
