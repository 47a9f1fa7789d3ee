package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services/stripe"
	"github.com/courseloom/api/utils/cache"
)

// enrollmentCacheTTL bounds how long a cached enrollment check can lag
// behind a concurrent write on another instance.
const enrollmentCacheTTL = 5 * time.Minute

// EnrollmentService converts payment-success signals into durable enrollment
// state, exactly once per checkout session. Both delivery paths (the
// synchronous success redirect and the asynchronous webhook) funnel into
// Reconcile; unique keys at the storage layer make the loser of a race
// observe the already-applied state instead of duplicating it.
type EnrollmentService struct {
	db      *gorm.DB
	gateway *stripe.Client    // optional; required for ReconcileBySessionID
	cache   *cache.RedisCache // optional
	email   *EmailService     // optional
}

// NewEnrollmentService creates a new enrollment service. gateway, cache and
// email may be nil; cache and email are best-effort collaborators.
func NewEnrollmentService(db *gorm.DB, gateway *stripe.Client, redisCache *cache.RedisCache, email *EmailService) *EnrollmentService {
	return &EnrollmentService{db: db, gateway: gateway, cache: redisCache, email: email}
}

// ReconcileInput is a payment-completion signal, from either delivery path.
type ReconcileInput struct {
	ExternalUserID    string
	Email             string // buyer email, used when the user record must be created lazily
	Name              string
	CourseID          uint
	CheckoutSessionID string
	PaymentStatus     string // gateway payment_status value
	AmountCents       int64
	Currency          string
}

// ReconcileResult reports what the reconciler did. Applied is false on an
// idempotency hit (the session had already been applied), which is success,
// not an error.
type ReconcileResult struct {
	UserID   uint
	CourseID uint
	Applied  bool
	Ignored  bool // event was not a payment success; nothing to do
}

// Reconcile grants course access for a paid checkout session: enrollment row,
// succeeded payment record and enrollment counter bump, all in a single
// transaction. Re-delivery of the same session id is detected as
// already-applied and returns cleanly.
func (s *EnrollmentService) Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	if in.CheckoutSessionID == "" || in.ExternalUserID == "" || in.CourseID == 0 {
		return nil, fmt.Errorf("%w: missing session id, user identity or course", ErrBadEvent)
	}

	// Non-success statuses are a no-op, not an error; the gateway reports
	// them for sessions we never granted access for.
	if in.PaymentStatus != "paid" && in.PaymentStatus != "no_payment_required" {
		return &ReconcileResult{CourseID: in.CourseID, Ignored: true}, nil
	}

	var course model.Course
	if err := s.db.WithContext(ctx).First(&course, in.CourseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: course %d", ErrNotFound, in.CourseID)
		}
		return nil, fmt.Errorf("failed to load course: %w", err)
	}

	user, err := s.getOrCreateUser(ctx, in.ExternalUserID, in.Email, in.Name)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{UserID: user.ID, CourseID: course.ID}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enrollment := model.Enrollment{UserID: user.ID, CourseID: course.ID}
		switch err := tx.Create(&enrollment).Error; {
		case err == nil:
			result.Applied = true
		case IsDuplicateKey(err):
			// The other delivery path won the race or the event was
			// re-delivered; the enrollment already exists.
			result.Applied = false
		default:
			return fmt.Errorf("failed to create enrollment: %w", err)
		}

		var payment model.Payment
		err := tx.Where("checkout_session_id = ?", in.CheckoutSessionID).First(&payment).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			payment = model.Payment{
				UserID:            user.ID,
				CourseID:          course.ID,
				AmountCents:       in.AmountCents,
				Currency:          in.Currency,
				CheckoutSessionID: in.CheckoutSessionID,
				Status:            model.PaymentStatusSucceeded,
			}
			if err := tx.Create(&payment).Error; err != nil && !IsDuplicateKey(err) {
				return fmt.Errorf("failed to create payment record: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to load payment record: %w", err)
		case payment.Status != model.PaymentStatusSucceeded:
			if err := tx.Model(&payment).Update("status", model.PaymentStatusSucceeded).Error; err != nil {
				return fmt.Errorf("failed to update payment status: %w", err)
			}
		}

		if result.Applied {
			if err := tx.Model(&model.Course{}).Where("id = ?", course.ID).
				UpdateColumn("enrollment_count", gorm.Expr("enrollment_count + 1")).Error; err != nil {
				return fmt.Errorf("failed to bump enrollment count: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, enrollmentCacheKey(user.ID)); err != nil {
			log.Printf("[ENROLLMENT] Failed to invalidate enrollment cache for user %d: %v", user.ID, err)
		}
	}

	if result.Applied && s.email != nil {
		if err := s.email.SendEnrollmentConfirmation(user.Email, user.Name, course.Title); err != nil {
			log.Printf("[ENROLLMENT] Failed to send confirmation email to %s: %v", user.Email, err)
		}
	}

	return result, nil
}

// ReconcileSession applies a retrieved checkout session on behalf of an
// authenticated caller (the synchronous success-redirect path). The identity
// baked into the session metadata must match the caller.
func (s *EnrollmentService) ReconcileSession(ctx context.Context, user *model.User, session *stripe.CheckoutSession) (*ReconcileResult, error) {
	courseID, err := courseIDFromMetadata(session.Metadata)
	if err != nil {
		return nil, err
	}
	if session.Metadata["external_user_id"] != user.ExternalID {
		return nil, ErrAuthMismatch
	}
	return s.Reconcile(ctx, ReconcileInput{
		ExternalUserID:    user.ExternalID,
		Email:             user.Email,
		Name:              user.Name,
		CourseID:          courseID,
		CheckoutSessionID: session.ID,
		PaymentStatus:     session.PaymentStatus,
		AmountCents:       session.AmountTotal,
		Currency:          session.Currency,
	})
}

// ReconcileBySessionID re-confirms a checkout session with the gateway and
// applies it for the authenticated caller. Gateway failures surface as
// ErrUpstream with no state written; client-supplied session ids are never
// trusted without this server-side retrieval.
func (s *EnrollmentService) ReconcileBySessionID(ctx context.Context, user *model.User, sessionID string) (*ReconcileResult, *stripe.CheckoutSession, error) {
	if s.gateway == nil {
		return nil, nil, fmt.Errorf("%w: no gateway client configured", ErrUpstream)
	}
	session, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: retrieve session %s: %v", ErrUpstream, sessionID, err)
	}
	result, err := s.ReconcileSession(ctx, user, session)
	return result, session, err
}

// IsEnrolled reports whether the user has access to the course, consulting a
// short-lived redis cache before the database.
func (s *EnrollmentService) IsEnrolled(ctx context.Context, userID, courseID uint) (bool, error) {
	cacheKey := enrollmentCacheKey(userID)
	if s.cache != nil {
		var enrolled []uint
		if err := s.cache.GetJSON(ctx, cacheKey, &enrolled); err == nil {
			for _, id := range enrolled {
				if id == courseID {
					return true, nil
				}
			}
			return false, nil
		}
	}

	var ids []uint
	if err := s.db.WithContext(ctx).Model(&model.Enrollment{}).
		Where("user_id = ?", userID).Pluck("course_id", &ids).Error; err != nil {
		return false, fmt.Errorf("failed to load enrollments: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, ids, enrollmentCacheTTL); err != nil {
			log.Printf("[ENROLLMENT] Failed to cache enrollments for user %d: %v", userID, err)
		}
	}

	for _, id := range ids {
		if id == courseID {
			return true, nil
		}
	}
	return false, nil
}

// getOrCreateUser resolves the buyer by external identity, creating the
// record lazily when a purchase arrives before first sign-in. The
// find-or-create guard runs before every insert path so a user is never
// duplicated for one external id.
func (s *EnrollmentService) getOrCreateUser(ctx context.Context, externalID, email, name string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if email == "" {
		return nil, fmt.Errorf("%w: unknown user %q and no email to create one", ErrBadEvent, externalID)
	}

	user = model.User{
		ExternalID:   externalID,
		Email:        email,
		Name:         name,
		PasswordHash: uuid.New().String(), // placeholder until the user claims the account
		Role:         model.RoleStudent,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if IsDuplicateKey(err) {
			// Lost a creation race; fetch the winner.
			if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error; err != nil {
				return nil, fmt.Errorf("failed to load user after create race: %w", err)
			}
			return &user, nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func enrollmentCacheKey(userID uint) string {
	return fmt.Sprintf("enrollments:user:%d", userID)
}

func courseIDFromMetadata(metadata map[string]string) (uint, error) {
	raw := metadata["course_id"]
	if raw == "" {
		return 0, fmt.Errorf("%w: session metadata missing course_id", ErrBadEvent)
	}
	var id uint
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad course_id %q in session metadata", ErrBadEvent, raw)
	}
	return id, nil
}

// IsDuplicateKey detects a unique-constraint violation across the drivers in
// use (postgres in production, sqlite in tests).
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}
