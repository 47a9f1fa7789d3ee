package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services"
)

const (
	// pendingPaymentAge is how long a payment may sit pending before the
	// sweep re-checks its session with the gateway.
	pendingPaymentAge = 1 * time.Hour

	// webhookEventRetention is how long processed webhook events are kept
	// for auditing before the prune job removes them.
	webhookEventRetention = 90 * 24 * time.Hour
)

// ReconcilePendingPayments re-checks payments stuck in pending against the
// gateway. A session that completed without its webhook or redirect landing
// (lost delivery, crashed instance) gets reconciled here; an expired session
// gets its payment marked expired so it stops being swept.
func (m *CronManager) ReconcilePendingPayments() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	jobName := "reconcile_pending_payments"

	var payments []model.Payment
	cutoff := time.Now().Add(-pendingPaymentAge)
	err := m.db.Where("status = ? AND created_at < ?", model.PaymentStatusPending, cutoff).
		Limit(100).Find(&payments).Error
	if err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to query pending payments: %w", err))
		return
	}

	if len(payments) == 0 {
		m.logJobComplete(jobName, "No pending payments to check")
		return
	}

	reconciled := 0
	expired := 0
	failed := 0

	for _, payment := range payments {
		session, err := m.gateway.RetrieveSession(ctx, payment.CheckoutSessionID)
		if err != nil {
			log.Printf("[CRON] Failed to retrieve session %s: %v", payment.CheckoutSessionID, err)
			failed++
			continue
		}

		switch {
		case session.IsPaid():
			var user model.User
			if err := m.db.First(&user, payment.UserID).Error; err != nil {
				log.Printf("[CRON] Payment %d references missing user %d", payment.ID, payment.UserID)
				failed++
				continue
			}
			_, err := m.enrollments.Reconcile(ctx, services.ReconcileInput{
				ExternalUserID:    user.ExternalID,
				Email:             user.Email,
				Name:              user.Name,
				CourseID:          payment.CourseID,
				CheckoutSessionID: payment.CheckoutSessionID,
				PaymentStatus:     session.PaymentStatus,
				AmountCents:       session.AmountTotal,
				Currency:          session.Currency,
			})
			if err != nil {
				log.Printf("[CRON] Failed to reconcile session %s: %v", payment.CheckoutSessionID, err)
				failed++
				continue
			}
			reconciled++
		case session.Status == "expired":
			if err := m.db.Model(&payment).Update("status", model.PaymentStatusExpired).Error; err != nil {
				log.Printf("[CRON] Failed to expire payment %d: %v", payment.ID, err)
				failed++
				continue
			}
			expired++
		}
	}

	m.logJobComplete(jobName, fmt.Sprintf("Checked %d pending payments: %d reconciled, %d expired, %d failed",
		len(payments), reconciled, expired, failed))
}

// PruneWebhookEvents deletes processed webhook events past the retention
// window. Unprocessed events are kept regardless of age.
func (m *CronManager) PruneWebhookEvents() {
	jobName := "prune_webhook_events"

	cutoff := time.Now().Add(-webhookEventRetention)
	result := m.db.Where("processed_at IS NOT NULL AND created_at < ?", cutoff).
		Delete(&model.WebhookEvent{})
	if result.Error != nil {
		m.logJobError(jobName, fmt.Errorf("failed to prune webhook events: %w", result.Error))
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("Deleted %d webhook events", result.RowsAffected))
}

// PruneTokenBlacklist drops blacklist entries whose tokens have expired on
// their own; they can never validate again.
func (m *CronManager) PruneTokenBlacklist() {
	jobName := "prune_token_blacklist"

	result := m.db.Where("expires_at < ?", time.Now()).
		Unscoped().Delete(&model.JWTTokenBlacklist{})
	if result.Error != nil {
		m.logJobError(jobName, fmt.Errorf("failed to prune token blacklist: %w", result.Error))
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("Deleted %d expired blacklist entries", result.RowsAffected))
}
