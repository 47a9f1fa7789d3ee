package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/courseloom/api/model"
	"github.com/courseloom/api/services"
	"github.com/courseloom/api/services/stripe"
)

// CronManager manages all scheduled background jobs
type CronManager struct {
	cron        *cron.Cron
	db          *gorm.DB
	gateway     *stripe.Client
	enrollments *services.EnrollmentService
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, gateway *stripe.Client, enrollments *services.EnrollmentService) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:        c,
		db:          db,
		gateway:     gateway,
		enrollments: enrollments,
	}
}

// Start registers and starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs and waits for running ones to finish
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// 1. Every 10 minutes: reconcile payments stuck in pending against the gateway
	_, err := m.cron.AddFunc("0 */10 * * * *", func() {
		m.logJobStart("reconcile_pending_payments")
		m.ReconcilePendingPayments()
	})
	if err != nil {
		return err
	}

	// 2. Daily at 3 AM: prune processed webhook events
	_, err = m.cron.AddFunc("0 0 3 * * *", func() {
		m.logJobStart("prune_webhook_events")
		m.PruneWebhookEvents()
	})
	if err != nil {
		return err
	}

	// 3. Daily at 3:30 AM: drop expired entries from the token blacklist
	_, err = m.cron.AddFunc("0 30 3 * * *", func() {
		m.logJobStart("prune_token_blacklist")
		m.PruneTokenBlacklist()
	})
	if err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	cronLog := model.CronJobLog{
		JobName:   jobName,
		Status:    "started",
		StartedAt: time.Now(),
	}
	m.db.Create(&cronLog)
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(jobName string, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)
	m.finishJobLog(jobName, "completed", message, "")
}

// logJobError logs a failed cron job
func (m *CronManager) logJobError(jobName string, err error) {
	log.Printf("[CRON] Job failed: %s - %v", jobName, err)
	m.finishJobLog(jobName, "failed", "", err.Error())
}

func (m *CronManager) finishJobLog(jobName, status, message, errMsg string) {
	var cronLog model.CronJobLog
	err := m.db.Where("job_name = ? AND status = ?", jobName, "started").
		Order("started_at DESC").First(&cronLog).Error
	if err != nil {
		return
	}

	now := time.Now()
	cronLog.Status = status
	cronLog.CompletedAt = &now
	cronLog.Duration = int(now.Sub(cronLog.StartedAt).Milliseconds())
	cronLog.Message = message
	cronLog.ErrorMsg = errMsg
	m.db.Save(&cronLog)
}
