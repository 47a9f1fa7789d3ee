package services

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
)

// EmailService sends transactional email via SMTP. When SMTP is not
// configured the service logs instead of failing, so enrollment never
// blocks on mail delivery.
type EmailService struct {
	host     string
	port     int
	username string
	password string
	from     string
	appURL   string
}

// NewEmailService creates a new email service instance from the environment
func NewEmailService() *EmailService {
	port := 587
	if p := os.Getenv("SMTP_PORT"); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}

	return &EmailService{
		host:     getEnvOrDefault("SMTP_HOST", "smtp.gmail.com"),
		port:     port,
		username: os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASS"),
		from:     getEnvOrDefault("SMTP_FROM", "noreply@courseloom.app"),
		appURL:   getEnvOrDefault("APP_URL", "http://localhost:3000"),
	}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// IsConfigured checks if SMTP is properly configured
func (e *EmailService) IsConfigured() bool {
	return e.username != "" && e.password != ""
}

// SendEnrollmentConfirmation tells a buyer their course access is active.
func (e *EmailService) SendEnrollmentConfirmation(toEmail, userName, courseTitle string) error {
	if !e.IsConfigured() {
		log.Printf("[EMAIL] SMTP not configured; skipping enrollment confirmation for %s (%s)", toEmail, courseTitle)
		return nil
	}

	subject := fmt.Sprintf("You're enrolled in %s", courseTitle)
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\n"+
			"Your payment went through and you now have full access to \"%s\".\r\n"+
			"Pick up where you left off any time: %s/dashboard\r\n\r\n"+
			"Happy learning!\r\n",
		userName, courseTitle, e.appURL,
	)

	return e.send(toEmail, subject, body)
}

func (e *EmailService) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", e.from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	auth := smtp.PlainAuth("", e.username, e.password, e.host)

	if err := smtp.SendMail(addr, auth, e.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
