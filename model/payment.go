package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
)

// Payment is the system of record for revenue reporting. One row per
// checkout session, anchored by the unique CheckoutSessionID so a
// re-delivered completion event can never create a second record.
// Immutable once written except for Status.
type Payment struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
	UserID            uint           `gorm:"not null;index" json:"user_id"`
	CourseID          uint           `gorm:"not null;index" json:"course_id"`
	AmountCents       int64          `gorm:"not null" json:"amount_cents"`
	Currency          string         `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	CheckoutSessionID string         `gorm:"type:varchar(120);uniqueIndex;not null" json:"checkout_session_id"`
	Status            string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	// Relationships
	User   User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Course Course `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"course,omitempty"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// WebhookEvent stores raw payment-gateway webhook payloads with dedup
// metadata. The (provider, provider_event_id) unique index makes event
// processing idempotent under gateway redelivery.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Provider        string         `gorm:"type:varchar(20);not null;uniqueIndex:ux_webhook_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"type:varchar(120);not null;uniqueIndex:ux_webhook_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload         datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	SignatureValid  bool           `gorm:"default:false" json:"signature_valid"`
	ProcessedAt     *time.Time     `gorm:"index" json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error,omitempty"`
}

// TableName specifies the table name for WebhookEvent
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
