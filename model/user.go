package model

import (
	"time"

	"gorm.io/gorm"
)

// User roles
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// User represents a registered user in the system. Users are created lazily:
// either on first sign-in (register/login) or on first successful purchase,
// keyed by ExternalID so a webhook arriving before the user ever logged in
// still resolves to the same record.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	ExternalID   string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"external_id"` // identity-provider reference
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string         `gorm:"not null" json:"-"` // Never expose password in JSON
	Name         string         `gorm:"not null" json:"name"`
	Role         string         `gorm:"type:varchar(20);default:'student'" json:"role"` // student, instructor, admin
	TokenVersion int            `gorm:"default:0" json:"-"`                             // Increment to invalidate all user tokens

	// Subscription block (optional, populated by subscription webhook events)
	SubscriptionPriceID   string     `gorm:"type:varchar(100)" json:"subscription_price_id,omitempty"`
	SubscriptionID        string     `gorm:"type:varchar(100)" json:"subscription_id,omitempty"`
	SubscriptionStatus    string     `gorm:"type:varchar(30)" json:"subscription_status,omitempty"`
	SubscriptionPeriodEnd *time.Time `json:"subscription_period_end,omitempty"`

	// Relationships
	Enrollments    []Enrollment        `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"enrollments,omitempty"`
	Completions    []LessonCompletion  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Payments       []Payment           `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	TokenBlacklist []JWTTokenBlacklist `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsAdmin reports whether the user may access the admin console.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
