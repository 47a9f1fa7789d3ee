package model

import (
	"time"
)

// Enrollment grants a user access to a course. The composite primary key is
// the uniqueness anchor the reconciler relies on: a losing concurrent writer
// hits a duplicate-key error and observes the already-applied state instead
// of inserting a second row.
type Enrollment struct {
	UserID     uint      `gorm:"primaryKey" json:"user_id"`
	CourseID   uint      `gorm:"primaryKey" json:"course_id"`
	EnrolledAt time.Time `gorm:"autoCreateTime" json:"enrolled_at"`

	// Relationships
	User   User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Course Course `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"course,omitempty"`
}

// LessonCompletion is one element of a user's progress ledger: the set of
// completed lessons for a course. Rows are created lazily on first
// completion; the composite key keeps concurrent toggles from multiple
// tabs/devices idempotent.
type LessonCompletion struct {
	UserID      uint      `gorm:"primaryKey" json:"user_id"`
	CourseID    uint      `gorm:"primaryKey" json:"course_id"`
	LessonID    uint      `gorm:"primaryKey" json:"lesson_id"`
	CompletedAt time.Time `gorm:"autoCreateTime" json:"completed_at"`

	// Relationships
	User   User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Course Course `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
	Lesson Lesson `gorm:"foreignKey:LessonID;constraint:OnDelete:CASCADE" json:"-"`
}
