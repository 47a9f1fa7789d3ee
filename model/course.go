package model

import (
	"time"

	"gorm.io/gorm"
)

// Lesson content kinds
const (
	LessonKindText  = "text"
	LessonKindVideo = "video"
	LessonKindAudio = "audio"
	LessonKindQuiz  = "quiz"
	LessonKindCode  = "code"
	LessonKindChat  = "chat"
)

// LessonKinds lists every valid lesson content kind.
var LessonKinds = []string{
	LessonKindText, LessonKindVideo, LessonKindAudio,
	LessonKindQuiz, LessonKindCode, LessonKindChat,
}

// IsValidLessonKind reports whether kind is one of the known content kinds.
func IsValidLessonKind(kind string) bool {
	for _, k := range LessonKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// KindHasMedia reports whether a lesson kind carries a media object.
// Only video and audio lessons have a media key; it is cleared when the
// kind changes away from those.
func KindHasMedia(kind string) bool {
	return kind == LessonKindVideo || kind == LessonKindAudio
}

// Course is the top of the catalog hierarchy. Slug is the stable
// external-facing identifier; PriceCents is always integer minor units.
type Course struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	Title           string         `gorm:"not null" json:"title"`
	Slug            string         `gorm:"type:varchar(120);uniqueIndex;not null" json:"slug"`
	Description     string         `gorm:"type:text" json:"description"`
	PriceCents      int64          `gorm:"not null;default:0;check:price_cents >= 0" json:"price_cents"`
	Currency        string         `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	GatewayPriceID  string         `gorm:"type:varchar(100)" json:"gateway_price_id,omitempty"` // payment-gateway price reference
	Published       bool           `gorm:"default:false;index" json:"published"`
	EnrollmentCount int64          `gorm:"not null;default:0" json:"enrollment_count"`

	// Relationships
	Modules     []Module     `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"modules,omitempty"`
	Enrollments []Enrollment `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
	Payments    []Payment    `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
}

// Module groups lessons within a course. Position is unique per course;
// values need not be contiguous but sorting by (position, id) keeps the
// order deterministic.
type Module struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	CourseID  uint           `gorm:"not null;index;uniqueIndex:ux_modules_course_position,priority:1" json:"course_id"`
	Title     string         `gorm:"not null" json:"title"`
	Position  int            `gorm:"not null;uniqueIndex:ux_modules_course_position,priority:2" json:"position"`

	// Relationships
	Course  Course   `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
	Lessons []Lesson `gorm:"foreignKey:ModuleID;constraint:OnDelete:CASCADE" json:"lessons,omitempty"`
}

// Lesson is a single unit of course content.
type Lesson struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	ModuleID        uint           `gorm:"not null;index" json:"module_id"`
	Title           string         `gorm:"not null" json:"title"`
	Content         string         `gorm:"type:text" json:"content,omitempty"`
	Kind            string         `gorm:"type:varchar(10);not null;default:'text'" json:"kind"`
	MediaKey        string         `gorm:"type:varchar(255)" json:"media_key,omitempty"` // object-storage key, video/audio only
	Position        int            `gorm:"not null;default:0" json:"position"`
	DurationMinutes *int           `json:"duration_minutes,omitempty"`
	Published       bool           `gorm:"default:false" json:"published"`

	// Relationships
	Module Module `gorm:"foreignKey:ModuleID;constraint:OnDelete:CASCADE" json:"-"`
}
