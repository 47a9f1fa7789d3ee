package services

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/courseloom/api/model"
)

// setupTestDB opens a fresh in-memory database with the full schema. Each
// test gets its own; nothing is shared between tests.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&model.User{},
		&model.JWTTokenBlacklist{},
		&model.Course{},
		&model.Module{},
		&model.Lesson{},
		&model.Enrollment{},
		&model.LessonCompletion{},
		&model.Payment{},
		&model.WebhookEvent{},
		&model.CronJobLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// seedCourse creates a published course with two modules and three lessons,
// returning the course and the lessons in catalog order.
func seedCourse(t *testing.T, db *gorm.DB) (*model.Course, []model.Lesson) {
	t.Helper()

	course := model.Course{
		Title:      "Test Course",
		Slug:       "test-course",
		PriceCents: 4999,
		Currency:   "usd",
		Published:  true,
		Modules: []model.Module{
			{
				Title:    "Module One",
				Position: 1,
				Lessons: []model.Lesson{
					{Title: "Lesson A", Kind: model.LessonKindText, Position: 1, Published: true},
					{Title: "Lesson B", Kind: model.LessonKindVideo, Position: 2, Published: true},
				},
			},
			{
				Title:    "Module Two",
				Position: 2,
				Lessons: []model.Lesson{
					{Title: "Lesson C", Kind: model.LessonKindQuiz, Position: 1, Published: true},
				},
			},
		},
	}
	if err := db.Create(&course).Error; err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}

	var lessons []model.Lesson
	err := db.
		Joins("JOIN modules ON modules.id = lessons.module_id").
		Where("modules.course_id = ?", course.ID).
		Order("modules.position, modules.id, lessons.position, lessons.id").
		Find(&lessons).Error
	if err != nil {
		t.Fatalf("failed to load seeded lessons: %v", err)
	}
	if len(lessons) != 3 {
		t.Fatalf("expected 3 seeded lessons, got %d", len(lessons))
	}

	return &course, lessons
}

// seedUser creates a student user.
func seedUser(t *testing.T, db *gorm.DB, externalID, email string) *model.User {
	t.Helper()

	user := model.User{
		ExternalID:   externalID,
		Email:        email,
		Name:         "Test Student",
		PasswordHash: "not-a-real-hash",
		Role:         model.RoleStudent,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return &user
}

// enroll inserts an enrollment row directly, bypassing the reconciler.
func enroll(t *testing.T, db *gorm.DB, userID, courseID uint) {
	t.Helper()

	if err := db.Create(&model.Enrollment{UserID: userID, CourseID: courseID}).Error; err != nil {
		t.Fatalf("failed to enroll user %d in course %d: %v", userID, courseID, err)
	}
}
