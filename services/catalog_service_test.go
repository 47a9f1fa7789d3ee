package services

import (
	"context"
	"errors"
	"testing"

	"github.com/courseloom/api/model"
)

func TestLessonSequenceOrder(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)

	svc := NewCatalogService(db)

	sequence, err := svc.LessonSequence(context.Background(), course.ID)
	if err != nil {
		t.Fatalf("LessonSequence: %v", err)
	}
	if len(sequence) != 3 {
		t.Fatalf("expected 3 lessons, got %d", len(sequence))
	}

	// Module positions dominate lesson positions: A, B from module 1 then C
	// from module 2, even though C's lesson position is 1.
	want := []string{"Lesson A", "Lesson B", "Lesson C"}
	for i, lesson := range sequence {
		if lesson.Title != want[i] {
			t.Errorf("sequence[%d] = %q, want %q", i, lesson.Title, want[i])
		}
	}
}

func TestNeighbors(t *testing.T) {
	db := setupTestDB(t)
	course, lessons := seedCourse(t, db)

	svc := NewCatalogService(db)
	ctx := context.Background()

	// First lesson: no prev.
	prev, next, err := svc.Neighbors(ctx, course.ID, lessons[0].ID)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if prev != nil {
		t.Errorf("first lesson should have no prev, got %q", prev.Title)
	}
	if next == nil || next.ID != lessons[1].ID {
		t.Errorf("expected next = lesson B, got %+v", next)
	}

	// Middle lesson: next crosses the module boundary.
	prev, next, err = svc.Neighbors(ctx, course.ID, lessons[1].ID)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if prev == nil || prev.ID != lessons[0].ID {
		t.Errorf("expected prev = lesson A, got %+v", prev)
	}
	if next == nil || next.ID != lessons[2].ID {
		t.Errorf("expected next = lesson C across module boundary, got %+v", next)
	}

	// Last lesson: no next.
	prev, next, err = svc.Neighbors(ctx, course.ID, lessons[2].ID)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if prev == nil || prev.ID != lessons[1].ID {
		t.Errorf("expected prev = lesson B, got %+v", prev)
	}
	if next != nil {
		t.Errorf("last lesson should have no next, got %q", next.Title)
	}

	// Unknown lesson: no neighbors, no error.
	prev, next, err = svc.Neighbors(ctx, course.ID, 9999)
	if err != nil {
		t.Fatalf("Neighbors for unknown lesson: %v", err)
	}
	if prev != nil || next != nil {
		t.Error("unknown lesson should yield no neighbors")
	}
}

func TestLessonBelongsToCourse(t *testing.T) {
	db := setupTestDB(t)
	course, lessons := seedCourse(t, db)

	other := model.Course{Title: "Other", Slug: "other",
		Modules: []model.Module{{Title: "M", Position: 1,
			Lessons: []model.Lesson{{Title: "Foreign", Kind: model.LessonKindText, Position: 1}}}}}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("failed to create other course: %v", err)
	}

	svc := NewCatalogService(db)
	ctx := context.Background()

	belongs, err := svc.LessonBelongsToCourse(ctx, course.ID, lessons[0].ID)
	if err != nil {
		t.Fatalf("LessonBelongsToCourse: %v", err)
	}
	if !belongs {
		t.Error("own lesson should belong to course")
	}

	belongs, err = svc.LessonBelongsToCourse(ctx, course.ID, other.Modules[0].Lessons[0].ID)
	if err != nil {
		t.Fatalf("LessonBelongsToCourse: %v", err)
	}
	if belongs {
		t.Error("foreign lesson must not belong to course")
	}
}

func TestUpdateLessonClearsMediaKeyOnKindChange(t *testing.T) {
	db := setupTestDB(t)
	_, lessons := seedCourse(t, db)

	svc := NewCatalogService(db)
	ctx := context.Background()

	// Lesson B is a video; give it a media key.
	videoLesson := lessons[1]
	mediaKey := "lessons/2/abc.mp4"
	if _, err := svc.UpdateLesson(ctx, videoLesson.ID, LessonUpdate{MediaKey: &mediaKey}); err != nil {
		t.Fatalf("set media key: %v", err)
	}

	var reloaded model.Lesson
	db.First(&reloaded, videoLesson.ID)
	if reloaded.MediaKey != mediaKey {
		t.Fatalf("expected media key %q, got %q", mediaKey, reloaded.MediaKey)
	}

	// Changing the kind to text must clear the key.
	textKind := model.LessonKindText
	updated, err := svc.UpdateLesson(ctx, videoLesson.ID, LessonUpdate{Kind: &textKind})
	if err != nil {
		t.Fatalf("change kind: %v", err)
	}
	if updated.MediaKey != "" {
		t.Errorf("expected media key cleared on kind change, got %q", updated.MediaKey)
	}

	db.First(&reloaded, videoLesson.ID)
	if reloaded.MediaKey != "" {
		t.Errorf("expected cleared media key persisted, got %q", reloaded.MediaKey)
	}
}

func TestUpdateLessonRejectsUnknownKind(t *testing.T) {
	db := setupTestDB(t)
	_, lessons := seedCourse(t, db)

	svc := NewCatalogService(db)

	bad := "hologram"
	_, err := svc.UpdateLesson(context.Background(), lessons[0].ID, LessonUpdate{Kind: &bad})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for unknown kind, got %v", err)
	}
}

func TestDeleteCourseCascades(t *testing.T) {
	db := setupTestDB(t)
	course, lessons := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")
	enroll(t, db, user.ID, course.ID)

	if err := db.Create(&model.LessonCompletion{
		UserID: user.ID, CourseID: course.ID, LessonID: lessons[0].ID,
	}).Error; err != nil {
		t.Fatalf("failed to create completion: %v", err)
	}

	svc := NewCatalogService(db)

	if err := svc.DeleteCourse(context.Background(), course.ID); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}

	var modules, lessonRows, enrollments, completions int64
	db.Model(&model.Module{}).Count(&modules)
	db.Model(&model.Lesson{}).Count(&lessonRows)
	db.Model(&model.Enrollment{}).Count(&enrollments)
	db.Model(&model.LessonCompletion{}).Count(&completions)

	if modules != 0 || lessonRows != 0 || enrollments != 0 || completions != 0 {
		t.Errorf("expected empty tables after course delete, got modules=%d lessons=%d enrollments=%d completions=%d",
			modules, lessonRows, enrollments, completions)
	}

	if _, err := svc.GetCourse(context.Background(), course.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted course, got %v", err)
	}
}

func TestDeleteModuleRemovesItsLessonsOnly(t *testing.T) {
	db := setupTestDB(t)
	course, lessons := seedCourse(t, db)

	var moduleOne model.Module
	if err := db.Where("course_id = ? AND position = 1", course.ID).First(&moduleOne).Error; err != nil {
		t.Fatalf("failed to load module: %v", err)
	}

	svc := NewCatalogService(db)

	if err := svc.DeleteModule(context.Background(), moduleOne.ID); err != nil {
		t.Fatalf("DeleteModule: %v", err)
	}

	sequence, err := svc.LessonSequence(context.Background(), course.ID)
	if err != nil {
		t.Fatalf("LessonSequence: %v", err)
	}
	if len(sequence) != 1 || sequence[0].ID != lessons[2].ID {
		t.Errorf("expected only lesson C to survive, got %d lessons", len(sequence))
	}
}

func TestDeleteCourseNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCatalogService(db)

	if err := svc.DeleteCourse(context.Background(), 12345); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
