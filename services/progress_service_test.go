package services

import (
	"context"
	"errors"
	"testing"

	"github.com/courseloom/api/model"
)

func TestMarkLessonRequiresEnrollment(t *testing.T) {
	db := setupTestDB(t)
	course, lessons := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")

	svc := NewProgressService(db, NewCatalogService(db))

	_, err := svc.MarkLesson(context.Background(), user.ID, course.ID, lessons[0].ID, true)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}

	var count int64
	db.Model(&model.LessonCompletion{}).Count(&count)
	if count != 0 {
		t.Errorf("rejected mark must not write; got %d completions", count)
	}
}

func TestMarkLessonRejectsForeignLesson(t *testing.T) {
	db := setupTestDB(t)
	course, _ := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")
	enroll(t, db, user.ID, course.ID)

	// A lesson in a different course entirely.
	other := model.Course{Title: "Other", Slug: "other", Published: true,
		Modules: []model.Module{{Title: "M", Position: 1,
			Lessons: []model.Lesson{{Title: "Foreign", Kind: model.LessonKindText, Position: 1}}}}}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("failed to create other course: %v", err)
	}
	foreignLesson := other.Modules[0].Lessons[0]

	svc := NewProgressService(db, NewCatalogService(db))

	_, err := svc.MarkLesson(context.Background(), user.ID, course.ID, foreignLesson.ID, true)
	if !errors.Is(err, ErrForbiddenLesson) {
		t.Fatalf("expected ErrForbiddenLesson, got %v", err)
	}

	// The ledger must be unchanged after the rejection.
	var count int64
	db.Model(&model.LessonCompletion{}).Count(&count)
	if count != 0 {
		t.Errorf("rejected mark must not write; got %d completions", count)
	}
}

func TestMarkLessonIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	course, lessons := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")
	enroll(t, db, user.ID, course.ID)

	svc := NewProgressService(db, NewCatalogService(db))

	first, err := svc.MarkLesson(context.Background(), user.ID, course.ID, lessons[0].ID, true)
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	second, err := svc.MarkLesson(context.Background(), user.ID, course.ID, lessons[0].ID, true)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}

	if first.CompletedLessons != 1 || second.CompletedLessons != 1 {
		t.Errorf("expected 1 completion after double mark, got %d then %d",
			first.CompletedLessons, second.CompletedLessons)
	}

	var count int64
	db.Model(&model.LessonCompletion{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 ledger row after double mark, got %d", count)
	}

	// Unmarking a lesson that was never completed is also a no-op.
	third, err := svc.MarkLesson(context.Background(), user.ID, course.ID, lessons[1].ID, false)
	if err != nil {
		t.Fatalf("unmark of untouched lesson: %v", err)
	}
	if third.CompletedLessons != 1 {
		t.Errorf("expected completions unchanged, got %d", third.CompletedLessons)
	}
}

func TestProgressPercentages(t *testing.T) {
	db := setupTestDB(t)
	course, lessons := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")
	enroll(t, db, user.ID, course.ID)

	svc := NewProgressService(db, NewCatalogService(db))
	ctx := context.Background()

	progress, err := svc.GetProgress(ctx, user.ID, course.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.Percent != 0 || progress.TotalLessons != 3 {
		t.Errorf("fresh enrollee: expected 0%% of 3, got %d%% of %d", progress.Percent, progress.TotalLessons)
	}
	if progress.CompletedLessonIDs == nil {
		t.Error("completed set should be empty, not nil")
	}

	// 2 of 3 rounds to 67, not 66.
	if _, err := svc.MarkLesson(ctx, user.ID, course.ID, lessons[0].ID, true); err != nil {
		t.Fatalf("mark lesson 0: %v", err)
	}
	progress, err = svc.MarkLesson(ctx, user.ID, course.ID, lessons[1].ID, true)
	if err != nil {
		t.Fatalf("mark lesson 1: %v", err)
	}
	if progress.Percent != 67 {
		t.Errorf("expected 67%% for 2 of 3, got %d%%", progress.Percent)
	}

	progress, err = svc.MarkLesson(ctx, user.ID, course.ID, lessons[2].ID, true)
	if err != nil {
		t.Fatalf("mark lesson 2: %v", err)
	}
	if progress.Percent != 100 {
		t.Errorf("expected 100%%, got %d%%", progress.Percent)
	}

	// Unmark drops it back down.
	progress, err = svc.MarkLesson(ctx, user.ID, course.ID, lessons[2].ID, false)
	if err != nil {
		t.Fatalf("unmark lesson 2: %v", err)
	}
	if progress.Percent != 67 || progress.CompletedLessons != 2 {
		t.Errorf("expected 67%% with 2 completions after unmark, got %d%% with %d",
			progress.Percent, progress.CompletedLessons)
	}
}

func TestProgressZeroLessonCourse(t *testing.T) {
	db := setupTestDB(t)
	user := seedUser(t, db, "ext-1", "student@example.com")

	course := model.Course{Title: "Empty", Slug: "empty", Published: true}
	if err := db.Create(&course).Error; err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	enroll(t, db, user.ID, course.ID)

	svc := NewProgressService(db, NewCatalogService(db))

	progress, err := svc.GetProgress(context.Background(), user.ID, course.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.Percent != 0 {
		t.Errorf("zero-lesson course must be 0%%, got %d%%", progress.Percent)
	}
}

func TestCompletionPercentRounding(t *testing.T) {
	cases := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 6, 17},
		{1, 8, 13}, // 12.5 rounds up
	}
	for _, tc := range cases {
		if got := CompletionPercent(tc.completed, tc.total); got != tc.want {
			t.Errorf("CompletionPercent(%d, %d) = %d, want %d", tc.completed, tc.total, got, tc.want)
		}
	}
}

func TestEnrolledCoursesSummary(t *testing.T) {
	db := setupTestDB(t)
	course, lessons := seedCourse(t, db)
	user := seedUser(t, db, "ext-1", "student@example.com")
	enroll(t, db, user.ID, course.ID)

	svc := NewProgressService(db, NewCatalogService(db))
	ctx := context.Background()

	if _, err := svc.MarkLesson(ctx, user.ID, course.ID, lessons[0].ID, true); err != nil {
		t.Fatalf("mark lesson: %v", err)
	}

	summaries, err := svc.EnrolledCourses(ctx, user.ID)
	if err != nil {
		t.Fatalf("EnrolledCourses: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Course.ID != course.ID {
		t.Errorf("expected course %d, got %d", course.ID, s.Course.ID)
	}
	if s.TotalLessons != 3 || s.CompletedLessons != 1 || s.Percent != 33 {
		t.Errorf("unexpected summary: %+v", s)
	}
}
