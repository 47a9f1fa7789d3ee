package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"

	"github.com/courseloom/api/model"
)

// ProgressService records and queries which lessons an enrolled user has
// completed. Updates are persisted before a response is returned; there is
// no fire-and-forget path.
type ProgressService struct {
	db      *gorm.DB
	catalog *CatalogService
}

// NewProgressService creates a new progress service
func NewProgressService(db *gorm.DB, catalog *CatalogService) *ProgressService {
	return &ProgressService{db: db, catalog: catalog}
}

// Progress is the per-course view of a user's ledger entry.
type Progress struct {
	CourseID           uint   `json:"course_id"`
	CompletedLessonIDs []uint `json:"completed_lesson_ids"`
	TotalLessons       int    `json:"total_lessons"`
	CompletedLessons   int    `json:"completed_lessons"`
	Percent            int    `json:"percent"`
}

// MarkLesson toggles a lesson's membership in the user's completed set for a
// course. The user must be enrolled and the lesson must belong to the course.
// Marking an already-completed lesson complete again (or unmarking a lesson
// that was never completed) is a no-op returning the current state.
func (s *ProgressService) MarkLesson(ctx context.Context, userID, courseID, lessonID uint, completed bool) (*Progress, error) {
	if err := s.requireEnrollment(ctx, userID, courseID); err != nil {
		return nil, err
	}

	belongs, err := s.catalog.LessonBelongsToCourse(ctx, courseID, lessonID)
	if err != nil {
		return nil, err
	}
	if !belongs {
		return nil, fmt.Errorf("%w: lesson %d, course %d", ErrForbiddenLesson, lessonID, courseID)
	}

	if completed {
		completion := model.LessonCompletion{UserID: userID, CourseID: courseID, LessonID: lessonID}
		if err := s.db.WithContext(ctx).Create(&completion).Error; err != nil && !IsDuplicateKey(err) {
			return nil, fmt.Errorf("failed to record completion: %w", err)
		}
	} else {
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND course_id = ? AND lesson_id = ?", userID, courseID, lessonID).
			Delete(&model.LessonCompletion{}).Error
		if err != nil {
			return nil, fmt.Errorf("failed to remove completion: %w", err)
		}
	}

	return s.GetProgress(ctx, userID, courseID)
}

// GetProgress returns the user's completed-lesson set and completion
// percentage for a course. A fresh enrollee with no completions gets an
// empty set, not an error.
func (s *ProgressService) GetProgress(ctx context.Context, userID, courseID uint) (*Progress, error) {
	if err := s.requireEnrollment(ctx, userID, courseID); err != nil {
		return nil, err
	}

	total, err := s.countLessons(ctx, courseID)
	if err != nil {
		return nil, err
	}

	// Count only completions that still intersect the catalog: a completion
	// row for a since-deleted lesson must not inflate the percentage.
	var completedIDs []uint
	err = s.db.WithContext(ctx).Model(&model.LessonCompletion{}).
		Joins("JOIN lessons ON lessons.id = lesson_completions.lesson_id AND lessons.deleted_at IS NULL").
		Where("lesson_completions.user_id = ? AND lesson_completions.course_id = ?", userID, courseID).
		Order("lesson_completions.lesson_id").
		Pluck("lesson_completions.lesson_id", &completedIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load completions: %w", err)
	}

	if completedIDs == nil {
		completedIDs = []uint{}
	}

	return &Progress{
		CourseID:           courseID,
		CompletedLessonIDs: completedIDs,
		TotalLessons:       total,
		CompletedLessons:   len(completedIDs),
		Percent:            CompletionPercent(len(completedIDs), total),
	}, nil
}

// CompletionPercent computes round(100 * completed / total). A course with
// zero lessons is 0 percent complete, never a division by zero.
func CompletionPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// CourseProgressSummary joins catalog and progress data for the dashboard's
// enrolled-courses listing.
type CourseProgressSummary struct {
	Course           model.Course `json:"course"`
	TotalLessons     int          `json:"total_lessons"`
	CompletedLessons int          `json:"completed_lessons"`
	Percent          int          `json:"percent"`
	EnrolledAt       int64        `json:"enrolled_at"`
}

// EnrolledCourses returns every course the user is enrolled in, each with its
// completion numbers.
func (s *ProgressService) EnrolledCourses(ctx context.Context, userID uint) ([]CourseProgressSummary, error) {
	var enrollments []model.Enrollment
	err := s.db.WithContext(ctx).Preload("Course").
		Where("user_id = ?", userID).
		Order("enrolled_at DESC").
		Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	summaries := make([]CourseProgressSummary, 0, len(enrollments))
	for _, enrollment := range enrollments {
		total, err := s.countLessons(ctx, enrollment.CourseID)
		if err != nil {
			return nil, err
		}

		var completed int64
		err = s.db.WithContext(ctx).Model(&model.LessonCompletion{}).
			Joins("JOIN lessons ON lessons.id = lesson_completions.lesson_id AND lessons.deleted_at IS NULL").
			Where("lesson_completions.user_id = ? AND lesson_completions.course_id = ?", userID, enrollment.CourseID).
			Count(&completed).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count completions: %w", err)
		}

		summaries = append(summaries, CourseProgressSummary{
			Course:           enrollment.Course,
			TotalLessons:     total,
			CompletedLessons: int(completed),
			Percent:          CompletionPercent(int(completed), total),
			EnrolledAt:       enrollment.EnrolledAt.Unix(),
		})
	}
	return summaries, nil
}

func (s *ProgressService) requireEnrollment(ctx context.Context, userID, courseID uint) error {
	var enrollment model.Enrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %d, course %d", ErrNotEnrolled, userID, courseID)
		}
		return fmt.Errorf("failed to check enrollment: %w", err)
	}
	return nil
}

func (s *ProgressService) countLessons(ctx context.Context, courseID uint) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&model.Lesson{}).
		Joins("JOIN modules ON modules.id = lessons.module_id AND modules.deleted_at IS NULL").
		Where("modules.course_id = ?", courseID).
		Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count lessons: %w", err)
	}
	return int(total), nil
}
