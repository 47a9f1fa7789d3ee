package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/courseloom/api/model"
)

// CatalogService owns the mutations and traversals of the course -> module ->
// lesson hierarchy that must stay consistent as a whole: cascading deletes,
// the media-kind rule on lessons, and the flattened lesson sequence used for
// prev/next navigation.
type CatalogService struct {
	db *gorm.DB
}

// NewCatalogService creates a new catalog service
func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

// GetCourse loads a course by id.
func (s *CatalogService) GetCourse(ctx context.Context, courseID uint) (*model.Course, error) {
	var course model.Course
	if err := s.db.WithContext(ctx).First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load course: %w", err)
	}
	return &course, nil
}

// GetCourseBySlug loads a course by its stable external identifier.
func (s *CatalogService) GetCourseBySlug(ctx context.Context, slug string) (*model.Course, error) {
	var course model.Course
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load course: %w", err)
	}
	return &course, nil
}

// DeleteCourse removes a course together with its modules, their lessons and
// the progress rows referencing them, in a single transaction. A partial
// delete would orphan child records, so it is all-or-nothing.
func (s *CatalogService) DeleteCourse(ctx context.Context, courseID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var course model.Course
		if err := tx.First(&course, courseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load course: %w", err)
		}

		moduleIDs := tx.Model(&model.Module{}).Select("id").Where("course_id = ?", courseID)

		if err := tx.Where("course_id = ?", courseID).Delete(&model.LessonCompletion{}).Error; err != nil {
			return fmt.Errorf("failed to delete lesson completions: %w", err)
		}
		if err := tx.Where("course_id = ?", courseID).Delete(&model.Enrollment{}).Error; err != nil {
			return fmt.Errorf("failed to delete enrollments: %w", err)
		}
		if err := tx.Where("module_id IN (?)", moduleIDs).Delete(&model.Lesson{}).Error; err != nil {
			return fmt.Errorf("failed to delete lessons: %w", err)
		}
		if err := tx.Where("course_id = ?", courseID).Delete(&model.Module{}).Error; err != nil {
			return fmt.Errorf("failed to delete modules: %w", err)
		}
		if err := tx.Delete(&course).Error; err != nil {
			return fmt.Errorf("failed to delete course: %w", err)
		}
		return nil
	})
}

// DeleteModule removes a module and its lessons (plus completion rows for
// those lessons) in one transaction.
func (s *CatalogService) DeleteModule(ctx context.Context, moduleID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var module model.Module
		if err := tx.First(&module, moduleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load module: %w", err)
		}

		lessonIDs := tx.Model(&model.Lesson{}).Select("id").Where("module_id = ?", moduleID)

		if err := tx.Where("lesson_id IN (?)", lessonIDs).Delete(&model.LessonCompletion{}).Error; err != nil {
			return fmt.Errorf("failed to delete lesson completions: %w", err)
		}
		if err := tx.Where("module_id = ?", moduleID).Delete(&model.Lesson{}).Error; err != nil {
			return fmt.Errorf("failed to delete lessons: %w", err)
		}
		if err := tx.Delete(&module).Error; err != nil {
			return fmt.Errorf("failed to delete module: %w", err)
		}
		return nil
	})
}

// DeleteLesson removes a lesson and its completion rows.
func (s *CatalogService) DeleteLesson(ctx context.Context, lessonID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lesson model.Lesson
		if err := tx.First(&lesson, lessonID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load lesson: %w", err)
		}
		if err := tx.Where("lesson_id = ?", lessonID).Delete(&model.LessonCompletion{}).Error; err != nil {
			return fmt.Errorf("failed to delete lesson completions: %w", err)
		}
		if err := tx.Delete(&lesson).Error; err != nil {
			return fmt.Errorf("failed to delete lesson: %w", err)
		}
		return nil
	})
}

// LessonUpdate carries the mutable lesson fields. Pointer fields distinguish
// "not provided" from zero values.
type LessonUpdate struct {
	Title           *string
	Content         *string
	Kind            *string
	MediaKey        *string
	Position        *int
	DurationMinutes *int
	Published       *bool
}

// UpdateLesson applies an update to a lesson. When the content kind moves
// away from video/audio the media key is cleared, keeping the invariant that
// only media lessons carry one.
func (s *CatalogService) UpdateLesson(ctx context.Context, lessonID uint, update LessonUpdate) (*model.Lesson, error) {
	var lesson model.Lesson
	if err := s.db.WithContext(ctx).First(&lesson, lessonID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load lesson: %w", err)
	}

	if update.Title != nil {
		lesson.Title = *update.Title
	}
	if update.Content != nil {
		lesson.Content = *update.Content
	}
	if update.Kind != nil {
		if !model.IsValidLessonKind(*update.Kind) {
			return nil, fmt.Errorf("%w: unknown lesson kind %q", ErrConflict, *update.Kind)
		}
		lesson.Kind = *update.Kind
	}
	if update.MediaKey != nil {
		lesson.MediaKey = *update.MediaKey
	}
	if update.Position != nil {
		lesson.Position = *update.Position
	}
	if update.DurationMinutes != nil {
		lesson.DurationMinutes = update.DurationMinutes
	}
	if update.Published != nil {
		lesson.Published = *update.Published
	}

	if !model.KindHasMedia(lesson.Kind) {
		lesson.MediaKey = ""
	}

	// Save with Select so cleared strings are persisted too.
	if err := s.db.WithContext(ctx).Model(&lesson).
		Select("title", "content", "kind", "media_key", "position", "duration_minutes", "published").
		Updates(&lesson).Error; err != nil {
		return nil, fmt.Errorf("failed to update lesson: %w", err)
	}
	return &lesson, nil
}

// LessonSequence returns every lesson of a course flattened into one
// deterministic sequence: modules sorted by (position, id), then lessons
// within each module sorted by (position, id).
func (s *CatalogService) LessonSequence(ctx context.Context, courseID uint) ([]model.Lesson, error) {
	var lessons []model.Lesson
	err := s.db.WithContext(ctx).
		Joins("JOIN modules ON modules.id = lessons.module_id AND modules.deleted_at IS NULL").
		Where("modules.course_id = ?", courseID).
		Order("modules.position, modules.id, lessons.position, lessons.id").
		Find(&lessons).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson sequence: %w", err)
	}
	return lessons, nil
}

// Neighbors returns the previous and next lesson around lessonID in the
// flattened course sequence. Either neighbor is nil at a boundary. A lesson
// that is not part of the sequence yields no neighbors rather than an error;
// the caller treats that as "no navigation available".
func (s *CatalogService) Neighbors(ctx context.Context, courseID, lessonID uint) (prev, next *model.Lesson, err error) {
	sequence, err := s.LessonSequence(ctx, courseID)
	if err != nil {
		return nil, nil, err
	}

	for i := range sequence {
		if sequence[i].ID != lessonID {
			continue
		}
		if i > 0 {
			prev = &sequence[i-1]
		}
		if i < len(sequence)-1 {
			next = &sequence[i+1]
		}
		return prev, next, nil
	}
	return nil, nil, nil
}

// LessonBelongsToCourse reports whether the lesson is attached to one of the
// course's modules.
func (s *CatalogService) LessonBelongsToCourse(ctx context.Context, courseID, lessonID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Lesson{}).
		Joins("JOIN modules ON modules.id = lessons.module_id AND modules.deleted_at IS NULL").
		Where("lessons.id = ? AND modules.course_id = ?", lessonID, courseID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check lesson ownership: %w", err)
	}
	return count > 0, nil
}
