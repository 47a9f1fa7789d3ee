package main

import (
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/courseloom/api/config"
	"github.com/courseloom/api/database"
	"github.com/courseloom/api/model"
	authutil "github.com/courseloom/api/utils/auth"
)

// Seeds a development database with an admin account and a small demo
// catalog. Safe to run repeatedly; existing rows are left alone.
func main() {
	if err := config.LoadENV(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	store, err := database.StartGORM()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	db, ok := store.GetDB().(*gorm.DB)
	if !ok {
		log.Fatal("Failed to get GORM DB instance")
	}

	if err := seedAdmin(db); err != nil {
		log.Fatal("Failed to seed admin:", err)
	}
	if err := seedDemoCourse(db); err != nil {
		log.Fatal("Failed to seed demo course:", err)
	}

	log.Println("Seeding complete.")
}

func seedAdmin(db *gorm.DB) error {
	var existing model.User
	if err := db.Where("email = ?", "admin@courseloom.dev").First(&existing).Error; err == nil {
		log.Println("Admin user already exists, skipping")
		return nil
	}

	hash, err := authutil.HashPassword("changeme-now")
	if err != nil {
		return err
	}

	admin := model.User{
		ExternalID:   uuid.New().String(),
		Email:        "admin@courseloom.dev",
		PasswordHash: hash,
		Name:         "Admin",
		Role:         model.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	log.Println("Created admin user admin@courseloom.dev (password: changeme-now)")
	return nil
}

func seedDemoCourse(db *gorm.DB) error {
	var existing model.Course
	if err := db.Where("slug = ?", "intro-to-backend-go").First(&existing).Error; err == nil {
		log.Println("Demo course already exists, skipping")
		return nil
	}

	thirty := 30
	fortyFive := 45

	course := model.Course{
		Title:       "Intro to Backend Development with Go",
		Slug:        "intro-to-backend-go",
		Description: "Build and deploy production HTTP services in Go, from routing to persistence.",
		PriceCents:  12999,
		Currency:    "usd",
		Published:   true,
		Modules: []model.Module{
			{
				Title:    "Getting Started",
				Position: 1,
				Lessons: []model.Lesson{
					{Title: "Welcome & Course Tour", Kind: model.LessonKindVideo, Position: 1, DurationMinutes: &thirty, Published: true},
					{Title: "Setting Up Your Environment", Kind: model.LessonKindText, Position: 2, Published: true,
						Content: "Install Go, configure your editor, and run your first program."},
				},
			},
			{
				Title:    "HTTP Services",
				Position: 2,
				Lessons: []model.Lesson{
					{Title: "Routing and Handlers", Kind: model.LessonKindVideo, Position: 1, DurationMinutes: &fortyFive, Published: true},
					{Title: "Middleware Patterns", Kind: model.LessonKindText, Position: 2, Published: true,
						Content: "Compose cross-cutting concerns without tangling your handlers."},
					{Title: "Checkpoint Quiz", Kind: model.LessonKindQuiz, Position: 3, Published: true},
				},
			},
		},
	}

	if err := db.Create(&course).Error; err != nil {
		return err
	}
	log.Printf("Created demo course %q with %d modules", course.Title, len(course.Modules))
	return nil
}
