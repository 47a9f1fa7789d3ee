package app

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/courseloom/api/api"
	"github.com/courseloom/api/config"
	"github.com/courseloom/api/database"
	"github.com/courseloom/api/router"
	"github.com/courseloom/api/services"
	"github.com/courseloom/api/services/cron"
	"github.com/courseloom/api/services/stripe"
	"github.com/courseloom/api/utils/cache"
	"github.com/courseloom/api/utils/storage"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		print("If not running, run the following command:\n")
		print("  make docker-up   (for Docker setup)\n")
		print("  make db-up       (for local PostgreSQL)\n")
		return err
	}

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		print("Error running migrations:\n")
		return err
	}

	db, ok := store.GetDB().(*gorm.DB)
	if !ok {
		return fmt.Errorf("failed to get GORM DB instance")
	}

	// Redis cache (optional; enrollment lookups and brute force protection
	// degrade gracefully without it)
	redisURL := getEnv.REDIS_URL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Caching disabled.", err)
		redisCache = nil
	}

	// Payment gateway client
	gateway := stripe.NewClient(stripe.Config{
		SecretKey: getEnv.STRIPE_SECRET_KEY,
	})

	// Media store (optional)
	var mediaStore *storage.MediaStore
	if getEnv.MEDIA_BUCKET != "" {
		mediaStore, err = storage.NewMediaStore(storage.MediaConfig{
			AccessKey: getEnv.MEDIA_ACCESS_KEY,
			SecretKey: getEnv.MEDIA_SECRET_KEY,
			Bucket:    getEnv.MEDIA_BUCKET,
			Region:    getEnv.MEDIA_REGION,
			Endpoint:  getEnv.MEDIA_ENDPOINT,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize media store: %v. Media endpoints disabled.", err)
			mediaStore = nil
		}
	}

	// Enrollment reconciler, shared by the webhook path, the success-return
	// path and the pending payment sweep
	emailService := services.NewEmailService()
	enrollmentService := services.NewEnrollmentService(db, gateway, redisCache, emailService)

	// Initialize Cron Manager (only if enabled via environment variable)
	var cronManager *cron.CronManager
	if os.Getenv("CRON_ENABLED") != "false" { // Default to enabled
		cronManager = cron.NewCronManager(db, gateway, enrollmentService)
		if err := cronManager.Start(); err != nil {
			print("Warning: Failed to start cron jobs\n")
			print("Error: ", err.Error(), "\n")
			// Don't fail the app, just log the warning
		}
	}

	// Defer Closing DB and stopping cron jobs
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		store.Close()
	}()

	// Init API
	var server *api.APIServer = api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	app := server.GetEngine()

	// Attach Middleware
	// Custom Logger
	app.Use(logger.New())

	app.Use(recover.New())

	// Setup Routes
	router.SetupRoutes(app, router.Dependencies{
		Store:       store,
		Gateway:     gateway,
		Enrollments: enrollmentService,
		Cache:       redisCache,
		Media:       mediaStore,
	})

	// Get the PORT & Start the Server
	return server.Run()

}
