package router

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/courseloom/api/config"
	"github.com/courseloom/api/database"
	"github.com/courseloom/api/handlers"
	admin_handlers "github.com/courseloom/api/handlers/admin"
	auth_handlers "github.com/courseloom/api/handlers/auth"
	checkout_handlers "github.com/courseloom/api/handlers/checkout"
	course_handlers "github.com/courseloom/api/handlers/course"
	lesson_handlers "github.com/courseloom/api/handlers/lesson"
	module_handlers "github.com/courseloom/api/handlers/module"
	progress_handlers "github.com/courseloom/api/handlers/progress"
	webhook_handlers "github.com/courseloom/api/handlers/webhook"
	"github.com/courseloom/api/services"
	"github.com/courseloom/api/services/stripe"
	"github.com/courseloom/api/utils/auth"
	"github.com/courseloom/api/utils/cache"
	"github.com/courseloom/api/utils/middleware"
	"github.com/courseloom/api/utils/storage"
)

// Dependencies are the shared singletons SetupRoutes wires into handlers.
// App setup constructs them once and passes them in; handlers never reach
// for globals.
type Dependencies struct {
	Store       database.Storage
	Gateway     *stripe.Client
	Enrollments *services.EnrollmentService
	Cache       *cache.RedisCache // may be nil
	Media       *storage.MediaStore
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	getEnv, err := config.Get()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	if getEnv.JWT_SECRET == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	// Initialize JWT manager with config
	jwtConfig := auth.JWTConfig{
		Secret:        getEnv.JWT_SECRET,
		Expiry:        24 * time.Hour,     // Access token expires in 24 hours
		RefreshExpiry: 7 * 24 * time.Hour, // Refresh token expires in 7 days
		Issuer:        getEnv.JWT_ISSUER,  // Falls back to the platform default
	}
	jwtManager := auth.NewJWTManager(jwtConfig)

	// Get DB instance (type assert from interface)
	db, ok := deps.Store.GetDB().(*gorm.DB)
	if !ok {
		log.Fatal("Failed to get GORM DB instance")
	}

	// Initialize brute force protection when Redis is available
	var bruteForceProtection *middleware.BruteForceProtection
	if deps.Cache != nil {
		bruteForceProtection = middleware.NewBruteForceProtection(deps.Cache)
	} else {
		log.Println("Redis unavailable, brute force protection disabled")
	}

	// Initialize auth middleware with DB for blacklist checking
	authMiddleware := middleware.NewAuthMiddleware(jwtManager, db)

	// Domain services
	catalogService := services.NewCatalogService(db)
	progressService := services.NewProgressService(db, catalogService)
	webhookService := services.NewWebhookService(db, deps.Enrollments, getEnv.STRIPE_WEBHOOK_SECRET)

	// Handlers
	healthHandler := handlers.NewHealthHandler(deps.Store)
	authHandler := auth_handlers.NewAuthHandler(db, jwtManager, bruteForceProtection)
	courseHandler := course_handlers.NewCourseHandler(db, catalogService)
	moduleHandler := module_handlers.NewModuleHandler(db, catalogService)
	lessonHandler := lesson_handlers.NewLessonHandler(db, catalogService, deps.Enrollments, deps.Media)
	checkoutHandler := checkout_handlers.NewCheckoutHandler(db, deps.Gateway, deps.Enrollments, getEnv.APP_URL)
	webhookHandler := webhook_handlers.NewWebhookHandler(webhookService)
	progressHandler := progress_handlers.NewProgressHandler(progressService)
	adminHandler := admin_handlers.NewAdminHandler(db)

	// Apply security middleware
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    getEnv.ALLOWED_ORIGINS,
		RateLimitRequests: 100,             // 100 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})

	// Health check endpoint (public)
	app.Get("/ping", healthHandler.Check)

	// API v1 group
	api := app.Group("/api/v1")

	// Gateway webhooks (public; authenticated by signature, not by JWT)
	api.Post("/webhooks/stripe", webhookHandler.HandleStripe)

	// Auth routes (public)
	authGroup := api.Group("/auth")
	authGroup.Post("/register", authHandler.Register)

	// Login with brute force protection
	if bruteForceProtection != nil {
		authGroup.Post("/login", bruteForceProtection.CheckAndRecordAttempt(), authHandler.Login)
	} else {
		authGroup.Post("/login", authHandler.Login)
	}

	authGroup.Post("/refresh", authHandler.RefreshToken)

	// Protected auth routes
	authGroup.Post("/logout", authMiddleware.Required(), authHandler.Logout)
	authGroup.Post("/change-password", authMiddleware.Required(), authHandler.ChangePassword)

	// Profile routes (protected)
	profileGroup := api.Group("/profile", authMiddleware.Required())
	profileGroup.Get("/", authHandler.GetProfile)
	profileGroup.Put("/", authHandler.UpdateProfile)

	// Catalog routes
	courses := api.Group("/courses")
	courses.Get("/", authMiddleware.Optional(), courseHandler.ListCourses)                    // Public: list published courses
	courses.Get("/:slug", authMiddleware.Optional(), courseHandler.GetCourse)                 // Public: course with outline
	courses.Post("/", authMiddleware.RequireAdmin(), courseHandler.CreateCourse)              // Admin: create course
	courses.Put("/:id", authMiddleware.RequireAdmin(), courseHandler.UpdateCourse)            // Admin: update course
	courses.Delete("/:id", authMiddleware.RequireAdmin(), courseHandler.DeleteCourse)         // Admin: delete course cascade
	courses.Get("/:course_id/modules", authMiddleware.Optional(), moduleHandler.ListModules)  // Public: module outline
	courses.Post("/:course_id/modules", authMiddleware.RequireAdmin(), moduleHandler.CreateModule) // Admin: create module

	// Module routes (admin)
	modules := api.Group("/modules")
	modules.Put("/:id", authMiddleware.RequireAdmin(), moduleHandler.UpdateModule)
	modules.Delete("/:id", authMiddleware.RequireAdmin(), moduleHandler.DeleteModule)
	modules.Post("/:module_id/lessons", authMiddleware.RequireAdmin(), lessonHandler.CreateLesson)

	// Lesson routes
	lessons := api.Group("/lessons")
	lessons.Put("/:id", authMiddleware.RequireAdmin(), lessonHandler.UpdateLesson)
	lessons.Delete("/:id", authMiddleware.RequireAdmin(), lessonHandler.DeleteLesson)
	lessons.Post("/:id/media/upload-url", authMiddleware.RequireAdmin(), lessonHandler.GetUploadURL)

	// Lesson viewing & progress (enrollment-gated, per course)
	courses.Get("/:course_id/lessons/:id", authMiddleware.Required(), lessonHandler.GetLesson)
	courses.Put("/:course_id/lessons/:id/completion", authMiddleware.Required(), progressHandler.MarkLesson)
	courses.Get("/:course_id/progress", authMiddleware.Required(), progressHandler.GetProgress)

	// Checkout flow (protected)
	courses.Post("/:id/checkout", authMiddleware.Required(), checkoutHandler.CreateSession)
	api.Get("/checkout/success", authMiddleware.Required(), checkoutHandler.Success)

	// Student dashboard
	api.Get("/me/courses", authMiddleware.Required(), progressHandler.MyCourses)

	// Admin reporting
	admin := api.Group("/admin", authMiddleware.RequireAdmin())
	admin.Get("/revenue", adminHandler.GetRevenue)
	admin.Get("/payments/stats", adminHandler.GetPaymentStats)
}
