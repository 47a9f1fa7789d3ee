package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	// All variables
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// Public URLs
	APP_URL         string
	ALLOWED_ORIGINS string
	// JWT Configuration
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL      string
	REDIS_PASSWORD string
	REDIS_DB       string
	// Payment gateway (Stripe)
	STRIPE_SECRET_KEY     string
	STRIPE_WEBHOOK_SECRET string
	// Media storage (S3-compatible)
	MEDIA_ACCESS_KEY string
	MEDIA_SECRET_KEY string
	MEDIA_BUCKET     string
	MEDIA_REGION     string
	MEDIA_ENDPOINT   string
	// SMTP Configuration
	SMTP_HOST string
	SMTP_PORT string
	SMTP_USER string
	SMTP_PASS string
	SMTP_FROM string
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:3000"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),
		PORT:         port,
		// Public URLs
		APP_URL:         appURL,
		ALLOWED_ORIGINS: allowedOrigins,
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: os.Getenv("JWT_ISSUER"),
		// Redis
		REDIS_URL:      os.Getenv("REDIS_URL"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),
		REDIS_DB:       os.Getenv("REDIS_DB"),
		// Stripe
		STRIPE_SECRET_KEY:     os.Getenv("STRIPE_SECRET_KEY"),
		STRIPE_WEBHOOK_SECRET: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		// Media storage
		MEDIA_ACCESS_KEY: os.Getenv("MEDIA_ACCESS_KEY"),
		MEDIA_SECRET_KEY: os.Getenv("MEDIA_SECRET_KEY"),
		MEDIA_BUCKET:     os.Getenv("MEDIA_BUCKET"),
		MEDIA_REGION:     os.Getenv("MEDIA_REGION"),
		MEDIA_ENDPOINT:   os.Getenv("MEDIA_ENDPOINT"),
		// SMTP
		SMTP_HOST: os.Getenv("SMTP_HOST"),
		SMTP_PORT: os.Getenv("SMTP_PORT"),
		SMTP_USER: os.Getenv("SMTP_USER"),
		SMTP_PASS: os.Getenv("SMTP_PASS"),
		SMTP_FROM: os.Getenv("SMTP_FROM"),
	}

	return envVariables, nil
}
