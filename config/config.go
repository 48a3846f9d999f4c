package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"dispute-assistant/models"
	"dispute-assistant/ocr"
	"dispute-assistant/storage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  storage.StorageConfig
	OCR      ocr.Config
	Call     CallConfig
	Identity models.Identity
	LogEnv   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string
	MaxUploadSize int64
	SessionTTL    time.Duration
}

// DatabaseConfig holds database configuration. An empty URL disables Postgres.
type DatabaseConfig struct {
	URL string
}

// CallConfig holds outbound call API configuration
type CallConfig struct {
	APIBase string
	Timeout time.Duration

	// Default credentials, used by the standalone runner only
	Credentials models.CallCredentials
}

// LoadDotEnv loads a .env file from the working directory or the project root
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env", "../../.env"}
	}
	var lastErr error
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// Load builds the configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 10*1024*1024),
			SessionTTL:    getEnvAsDuration("SESSION_TTL", 2*time.Hour),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Storage: storage.StorageConfig{
			Type:         storage.StorageType(getEnv("STORAGE_TYPE", string(storage.StorageTypeLocal))),
			LocalPath:    getEnv("STORAGE_LOCAL_PATH", "./storage/files"),
			S3Bucket:     getEnv("AWS_S3_BUCKET", ""),
			S3Region:     getEnv("AWS_REGION", "us-east-1"),
			AWSAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
			AWSSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		OCR: ocr.Config{
			Engine:        getEnv("OCR_ENGINE", ocr.EngineTesseract),
			TesseractLang: getEnv("TESSERACT_LANG", "eng"),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		},
		Call: CallConfig{
			APIBase: getEnv("TWILIO_API_BASE", "https://api.twilio.com"),
			Timeout: getEnvAsDuration("CALL_TIMEOUT", 30*time.Second),
			Credentials: models.CallCredentials{
				AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
				AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
				FromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
				ToNumber:   getEnv("TWILIO_TO_NUMBER", ""),
			},
		},
		Identity: models.Identity{
			FirstName: getEnv("MY_FIRST_NAME", ""),
			LastName:  getEnv("MY_LAST_NAME", ""),
			ETSID:     getEnv("MY_ETS_ID", ""),
			Email:     getEnv("MY_EMAIL", ""),
		},
		LogEnv: getEnv("LOG_ENV", "production"),
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("PORT is required")
	}
	if c.Server.MaxUploadSize <= 0 {
		return errors.New("MAX_UPLOAD_SIZE must be positive")
	}
	switch c.Storage.Type {
	case storage.StorageTypeLocal:
		if c.Storage.LocalPath == "" {
			return errors.New("STORAGE_LOCAL_PATH is required for local storage")
		}
	case storage.StorageTypeS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("AWS_S3_BUCKET environment variable is required for S3 storage")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	switch c.OCR.Engine {
	case ocr.EngineTesseract:
	case ocr.EngineGemini:
		if c.OCR.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini OCR engine")
		}
	default:
		return fmt.Errorf("unknown OCR engine: %s", c.OCR.Engine)
	}
	if c.Call.Timeout <= 0 {
		return errors.New("CALL_TIMEOUT must be positive")
	}
	return nil
}

// NewLogger builds the process logger
func (c *Config) NewLogger() (*zap.Logger, error) {
	if c.LogEnv == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
