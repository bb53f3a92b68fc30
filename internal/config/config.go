package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Storage
	DatabaseURL    string
	StoreBackend   string
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	SessionLockTTL time.Duration

	// Inbound processing
	ReplyMode              string
	UseMemoryQueue         bool
	WorkerCount            int
	InboundQueueURL        string
	DedupeBackend          string
	ProcessedMessagesTable string

	// Twilio
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioWebhookSecret string
	TwilioFromNumber    string

	// Intent resolution
	IntentProvider      string
	GeminiAPIKey        string
	GeminiModel         string
	BedrockModelID      string
	IntentMinConfidence float64

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Calendar notifications
	EmailProvider    string
	SendGridAPIKey   string
	EmailFromAddress string
	EmailFromName    string
	ICSBucket        string
	ICSBaseURL       string

	// Clinic
	ClinicName          string
	DoctorName          string
	ClinicLocation      string
	ClinicTimezone      string
	ClinicOpenHour      int
	ClinicCloseHour     int
	SlotMinutes         int
	OfferLimit          int
	OfferWindow         time.Duration
	RequireConfirmation bool

	// HTTP
	AdminJWTSecret string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		StoreBackend:   strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", "postgres"))),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		SessionLockTTL: getEnvAsDuration("SESSION_LOCK_TTL", 10*time.Second),

		ReplyMode:              strings.ToLower(strings.TrimSpace(getEnv("REPLY_MODE", "sync"))),
		UseMemoryQueue:         getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:            getEnvAsInt("WORKER_COUNT", 2),
		InboundQueueURL:        getEnv("INBOUND_QUEUE_URL", ""),
		DedupeBackend:          strings.ToLower(strings.TrimSpace(getEnv("DEDUPE_BACKEND", "postgres"))),
		ProcessedMessagesTable: getEnv("PROCESSED_MESSAGES_TABLE", "processed_messages"),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),

		IntentProvider:      strings.ToLower(strings.TrimSpace(getEnv("INTENT_PROVIDER", "rules"))),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		IntentMinConfidence: getEnvAsFloat("INTENT_MIN_CONFIDENCE", 0.5),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Clinic Bookings"),
		ICSBucket:        getEnv("ICS_BUCKET", ""),
		ICSBaseURL:       getEnv("ICS_BASE_URL", ""),

		ClinicName:          getEnv("CLINIC_NAME", "Dr. Sunil Mishra's Clinic"),
		DoctorName:          getEnv("DOCTOR_NAME", "Dr. Sunil Mishra"),
		ClinicLocation:      getEnv("CLINIC_LOCATION", "Dr. Sunil Mishra's Hair & Trichology Clinic"),
		ClinicTimezone:      getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),
		ClinicOpenHour:      getEnvAsInt("CLINIC_OPEN_HOUR", 10),
		ClinicCloseHour:     getEnvAsInt("CLINIC_CLOSE_HOUR", 22),
		SlotMinutes:         getEnvAsInt("SLOT_MINUTES", 30),
		OfferLimit:          getEnvAsInt("OFFER_LIMIT", 5),
		OfferWindow:         getEnvAsDuration("OFFER_WINDOW", 14*24*time.Hour),
		RequireConfirmation: getEnvAsBool("REQUIRE_CONFIRMATION", false),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// Location resolves the configured clinic timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
