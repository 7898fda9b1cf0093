// Copyright 2025 StayGuard
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package triage

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"stayguard/platform/shared/types"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds every runtime knob for the triage engine. All values come
// from environment variables with production defaults.
type Config struct {
	// HTTP server
	Port          string
	ShutdownGrace time.Duration

	// Workflow engine
	WorkerPoolSize  int
	QueueCapacity   int
	WorkflowTimeout time.Duration
	ApprovalTimeout time.Duration
	NodeMaxRetries  int

	// Tool rate limits (requests per minute)
	ClassifyRateLimit   int
	PrioritizeRateLimit int
	RespondRateLimit    int

	// LLM provider selection
	LLMProvider    string
	AnthropicKey   string
	AnthropicModel string
	BedrockRegion  string
	BedrockModel   string

	// Persistence
	DatabaseURL        string
	RedisURL           string
	SessionTTL         time.Duration
	RetentionDays      int
	AuditRetentionDays int

	// Connectors
	PMSBaseURL    string
	PMSToken      string
	AccessBaseURL string
	AccessToken   string
	NotifyBaseURL string
	NotifyToken   string

	// Archival
	ArchiveBucket string
	ArchiveRegion string
	ArchiveDir    string

	// API auth
	JWTSecret string

	// Property identity
	Property types.PropertyProfile
}

// LoadConfig reads configuration from the environment, applying defaults
// for anything unset. It never fails; validation of required credentials
// happens where the component that needs them is constructed.
func LoadConfig() *Config {
	retention := getEnvInt("RETENTION_DAYS", 365)
	cfg := &Config{
		Port:          getEnv("PORT", "8082"),
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", 30*time.Second),

		WorkerPoolSize:  getEnvInt("WORKER_POOL_SIZE", 16),
		QueueCapacity:   getEnvInt("QUEUE_CAPACITY", 1024),
		WorkflowTimeout: getEnvDuration("DEFAULT_WORKFLOW_TIMEOUT", 30*time.Minute),
		ApprovalTimeout: getEnvDuration("APPROVAL_TIMEOUT", 24*time.Hour),
		NodeMaxRetries:  getEnvInt("NODE_MAX_RETRIES", 3),

		ClassifyRateLimit:   getEnvInt("CLASSIFY_RATE_LIMIT", 100),
		PrioritizeRateLimit: getEnvInt("PRIORITIZE_RATE_LIMIT", 100),
		RespondRateLimit:    getEnvInt("RESPOND_RATE_LIMIT", 50),

		LLMProvider:    getEnv("LLM_PROVIDER", "anthropic"),
		AnthropicKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		BedrockRegion:  getEnv("BEDROCK_REGION", "ap-south-1"),
		BedrockModel:   getEnv("BEDROCK_MODEL", "anthropic.claude-3-5-sonnet-20241022-v2:0"),

		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		SessionTTL:         getEnvDuration("SESSION_TTL", 24*time.Hour),
		RetentionDays:      retention,
		AuditRetentionDays: getEnvInt("AUDIT_RETENTION_DAYS", retention*2),

		PMSBaseURL:    getEnv("PMS_BASE_URL", "http://localhost:8090"),
		PMSToken:      getEnv("PMS_API_TOKEN", ""),
		AccessBaseURL: getEnv("ACCESS_CONTROL_BASE_URL", "http://localhost:8091"),
		AccessToken:   getEnv("ACCESS_CONTROL_API_TOKEN", ""),
		NotifyBaseURL: getEnv("NOTIFY_BASE_URL", "http://localhost:8092"),
		NotifyToken:   getEnv("NOTIFY_API_TOKEN", ""),

		ArchiveBucket: getEnv("ARCHIVE_BUCKET", ""),
		ArchiveRegion: getEnv("ARCHIVE_REGION", "ap-south-1"),
		ArchiveDir:    getEnv("ARCHIVE_DIR", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		Property: types.PropertyProfile{
			Code:        getEnv("PROPERTY_CODE", "SG-BLR-001"),
			Name:        getEnv("PROPERTY_NAME", "StayGuard Demo Property"),
			Class:       types.PropertyClass(getEnv("PROPERTY_CLASS", "hotel")),
			City:        getEnv("PROPERTY_CITY", "Bengaluru"),
			CountryCode: getEnv("PROPERTY_COUNTRY", "IN"),
			TimeZone:    getEnv("PROPERTY_TIMEZONE", "Asia/Kolkata"),
			RoomCount:   getEnvInt("ROOM_COUNT", 220),
		},
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = composeDatabaseURL()
	}
	return cfg
}

// composeDatabaseURL assembles a Postgres DSN from discrete DB_* variables
// for deployments that do not inject a full DATABASE_URL.
func composeDatabaseURL() string {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "stayguard")
	password := getEnv("DB_PASSWORD", "")
	name := getEnv("DB_NAME", "stayguard")
	sslmode := getEnv("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, url.QueryEscape(password), host, port, name, sslmode)
}

// getEnv retrieves an environment variable or returns a fallback.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable or returns a
// fallback.
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration retrieves a duration environment variable (Go syntax,
// e.g. "30m") or returns a fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
