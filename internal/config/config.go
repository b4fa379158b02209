package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Knowledge KnowledgeConfig
	Chat      ChatConfig
	Auth      AuthConfig
	Ai        AIConfig
	SMTP      SMTPConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	Version            string
	LogFilePath        string
	ChatLogFilePath    string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	BodyLimitMB        int
}

type DatabaseConfig struct {
	Connection string
}

type KnowledgeConfig struct {
	ManifestPath      string
	ResourceURL       string
	DefaultChannelID  string
	RetrievalCacheTTL time.Duration
}

type ChatConfig struct {
	LogsPath           string
	TranscriptBackend  string // "file" or "redis"
	CapabilityFallback string // "learn" or "fail"
	CapabilityHosts    []string
	CapabilityTimeout  time.Duration
	SandboxWorkers     int
}

type AuthConfig struct {
	Required            bool
	JwtSecret           string
	AuthorizedUsersPath string
}

type SMTPConfig struct {
	Host             string
	Port             int
	Email            string
	Password         string
	ReportRecipients []string
}

type AIConfig struct {
	EmbeddingProvider string // "genai" or "ollama"
	EmbeddingModel    string
	OllamaBaseURL     string
	LLMProvider       string // "ollama" or "openai"
	LLMModel          string
	LLMBaseURL        string
	OpenAIAPIKey      string
	GoogleAPIKey      string
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			Version:            getEnv("APP_VERSION", "0.1.0"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			ChatLogFilePath:    getEnv("CHAT_STEP_LOG_PATH", "logs/chat_steps.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			BodyLimitMB:        getEnvAsInt("BODY_LIMIT_MB", 10),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Knowledge: KnowledgeConfig{
			ManifestPath:      getEnv("KNOWLEDGE_MANIFEST_PATH", "./knowledge-base/manifest.yaml"),
			ResourceURL:       getEnv("RESOURCE_COLLECTION_URL", "https://bioimage-io.github.io/collection-bioimage-io/collection.json"),
			DefaultChannelID:  getEnv("DEFAULT_CHANNEL_ID", "bioimage.io"),
			RetrievalCacheTTL: getEnvAsDuration("RETRIEVAL_CACHE_TTL", 10*time.Minute),
		},
		Chat: ChatConfig{
			LogsPath:           getEnv("CHAT_LOGS_PATH", "./chat_logs"),
			TranscriptBackend:  getEnv("TRANSCRIPT_BACKEND", "file"),
			CapabilityFallback: getEnv("CAPABILITY_FALLBACK", "learn"),
			CapabilityHosts:    getEnvAsList("CAPABILITY_ALLOWED_HOSTS"),
			CapabilityTimeout:  getEnvAsDuration("CAPABILITY_TIMEOUT", 30*time.Second),
			SandboxWorkers:     getEnvAsInt("SANDBOX_WORKERS", 4),
		},
		Auth: AuthConfig{
			Required:            getEnvAsBool("AUTH_REQUIRED", false),
			JwtSecret:           getEnv("JWT_SECRET", ""),
			AuthorizedUsersPath: getEnv("AUTHORIZED_USERS_PATH", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			LLMProvider:       getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:          getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
			OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
			GoogleAPIKey:      getEnv("GOOGLE_GEMINI_API_KEY", ""),
		},
		SMTP: SMTPConfig{
			Host:             getEnv("SMTP_HOST", ""),
			Port:             getEnvAsInt("SMTP_PORT", 587),
			Email:            getEnv("SMTP_EMAIL", ""),
			Password:         getEnv("SMTP_PASSWORD", ""),
			ReportRecipients: getEnvAsList("REPORT_RECIPIENTS"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
