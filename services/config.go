package services

import (
	"log/slog"
	"time"

	"github.com/3than777/Elocutionist-sub004/retry"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	AI         AIConfig
	JWT        JWTConfig
	WebSocket  WebSocketConfig
	Storage    StorageConfig
	Processing ProcessingConfig
	Ratings    RatingsConfig
	Feedback   FeedbackConfig
	Sessions   SessionsConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL          string
	SQLitePath   string
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type AIConfig struct {
	GeminiAPIKey   string
	Model          string
	RequestTimeout time.Duration
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

type StorageConfig struct {
	UploadDir     string
	MaxUploadSize int64
}

// ProcessingConfig carries the two retry tiers of artifact processing.
type ProcessingConfig struct {
	Retry      retry.Policy
	Reschedule retry.ReschedulePolicy
}

type RatingsConfig struct {
	TTL           time.Duration
	SweepSchedule string
}

type FeedbackConfig struct {
	// StaleAfter lets a new generation take over a feedback run stuck in
	// processing, e.g. after a crash.
	StaleAfter time.Duration
}

type SessionsConfig struct {
	// IdleTimeout is how long an active recording may go without writes
	// before the sweep concludes it.
	IdleTimeout time.Duration
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("gemini.model", ModelName)
	viper.SetDefault("gemini.request_timeout", "60s")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.sqlite_path", "elocutionist.db")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("storage.upload_dir", "uploads")
	viper.SetDefault("storage.max_upload_size", 10<<20)
	viper.SetDefault("retry.max_attempts", retry.DefaultPolicy().MaxAttempts)
	viper.SetDefault("retry.initial_delay", retry.DefaultPolicy().InitialDelay)
	viper.SetDefault("retry.max_delay", retry.DefaultPolicy().MaxDelay)
	viper.SetDefault("retry.multiplier", retry.DefaultPolicy().Multiplier)
	viper.SetDefault("reschedule.max_reschedules", retry.DefaultReschedulePolicy().MaxReschedules)
	viper.SetDefault("reschedule.base_delay", retry.DefaultReschedulePolicy().BaseDelay)
	viper.SetDefault("reschedule.max_delay", retry.DefaultReschedulePolicy().MaxDelay)
	viper.SetDefault("reschedule.multiplier", retry.DefaultReschedulePolicy().Multiplier)
	viper.SetDefault("ratings.ttl", "24h")
	viper.SetDefault("ratings.sweep_schedule", "*/15 * * * *")
	viper.SetDefault("feedback.stale_after", "10m")
	viper.SetDefault("sessions.idle_timeout", "30m")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("gemini.model", "GEMINI_MODEL")
	viper.BindEnv("gemini.request_timeout", "GEMINI_REQUEST_TIMEOUT")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.sqlite_path", "DATABASE_SQLITE_PATH")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("storage.upload_dir", "STORAGE_UPLOAD_DIR")
	viper.BindEnv("storage.max_upload_size", "STORAGE_MAX_UPLOAD_SIZE")
	viper.BindEnv("retry.max_attempts", "RETRY_MAX_ATTEMPTS")
	viper.BindEnv("retry.initial_delay", "RETRY_INITIAL_DELAY")
	viper.BindEnv("retry.max_delay", "RETRY_MAX_DELAY")
	viper.BindEnv("retry.multiplier", "RETRY_MULTIPLIER")
	viper.BindEnv("reschedule.max_reschedules", "RESCHEDULE_MAX_RESCHEDULES")
	viper.BindEnv("reschedule.base_delay", "RESCHEDULE_BASE_DELAY")
	viper.BindEnv("reschedule.max_delay", "RESCHEDULE_MAX_DELAY")
	viper.BindEnv("reschedule.multiplier", "RESCHEDULE_MULTIPLIER")
	viper.BindEnv("ratings.ttl", "RATINGS_TTL")
	viper.BindEnv("ratings.sweep_schedule", "RATINGS_SWEEP_SCHEDULE")
	viper.BindEnv("feedback.stale_after", "FEEDBACK_STALE_AFTER")
	viper.BindEnv("sessions.idle_timeout", "SESSIONS_IDLE_TIMEOUT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:            viper.GetString("server.port"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			SQLitePath:   viper.GetString("database.sqlite_path"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		AI: AIConfig{
			GeminiAPIKey:   viper.GetString("gemini.api_key"),
			Model:          viper.GetString("gemini.model"),
			RequestTimeout: viper.GetDuration("gemini.request_timeout"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
		Storage: StorageConfig{
			UploadDir:     viper.GetString("storage.upload_dir"),
			MaxUploadSize: viper.GetInt64("storage.max_upload_size"),
		},
		Processing: ProcessingConfig{
			Retry: retry.Policy{
				MaxAttempts:  viper.GetInt("retry.max_attempts"),
				InitialDelay: viper.GetDuration("retry.initial_delay"),
				MaxDelay:     viper.GetDuration("retry.max_delay"),
				Multiplier:   viper.GetFloat64("retry.multiplier"),
			},
			Reschedule: retry.ReschedulePolicy{
				MaxReschedules: viper.GetInt("reschedule.max_reschedules"),
				BaseDelay:      viper.GetDuration("reschedule.base_delay"),
				MaxDelay:       viper.GetDuration("reschedule.max_delay"),
				Multiplier:     viper.GetFloat64("reschedule.multiplier"),
			},
		},
		Ratings: RatingsConfig{
			TTL:           viper.GetDuration("ratings.ttl"),
			SweepSchedule: viper.GetString("ratings.sweep_schedule"),
		},
		Feedback: FeedbackConfig{
			StaleAfter: viper.GetDuration("feedback.stale_after"),
		},
		Sessions: SessionsConfig{
			IdleTimeout: viper.GetDuration("sessions.idle_timeout"),
		},
	}
}
