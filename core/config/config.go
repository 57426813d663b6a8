package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Notify     NotifyConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Whatsapp   WhatsappConfig
	AI         AIConfig
	Meta       MetaConfig
	Storage    StorageConfig
	WorkerPool WorkerPoolConfig
	Security   SecurityConfig
}

type AppConfig struct {
	Version        string
	Port           string
	Debug          bool
	Environment    string
	BasePath       string
	TrustedProxies []string
	BasicAuth      []string
}

type PathsConfig struct {
	Storages string
	QrCode   string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

type WhatsappConfig struct {
	LogLevel          string
	MaxReconnects     int
	ReconnectDelay    time.Duration
	PendingQueueLimit int
	RestoreLockTTL    time.Duration
}

type AIConfig struct {
	OpenAIKey      string
	DefaultModel   string
	MaxRetries     int
	HistoryLimit   int
	ChunkDelay     time.Duration
	RequestTimeout time.Duration
	FallbackReply  string
}

type MetaConfig struct {
	BaseURL        string
	APIVersion     string
	RequestTimeout time.Duration
}

type StorageConfig struct {
	S3Enabled   bool
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
	S3PathStyle bool
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type SecurityConfig struct {
	SecretKey string
}

type NotifyConfig struct {
	WebhookURLs []string
	Secret      string
	Timeout     time.Duration
}

// Global provides access to the loaded configuration globally.
var Global *Config

// Load builds configuration from environment variables with defaults.
func Load() (*Config, error) {
	storages := getEnv("APP_STORAGES_DIR", "storages")

	appCfg := AppConfig{
		Version:     "v1.4.0",
		Port:        getEnv("APP_PORT", "3000"),
		Debug:       getEnvBool("APP_DEBUG", false),
		Environment: getEnv("APP_ENV", "development"),
		BasePath:    getEnv("APP_BASE_PATH", ""),
	}
	if v := getEnv("APP_TRUSTED_PROXIES", ""); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}
	if v := getEnv("APP_BASIC_AUTH", ""); v != "" {
		appCfg.BasicAuth = strings.Split(v, ",")
	}

	notifyCfg := NotifyConfig{
		Secret:  getEnv("WEBHOOK_SECRET", ""),
		Timeout: time.Duration(getEnvInt("WEBHOOK_TIMEOUT_MS", 10000)) * time.Millisecond,
	}
	if v := getEnv("WEBHOOK_URLS", ""); v != "" {
		notifyCfg.WebhookURLs = strings.Split(v, ",")
	}

	cfg := &Config{
		App:    appCfg,
		Notify: notifyCfg,
		Paths: PathsConfig{
			Storages: storages,
			QrCode:   getEnv("PATH_QRCODE", filepath.Join(storages, "qrcode")),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Name:            getEnv("DB_NAME", filepath.Join(storages, "zapfunnel.db")),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
			ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
			ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
			ValkeyDB:        getEnvInt("VALKEY_DB", 0),
			ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "zapfunnel:"),
		},
		Whatsapp: WhatsappConfig{
			LogLevel:          getEnv("WHATSAPP_LOG_LEVEL", "ERROR"),
			MaxReconnects:     getEnvInt("WHATSAPP_MAX_RECONNECTS", 3),
			ReconnectDelay:    time.Duration(getEnvInt("WHATSAPP_RECONNECT_DELAY_MS", 5000)) * time.Millisecond,
			PendingQueueLimit: getEnvInt("WHATSAPP_PENDING_QUEUE_LIMIT", 200),
			RestoreLockTTL:    time.Duration(getEnvInt("WHATSAPP_RESTORE_LOCK_TTL_S", 30)) * time.Second,
		},
		AI: AIConfig{
			OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
			DefaultModel:   getEnv("AI_DEFAULT_MODEL", "gpt-4o-mini"),
			MaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
			HistoryLimit:   getEnvInt("AI_HISTORY_LIMIT", 20),
			ChunkDelay:     time.Duration(getEnvInt("AI_CHUNK_DELAY_MS", 1500)) * time.Millisecond,
			RequestTimeout: time.Duration(getEnvInt("AI_REQUEST_TIMEOUT_MS", 15000)) * time.Millisecond,
			FallbackReply:  getEnv("AI_FALLBACK_REPLY", "Desculpe, não consegui processar sua mensagem agora. Um atendente irá te responder em breve."),
		},
		Meta: MetaConfig{
			BaseURL:        getEnv("META_BASE_URL", "https://graph.facebook.com"),
			APIVersion:     getEnv("META_API_VERSION", "v21.0"),
			RequestTimeout: time.Duration(getEnvInt("META_REQUEST_TIMEOUT_MS", 15000)) * time.Millisecond,
		},
		Storage: StorageConfig{
			S3Enabled:   getEnvBool("S3_ENABLED", false),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
			S3PublicURL: getEnv("S3_PUBLIC_URL", ""),
			S3PathStyle: getEnvBool("S3_PATH_STYLE", false),
		},
		WorkerPool: WorkerPoolConfig{
			Size:      getEnvInt("MESSAGE_WORKER_POOL_SIZE", 20),
			QueueSize: getEnvInt("MESSAGE_WORKER_QUEUE_SIZE", 1000),
		},
		Security: SecurityConfig{
			SecretKey: getEnv("APP_SECRET_KEY", "changeme_please_change_me_in_prod_12345"),
		},
	}

	Global = cfg
	return cfg, nil
}
