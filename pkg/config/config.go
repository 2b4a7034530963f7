package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Snapshot backends understood by SnapshotConfig.Backend.
const (
	SnapshotBackendRedis  = "redis"
	SnapshotBackendSQLite = "sqlite"
	SnapshotBackendFile   = "file"
	SnapshotBackendObject = "object"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Source    SourceConfig
	Sync      SyncConfig
	Snapshot  SnapshotConfig
	MinIO     MinIOConfig
	Documents DocumentStoreConfig
	Schedule  ScheduleConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the shared secret used to read the caller identity. An empty
// secret disables token checks and the X-User-ID header is trusted instead.
type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SourceConfig points at the upstream timetable and substitution feeds.
type SourceConfig struct {
	TimetableURL    string
	SubstitutionURL string
	// AuthToken is sent as a bearer token when set.
	AuthToken    string
	FetchTimeout time.Duration
}

// SyncConfig tunes the cache and sync reconciler.
type SyncConfig struct {
	MemoryTTL         time.Duration
	BackgroundWindow  time.Duration
	ForegroundWindow  time.Duration
	ReconcileInterval time.Duration
	RemoteSync        bool
	PushWorkers       int
	PushRetries       int
	PushRetryDelay    time.Duration
}

// SnapshotConfig selects where persistent snapshots live.
type SnapshotConfig struct {
	Backend    string
	SQLitePath string
	Dir        string
	Prefix     string
}

// MinIOConfig configures the object-store snapshot backend.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// DocumentStoreConfig toggles the postgres-backed remote document store.
type DocumentStoreConfig struct {
	Enabled bool
}

// ScheduleConfig optionally overrides the bell schedule.
type ScheduleConfig struct {
	Periods string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Source = SourceConfig{
		TimetableURL:    v.GetString("TIMETABLE_SOURCE_URL"),
		SubstitutionURL: v.GetString("SUBSTITUTION_SOURCE_URL"),
		AuthToken:       v.GetString("TIMETABLE_SOURCE_TOKEN"),
		FetchTimeout:    parseDuration(v.GetString("FETCH_TIMEOUT"), 5*time.Second),
	}

	cfg.Sync = SyncConfig{
		MemoryTTL:         parseDuration(v.GetString("MEMORY_CACHE_TTL"), 30*time.Second),
		BackgroundWindow:  parseDuration(v.GetString("BACKGROUND_REFRESH_WINDOW"), 5*time.Minute),
		ForegroundWindow:  parseDuration(v.GetString("FOREGROUND_REFRESH_WINDOW"), 10*time.Second),
		ReconcileInterval: parseDuration(v.GetString("RECONCILE_INTERVAL"), 5*time.Minute),
		RemoteSync:        v.GetBool("ENABLE_REMOTE_SYNC"),
		PushWorkers:       v.GetInt("PUSH_WORKERS"),
		PushRetries:       v.GetInt("PUSH_RETRIES"),
		PushRetryDelay:    parseDuration(v.GetString("PUSH_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Snapshot = SnapshotConfig{
		Backend:    strings.ToLower(v.GetString("SNAPSHOT_BACKEND")),
		SQLitePath: v.GetString("SNAPSHOT_SQLITE_PATH"),
		Dir:        v.GetString("SNAPSHOT_DIR"),
		Prefix:     v.GetString("SNAPSHOT_PREFIX"),
	}

	cfg.MinIO = MinIOConfig{
		Endpoint:  v.GetString("MINIO_ENDPOINT"),
		AccessKey: v.GetString("MINIO_ACCESS_KEY"),
		SecretKey: v.GetString("MINIO_SECRET_KEY"),
		Bucket:    v.GetString("MINIO_BUCKET"),
		UseSSL:    v.GetBool("MINIO_USE_SSL"),
	}

	cfg.Documents = DocumentStoreConfig{Enabled: v.GetBool("ENABLE_DOCUMENT_STORE")}

	cfg.Schedule = ScheduleConfig{Periods: v.GetString("SCHEDULE_PERIODS")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable_sync")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TIMETABLE_SOURCE_URL", "")
	v.SetDefault("SUBSTITUTION_SOURCE_URL", "")
	v.SetDefault("TIMETABLE_SOURCE_TOKEN", "")
	v.SetDefault("FETCH_TIMEOUT", "5s")

	v.SetDefault("MEMORY_CACHE_TTL", "30s")
	v.SetDefault("BACKGROUND_REFRESH_WINDOW", "5m")
	v.SetDefault("FOREGROUND_REFRESH_WINDOW", "10s")
	v.SetDefault("RECONCILE_INTERVAL", "5m")
	v.SetDefault("ENABLE_REMOTE_SYNC", false)
	v.SetDefault("PUSH_WORKERS", 1)
	v.SetDefault("PUSH_RETRIES", 3)
	v.SetDefault("PUSH_RETRY_DELAY", "2s")

	v.SetDefault("SNAPSHOT_BACKEND", SnapshotBackendRedis)
	v.SetDefault("SNAPSHOT_SQLITE_PATH", "./data/snapshots.db")
	v.SetDefault("SNAPSHOT_DIR", "./data/snapshots")
	v.SetDefault("SNAPSHOT_PREFIX", "snapshot:")

	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "timetable-snapshots")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("ENABLE_DOCUMENT_STORE", false)
	v.SetDefault("SCHEDULE_PERIODS", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// isMissingFile covers SetConfigFile, which reports a plain path error instead
// of viper.ConfigFileNotFoundError when .env is absent.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
