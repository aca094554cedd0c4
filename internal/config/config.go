package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	S3        S3Config
	Ledger    LedgerConfig
	Stage     StageConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// S3Config covers any S3-compatible store. Endpoint is optional; when empty
// the SDK default resolution applies.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	CommonBucket    string
	AuthBucket      string
	PresignExpiry   int // minutes
}

type LedgerConfig struct {
	Path string
}

type StageConfig struct {
	TranscriberPath string
	MuseScorePath   string
	UseXvfb         bool
	WorkDir         string
}

type WorkerConfig struct {
	Concurrency int
	TaskTimeout int // minutes; jobs exceeding it are killed by the execution environment
}

type RateLimitConfig struct {
	TranscribePerHour int
	UploadPerHour     int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = viper.BindEnv("s3.region", "S3_REGION")
	_ = viper.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = viper.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("s3.common_bucket", "S3_COMMON_BUCKET")
	_ = viper.BindEnv("s3.auth_bucket", "S3_AUTH_BUCKET")
	_ = viper.BindEnv("s3.presign_expiry", "S3_PRESIGN_EXPIRY")
	_ = viper.BindEnv("ledger.path", "LEDGER_PATH")
	_ = viper.BindEnv("stage.transcriber_path", "TRANSCRIBER_PATH")
	_ = viper.BindEnv("stage.musescore_path", "MUSESCORE_PATH")
	_ = viper.BindEnv("stage.use_xvfb", "USE_XVFB")
	_ = viper.BindEnv("stage.work_dir", "STAGE_WORK_DIR")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.task_timeout", "WORKER_TASK_TIMEOUT")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("s3.region", "auto")
	viper.SetDefault("s3.common_bucket", "audioscore-common")
	viper.SetDefault("s3.auth_bucket", "audioscore-auth")
	viper.SetDefault("s3.presign_expiry", 15)
	viper.SetDefault("ledger.path", "data/ledger.db")
	viper.SetDefault("stage.transcriber_path", "transkun")
	viper.SetDefault("stage.musescore_path", "musescore")
	viper.SetDefault("stage.use_xvfb", true)
	viper.SetDefault("stage.work_dir", os.TempDir())
	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.task_timeout", 15)
	viper.SetDefault("ratelimit.transcribe_per_hour", 10)
	viper.SetDefault("ratelimit.upload_per_hour", 50)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		S3: S3Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
			CommonBucket:    viper.GetString("s3.common_bucket"),
			AuthBucket:      viper.GetString("s3.auth_bucket"),
			PresignExpiry:   viper.GetInt("s3.presign_expiry"),
		},
		Ledger: LedgerConfig{
			Path: viper.GetString("ledger.path"),
		},
		Stage: StageConfig{
			TranscriberPath: viper.GetString("stage.transcriber_path"),
			MuseScorePath:   viper.GetString("stage.musescore_path"),
			UseXvfb:         viper.GetBool("stage.use_xvfb"),
			WorkDir:         viper.GetString("stage.work_dir"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
			TaskTimeout: viper.GetInt("worker.task_timeout"),
		},
		RateLimit: RateLimitConfig{
			TranscribePerHour: viper.GetInt("ratelimit.transcribe_per_hour"),
			UploadPerHour:     viper.GetInt("ratelimit.upload_per_hour"),
		},
	}

	return cfg, nil
}
