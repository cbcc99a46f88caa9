// Package config centralizes how nexuspass reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Payload schemes understood by the QR codec. Exactly one is active per
// deployment because the scanner must parse what the generator encoded.
const (
	SchemeID     = "id"
	SchemeIDName = "id_name"
)

// Config represents runtime configuration for the API, worker and CLI.
type Config struct {
	Address     string `validate:"required"`
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	CodeBucket  string `validate:"required"`

	PayloadScheme       string `validate:"oneof=id id_name"`
	RequireIssuedCode   bool
	CodeSize            int   `validate:"gte=64,lte=4096"`
	MaxFrameSize        int64 `validate:"gt=0"`
	SigningSecret       []byte
	SignedURLTTL        time.Duration `validate:"gt=0"`
	ProcessingPool      int           `validate:"gt=0"`
	GenerateUniqueTTL   time.Duration
	GenerateTaskRetries int `validate:"gte=0"`
}

const (
	defaultAddress      = ":8080"
	defaultCodeBucket   = "nexuspass"
	defaultRedisAddr    = ""
	defaultS3Region     = "us-east-1"
	defaultScheme       = SchemeID
	defaultCodeSize     = 290
	defaultMaxFrameSize = 10 << 20 // 10 MiB
	defaultSignedTTL    = 5 * time.Minute
	defaultWorkerCount  = 2
	defaultUniqueTTL    = time.Minute
	defaultTaskRetries  = 3
	defaultEnvFileName  = ".env"
	envFileOverrideName = "NEXUSPASS_ENV_FILE"
)

var validate = validator.New()

// Load reads configuration from an optional .env file and the environment,
// falling back to defaults, and validates the result.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	cfg := &Config{
		Address:     readEnv("NEXUSPASS_ADDRESS", defaultAddress),
		DatabaseURL: readEnv("NEXUSPASS_DATABASE_URL", ""),

		RedisAddr:     readEnv("NEXUSPASS_REDIS_ADDR", defaultRedisAddr),
		RedisPassword: readEnv("NEXUSPASS_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("NEXUSPASS_REDIS_DB", 0),

		S3Endpoint:  readEnv("NEXUSPASS_S3_ENDPOINT", ""),
		S3AccessKey: readEnv("NEXUSPASS_S3_ACCESS_KEY", ""),
		S3SecretKey: readEnv("NEXUSPASS_S3_SECRET_KEY", ""),
		S3Region:    readEnv("NEXUSPASS_S3_REGION", defaultS3Region),
		S3UseSSL:    parseBool("NEXUSPASS_S3_USE_SSL", false),
		CodeBucket:  readEnv("NEXUSPASS_CODE_BUCKET", defaultCodeBucket),

		PayloadScheme:       strings.ToLower(readEnv("NEXUSPASS_PAYLOAD_SCHEME", defaultScheme)),
		RequireIssuedCode:   parseBool("NEXUSPASS_REQUIRE_ISSUED_CODE", false),
		CodeSize:            parseInt("NEXUSPASS_CODE_SIZE", defaultCodeSize),
		MaxFrameSize:        parseInt64("NEXUSPASS_MAX_FRAME_BYTES", defaultMaxFrameSize),
		SigningSecret:       parseSecret("NEXUSPASS_SIGNING_SECRET"),
		SignedURLTTL:        parseDuration("NEXUSPASS_SIGNED_TTL", defaultSignedTTL),
		ProcessingPool:      parseInt("NEXUSPASS_WORKERS", defaultWorkerCount),
		GenerateUniqueTTL:   parseDuration("NEXUSPASS_GENERATE_UNIQUE_TTL", defaultUniqueTTL),
		GenerateTaskRetries: parseInt("NEXUSPASS_GENERATE_RETRIES", defaultTaskRetries),
	}
	if cfg.SigningSecret == nil {
		// Links signed with a random secret stop validating after a restart.
		cfg.SigningSecret = randomSecret()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// UsesS3 reports whether an object store endpoint was configured.
func (c *Config) UsesS3() bool {
	return c.S3Endpoint != ""
}

// UsesRedis reports whether generation batches go through asynq.
func (c *Config) UsesRedis() bool {
	return c.RedisAddr != ""
}

func loadEnvFile() error {
	path := readEnv(envFileOverrideName, defaultEnvFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	// godotenv.Load never overrides variables already present in the process.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
