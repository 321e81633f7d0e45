package config

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	JWTSecret     string
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Attachment pipeline
	StorageBackend   string // local | s3 | memory
	StorageLocalRoot string
	MasterKeyBase64  string
	OrphanTTLMin     int
	SweepIntervalSec int
	SimpleUploadMB   int
	MaxImageMB       int
	MaxVideoMB       int
	MaxAudioMB       int
	MaxDocumentMB    int
	QueueWorkers     int
	QueueSize        int
	UploadRatePerMin int
	CORSOrigins      string

	// S3 backend
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3UsePathStyle bool
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "evalhub"),
		DBPort:        getEnv("DB_PORT", "5432"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		StorageBackend:   getEnv("STORAGE_BACKEND", "local"),
		StorageLocalRoot: getEnv("STORAGE_LOCAL_ROOT", "./data/attachments"),
		MasterKeyBase64:  getEnv("ATTACHMENT_MASTER_KEY", ""),
		OrphanTTLMin:     getEnvAsInt("ORPHAN_TTL_MIN", 60),
		SweepIntervalSec: getEnvAsInt("SWEEP_INTERVAL_SEC", 300),
		SimpleUploadMB:   getEnvAsInt("SIMPLE_UPLOAD_MB", 5),
		MaxImageMB:       getEnvAsInt("MAX_IMAGE_MB", 20),
		MaxVideoMB:       getEnvAsInt("MAX_VIDEO_MB", 200),
		MaxAudioMB:       getEnvAsInt("MAX_AUDIO_MB", 50),
		MaxDocumentMB:    getEnvAsInt("MAX_DOCUMENT_MB", 30),
		QueueWorkers:     getEnvAsInt("REASSEMBLY_WORKERS", 2),
		QueueSize:        getEnvAsInt("REASSEMBLY_QUEUE_SIZE", 64),
		UploadRatePerMin: getEnvAsInt("UPLOAD_RATE_PER_MIN", 30),
		CORSOrigins:      getEnv("CORS_ALLOWED_ORIGINS", "*"),

		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("S3_BUCKET", "evalhub-attachments"),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvAsBool("S3_USE_PATH_STYLE", false),
	}
}

// DecodeMasterKey decodes and validates the attachment master key.
// Callers should fail fast on error; every stored file key is wrapped
// under this key.
func (c *Config) DecodeMasterKey() ([]byte, error) {
	if c.MasterKeyBase64 == "" {
		return nil, fmt.Errorf("ATTACHMENT_MASTER_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(c.MasterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("ATTACHMENT_MASTER_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ATTACHMENT_MASTER_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
