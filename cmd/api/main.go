package main

import (
	"context"
	"log"
	"time"

	"evalhub/config"
	"evalhub/internal/filecrypt"
	"evalhub/internal/handler"
	"evalhub/internal/redis"
	"evalhub/internal/repository"
	"evalhub/internal/server"
	"evalhub/internal/services"
	"evalhub/internal/storage"
	"evalhub/internal/validation"
	"evalhub/pkg/database"
	"evalhub/pkg/events"
	"evalhub/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)

	masterKey, err := cfg.DecodeMasterKey()
	if err != nil {
		log.Fatalf("Invalid master key: %v", err)
	}
	encryptor, err := filecrypt.NewEncryptor(masterKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryption: %v", err)
	}

	var repo repository.AttachmentRepository
	if cfg.DBHost != "" {
		database.Connect(cfg)
		defer database.Close()
		if err := database.RunFullMigration("migrations"); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
		repo = repository.NewAttachmentRepository(database.DB)
	} else {
		l.Warnf("no database configured, attachment rows are held in memory")
		repo = repository.NewMemoryAttachmentRepository()
	}

	store, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}

	var publisher events.Publisher
	var limiter *redis.RateLimiter
	if cfg.RedisEnabled {
		client := redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		publisher = events.NewRedisBroker(client, l)
		limiter = redis.NewRateLimiter(client, redis.RateLimitConfig{
			UploadLimit:  cfg.UploadRatePerMin,
			UploadWindow: time.Minute,
		})
	} else {
		l.Warnf("redis disabled, events stay in-process and uploads are unthrottled")
		publisher = events.NewMemoryBroker()
	}

	validator := validation.NewValidator(validation.Limits{
		Image:    int64(cfg.MaxImageMB) * 1024 * 1024,
		Video:    int64(cfg.MaxVideoMB) * 1024 * 1024,
		Audio:    int64(cfg.MaxAudioMB) * 1024 * 1024,
		Document: int64(cfg.MaxDocumentMB) * 1024 * 1024,
	})

	svc := services.NewAttachmentService(cfg, repo, store, encryptor, validator, publisher, l)
	svc.Start()
	defer svc.Stop()

	reaper := services.NewOrphanReaper(cfg, repo, store, l)
	reaper.Start()
	defer reaper.Stop()

	verifier := services.NewTokenVerifier(cfg)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Attachment: handler.NewAttachmentHandler(svc, cfg.SimpleUploadMB),
	}, verifier, limiter)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func buildStorage(cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewS3Backend(ctx, storage.S3Config{
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	case "memory":
		return storage.NewMemoryBackend(), nil
	default:
		return storage.NewLocalBackend(cfg.StorageLocalRoot)
	}
}
