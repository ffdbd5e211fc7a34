package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/api/handler"
	apimiddleware "marketchat/internal/adapter/api/middleware"
	"marketchat/internal/adapter/api/router"
	"marketchat/internal/adapter/repository"
	domainrepo "marketchat/internal/domain/repository"
	"marketchat/internal/domain/service"
	"marketchat/internal/infrastructure/firebase"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/infrastructure/storage"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Environment, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := credentials(cfg)

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}
	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient)

	checks := map[string]handler.HealthCheck{}

	var firestoreClient *firestore.Client
	if cfg.UsesFirestore() {
		firestoreClient, err = firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()

		checks["firestore"] = func(ctx context.Context) error {
			_, err := firestoreClient.Collection("chat_rooms").Limit(1).Documents(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}
	}

	var (
		roomRepo         domainrepo.RoomRepository
		messageRepo      domainrepo.MessageRepository
		notificationRepo domainrepo.NotificationRepository
		presenceRepo     domainrepo.PresenceRepository
	)

	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		roomRepo = repository.NewMemoryRoomRepository()
		messageRepo = repository.NewMemoryMessageRepository()
		notificationRepo = repository.NewMemoryNotificationRepository()
	default:
		roomRepo = repository.NewFirestoreRoomRepository(firestoreClient)
		messageRepo = repository.NewFirestoreMessageRepository(firestoreClient)
		notificationRepo = repository.NewFirestoreNotificationRepository(firestoreClient)
	}

	switch cfg.PresenceStore() {
	case config.PresenceRedis:
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
		presenceRepo = repository.NewRedisPresenceRepository(rdb)
	case config.PresenceMemory:
		presenceRepo = repository.NewMemoryPresenceRepository()
	default:
		presenceRepo = repository.NewFirestorePresenceRepository(firestoreClient)
	}

	var objectStore service.ObjectStore
	if cfg.StorageBucket != "" {
		storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, opts...)
		if err != nil {
			log.Fatalf("Failed to initialize Cloud Storage: %v", err)
		}
		defer storageClient.Close()
		objectStore = storageClient
	} else {
		logger.Warn("STORAGE_BUCKET not set, image uploads are disabled")
	}

	rateLimiter := ratelimit.NewRateLimiter(nil)
	rateLimiter.StartCleanupRoutine(ctx.Done())

	notificationUseCase := usecase.NewNotificationUseCase(notificationRepo)
	chatUseCase := usecase.NewChatUseCase(
		roomRepo,
		messageRepo,
		presenceRepo,
		notificationUseCase,
		objectStore,
		rateLimiter,
		cfg.TypingWindow,
	)

	wsManager := websocket.NewManager(chatUseCase, notificationUseCase)
	wsManager.Start(ctx)

	handler.Setup(chatUseCase, notificationUseCase, wsManager, cfg.MessagePageCap, checks)

	e := echo.New()
	e.HideBanner = true
	e.Debug = cfg.IsDevelopment()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(apimiddleware.Metrics)
	e.Use(apimiddleware.RateLimit(rateLimiter))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(firebaseAuthClient)
	adminMiddleware := apimiddleware.NewAdminMiddleware()

	router.Setup(e, authMiddleware, adminMiddleware)

	go func() {
		logger.Info("Starting server on port %s (store=%s, presence=%s)", cfg.ServerPort, cfg.StoreDriver, cfg.PresenceDriver)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed: %v", err)
	}

	chatUseCase.WaitForNotifications()
	logger.Info("Server stopped")
}

// credentials prefers inline service account JSON (production) over a key
// file (local development). With neither, application default credentials
// are used.
func credentials(cfg *config.Config) []option.ClientOption {
	if cfg.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))}
	}

	if cfg.ServiceAccountPath != "" {
		if _, err := os.Stat(cfg.ServiceAccountPath); os.IsNotExist(err) {
			log.Fatalf("Service account file does not exist: %s", cfg.ServiceAccountPath)
		}
		logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(cfg.ServiceAccountPath)}
	}

	logger.Info("Using application default credentials")
	return nil
}
