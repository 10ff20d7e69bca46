package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"sirachat/internal/backend"
	chatapp "sirachat/internal/chat/app"
	chatrepo "sirachat/internal/chat/repository"
	"sirachat/internal/chat/router"
	memberapp "sirachat/internal/member/app"
	memberdomain "sirachat/internal/member/domain"
	memberrepo "sirachat/internal/member/repository"
	"sirachat/pkg/config"
	"sirachat/pkg/database"
	"sirachat/pkg/logger"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.SiraChatService, config.EnvConfig.SiraChatLogPath)
	cfg := config.LoadConfig[config.SiraChat](config.EnvConfig.SiraChatService, config.EnvConfig.SiraChatYAMLPath)
	cfg.Chat.Defaults()

	ctx := context.Background()

	// 1. Mongo 連線 (對話與訊息)
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.MongoSQL.RetryCount,
			RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval),
		},
		cfg.MongoSQL.Database)
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to mongoDB database after retries",
			zap.String("address", fmt.Sprintf("[%s]", uri)),
			zap.Error(err),
		)
	}
	defer mongo.Close(ctx)

	// 2. Redis 連線 (session 紀錄 + 失效通知)
	redisClient, err := database.NewRedisClient(cfg.Redis.Addr, cfg.Redis.RedisDB)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
	}

	// 3. MinIO 連線 (附件與頭像)
	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:      cfg.MinIO.Endpoint,
		User:          cfg.MinIO.User,
		Password:      cfg.MinIO.Password,
		BucketName:    cfg.MinIO.Bucket,
		UseSSL:        cfg.MinIO.UseSSL,
		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: time.Duration(cfg.MinIO.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect minio err : %v", err))
	}

	// 4. 初始化 backend adapter
	store := backend.NewMongoStore(mongo.Database, redisClient)
	blobs := backend.NewMinioBlobStore(minioClient)

	// 5. 初始化 Repository
	userRepo := memberrepo.NewUserRepository(store)
	convRepo := chatrepo.NewConversationRepository(store)
	msgRepo := chatrepo.NewMessageRepository(store)
	typingRepo := chatrepo.NewTypingRepository(store)
	attachRepo := chatrepo.NewAttachmentRepository(blobs)
	sessionRepo := database.NewRedisRepository[memberdomain.SessionRecord](redisClient)

	// 6. 初始化 UseCases
	memberUC := memberapp.NewMemberUseCase(userRepo, cfg.SessionTTL, sessionRepo)
	hub := chatapp.NewHub()
	wsHandler := chatapp.NewChatWebsocketHandler(store, blobs,
		userRepo, convRepo, msgRepo, typingRepo, sessionRepo,
		hub, cfg.Chat, cfg.SessionTTL)
	attachmentHandler := chatapp.NewAttachmentHandler(attachRepo, userRepo, hub)

	// 7. 啟動 Fiber
	r := fiber.New(fiber.Config{
		BodyLimit: 32 * 1024 * 1024,
	})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.SiraChatLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))

	router.RegisterRoutes(r, &memberapp.MemberHandler{Usecase: memberUC}, wsHandler, attachmentHandler)

	port := ":" + cfg.Port
	log.Printf("SiraChat listening on %s", port)
	if err := r.Listen(port); err != nil {
		log.Fatalf("Failed to start Fiber: %v", err)
	}
}
