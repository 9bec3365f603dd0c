package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/badge"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/chat"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/config"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/db"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/event"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/inbox"
	myMiddleware "github.com/RougeDev00/grenbaud-tinder-sub000/internal/middleware"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/push"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/thread"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/unlock"
	"github.com/RougeDev00/grenbaud-tinder-sub000/internal/user"
)

func main() {
	// 1. Config & Flags
	configName := flag.String("config", "config", "config file name (without extension)")
	flag.Parse()

	v, err := config.LoadConfig(*configName)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}
	logger.Info("connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	logger.Info("database schema initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	logger.Info("connected to Redis")

	// 4. Users & auth
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWT.Secret, cfg.JWT.ExpiresIn)
	userHandler := user.NewHandler(userService)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. The sync engine
	messageRepo := thread.NewRepository(database.Conn)
	eventRepo := event.NewRepository(database.Conn)
	compatRepo := unlock.NewRepository(database.Conn)

	var gateOpts []unlock.Option
	if cfg.Gate.OperatorBypass {
		logger.Warn("unlock gate operator bypass is enabled", "operator_id", cfg.Gate.OperatorID)
		gateOpts = append(gateOpts, unlock.WithOperatorBypass(cfg.Gate.OperatorID))
	}
	gate := unlock.NewGate(compatRepo, logger, gateOpts...)

	publisher := push.NewPublisher(redisClient)
	subscriber := push.NewSubscriber(redisClient, logger)
	chatService := chat.NewService(messageRepo, eventRepo, gate, publisher, logger)

	deps := &chat.Deps{
		Service: chatService,
		OpenFeed: func(ctx context.Context, viewerID int) chat.Feed {
			return subscriber.Subscribe(ctx, viewerID)
		},
		NewAggregator: func(viewerID int) (*inbox.Aggregator, error) {
			dismissals, err := inbox.OpenDismissalStore(cfg.State.Dir, viewerID)
			if err != nil {
				return nil, err
			}
			return inbox.NewAggregator(messageRepo, eventRepo, compatRepo, userService,
				dismissals, cfg.Inbox.MaxSuggestions, cfg.Inbox.SuggestionMinScore, logger), nil
		},
		NewBadge: func(viewerID int) *badge.Aggregator {
			src := chat.UnreadSource{Messages: messageRepo, Events: eventRepo}
			return badge.NewAggregator(src, viewerID, cfg.Sync.BadgeForeground, cfg.Sync.BadgeBackground, logger)
		},
		Sync:   cfg.Sync,
		Logger: logger,
	}

	hub := chat.NewHub(logger)
	go hub.Run()

	chatHandler := chat.NewHandler(hub, chatService, deps)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/{id}", userHandler.GetProfile)

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)

		// Direct conversations
		r.Get("/api/messages", chatHandler.GetMessages)
		r.Post("/api/messages", chatHandler.SendMessage)
		r.Post("/api/messages/read", chatHandler.MarkRead)
		r.Get("/api/unlock", chatHandler.GetUnlock)

		// Inbox & badge
		r.Get("/api/inbox", chatHandler.GetInbox)
		r.Post("/api/inbox/dismiss", chatHandler.DismissSuggestion)
		r.Get("/api/badge", chatHandler.GetBadge)

		// Event groups
		r.Get("/api/events/{id}/messages", chatHandler.GetEventMessages)
		r.Post("/api/events/{id}/messages", chatHandler.SendEventMessage)
		r.Post("/api/events/{id}/read", chatHandler.MarkEventRead)
	})

	logger.Info("server starting", "addr", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, r); err != nil {
		log.Fatal(err)
	}
}
