package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"cbt-companion/internal/agent"
	"cbt-companion/internal/chat"
	"cbt-companion/internal/config"
	"cbt-companion/internal/consent"
	"cbt-companion/internal/idempotency"
	"cbt-companion/internal/identity"
	"cbt-companion/internal/platform/database"
	"cbt-companion/internal/platform/events"
	"cbt-companion/internal/platform/logger"
	"cbt-companion/internal/platform/storage"
	"cbt-companion/internal/platform/telegram"
	"cbt-companion/internal/platform/web"
	"cbt-companion/internal/report"
	"cbt-companion/internal/therapist"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "cbt-companion")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.Auth.JWTSecret == config.PlaceholderJWTSecret {
		log.Warn("signing sessions with the development JWT secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Infrastructure
	db, err := database.Open(ctx, database.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MaxIdle:  cfg.Database.MaxIdle,
	})
	if err != nil {
		log.Fatal("could not connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}
	log.Info("migrations applied")

	var idemStore *idempotency.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, idempotency keys will be ignored until it recovers", zap.Error(err))
		}
		idemStore = idempotency.NewStore(rdb, cfg.IdempotencyTTL)
	} else {
		log.Info("REDIS_ADDR not set, idempotency disabled")
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("publishing domain events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	var archive storage.Archive
	if cfg.Report.ArchiveBucket != "" {
		s3Archive, err := storage.NewS3Archive(ctx, cfg.Report.ArchiveBucket)
		if err != nil {
			log.Warn("report archive disabled", zap.Error(err))
		} else {
			archive = s3Archive
		}
	}

	var notifier therapist.Notifier
	if cfg.Telegram.Token != "" && cfg.Telegram.AlertChatID != 0 {
		notifier = telegram.NewNotifier(telegram.NewClient(cfg.Telegram.Token), cfg.Telegram.AlertChatID)
	} else {
		log.Info("telegram alerts disabled")
	}

	// 2. Clients
	llm := agent.NewClient(agent.Config{
		APIKey:        cfg.LLM.APIKey,
		BaseURL:       cfg.LLM.BaseURL,
		ChatModel:     cfg.LLM.ChatModel,
		AnalysisModel: cfg.LLM.AnalysisModel,
		ReportModel:   cfg.LLM.ReportModel,
	}, log.Named("agent"))

	// 3. Services
	tokens := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	identitySvc := identity.NewService(identity.NewRepository(db), tokens, log.Named("identity"))
	if err := identitySvc.Bootstrap(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		log.Fatal("failed to bootstrap admin accounts", zap.Error(err))
	}

	chatRepo := chat.NewRepository(db)
	therapistRepo := therapist.NewRepository(db)

	consentSvc := consent.NewService(consent.NewRepository(db), publisher, log.Named("consent"))
	chatSvc := chat.NewService(chatRepo, llm, consentSvc, log.Named("chat"))
	therapistSvc := therapist.NewService(therapistRepo, chatRepo, llm, publisher, notifier, log.Named("therapist"))

	fonts := report.DefaultFontPaths
	if cfg.Report.FontPath != "" {
		fonts = append([]string{cfg.Report.FontPath}, fonts...)
	}
	reportSvc := report.NewService(report.NewRepository(db), therapistRepo, chatRepo, llm, publisher, archive, fonts, log.Named("report"))

	// 4. Router
	idem := idempotency.Middleware(idemStore, log.Named("idempotency"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(web.RequestLogger(log.Named("http")))
	r.Use(web.CORS(cfg.HTTP.CORSAllowedOrigins))
	r.Use(identity.Authenticate(tokens))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			web.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		web.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		identity.RegisterRoutes(r, identity.NewHandler(identitySvc, log, cfg.Auth.CookieSecure))
		chat.RegisterRoutes(r, chat.NewHandler(chatSvc, log), idem)
		consent.RegisterRoutes(r, consent.NewHandler(consentSvc, log))
		therapist.RegisterRoutes(r, therapist.NewHandler(therapistSvc, log))
		report.RegisterRoutes(r, report.NewHandler(reportSvc, log), idem)
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func runMigrations(source, dbURL string) error {
	m, err := migrate.New(source, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
