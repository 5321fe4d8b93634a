package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flightplan-gateway/internal/apikeys"
	"flightplan-gateway/internal/auth"
	"flightplan-gateway/internal/cache"
	"flightplan-gateway/internal/config"
	"flightplan-gateway/internal/events"
	"flightplan-gateway/internal/handlers"
	"flightplan-gateway/internal/invitations"
	gwmiddleware "flightplan-gateway/internal/middleware"
	"flightplan-gateway/internal/natsbus"
	"flightplan-gateway/internal/notify"
	"flightplan-gateway/internal/orgs"
	"flightplan-gateway/internal/session"
	"flightplan-gateway/internal/storage"
	"flightplan-gateway/internal/telemetry"
	"flightplan-gateway/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "flightplan-gateway", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	// Database connection (with retries)
	var store *storage.Storage
	for i := 0; i < 10; i++ {
		store, err = storage.Open(ctx, storage.Options{Driver: cfg.DBDriver, DSN: cfg.DSN()})
		if err == nil {
			break
		}
		log.Printf("WARN DB connection attempt %d failed: %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	log.Printf("INFO Connected to database driver=%s", cfg.DBDriver)

	// Rate limit counters
	var limiter cache.Counter = cache.NewMemory()
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(cfg.RedisURL, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		limiter = redisClient
		log.Println("INFO Rate limiting backed by Redis")
	}

	// Invitation delivery
	var sender notify.Sender = notify.LogSender{}
	if cfg.SlackWebhookURL != "" {
		sender = notify.NewSlackSender(cfg.SlackWebhookURL)
	}
	notifier := notify.NewNotifier(sender, cfg.BaseURL)

	var publisher events.Publisher = notify.NewDirect(notifier)
	var consumer *notify.Consumer
	if cfg.NATSURL != "" {
		natsClient, err := natsbus.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsClient.Close()
		publisher = natsClient.Publisher()

		consumer = notify.NewConsumer(natsClient.JS(), notifier)
		if err := consumer.Start(ctx); err != nil {
			log.Fatalf("Failed to start notifier: %v", err)
		}
	}

	// Services
	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to create token issuer: %v", err)
	}
	authService, err := auth.NewService(store, issuer, cfg.SessionTTL, cfg.BcryptCost)
	if err != nil {
		log.Fatalf("Failed to create auth service: %v", err)
	}
	keyService := apikeys.NewService(store, cfg.BcryptCost)
	selector := session.NewSelector(store)
	resolver := session.NewResolver(store, issuer, keyService, selector)

	workers.StartInvitationReaper(ctx, store, cfg.InvitationRetention, cfg.InvitationReapInterval)
	workers.StartSessionJanitor(ctx, store, time.Hour)

	proxies, err := gwmiddleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("Invalid trusted proxies: %v", err)
	}

	h := handlers.New(handlers.Deps{
		Store:       store,
		Auth:        authService,
		Resolver:    resolver,
		Selector:    selector,
		Orgs:        orgs.NewService(store, publisher),
		Invitations: invitations.NewService(store, publisher, cfg.InvitationTTL),
		APIKeys:     keyService,
		Limiter:     limiter,
		LoginLimit:  cfg.LoginRateLimit,
		LoginWindow: cfg.LoginRateWindow,
		BaseURL:     cfg.BaseURL,

		TrustedProxies: proxies,
	})

	// Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(gwmiddleware.CORS(cfg.AllowedOrigins))
	h.RegisterRoutes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("INFO Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if consumer != nil {
			_ = consumer.Stop()
		}
		_ = server.Shutdown(shutdownCtx)
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("WARN tracing shutdown: %v", err)
		}
	}()

	log.Printf("INFO Server starting on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("INFO Server stopped")
}
