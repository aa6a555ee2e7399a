package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/scheduling/internal/api"
	"example.com/scheduling/internal/auth"
	"example.com/scheduling/internal/availability"
	"example.com/scheduling/internal/config"
	"example.com/scheduling/internal/connection"
	"example.com/scheduling/internal/events"
	"example.com/scheduling/internal/google"
	"example.com/scheduling/internal/notify"
	"example.com/scheduling/internal/oauth"
	"example.com/scheduling/internal/outbox"
	persistence "example.com/scheduling/internal/persistence/postgres"
	"example.com/scheduling/internal/reminders"
	httptransport "example.com/scheduling/internal/transport/http"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	creds := persistence.NewCredentialRepository(pool)
	eventRepo := persistence.NewEventRepository(pool)
	reminderRepo := persistence.NewReminderRepository(pool)
	contacts := persistence.NewContactRepository(pool)
	orgs := persistence.NewOrganizationRepository(pool)

	oauthCfg := oauth.NewGoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	remote := google.NewClient(creds, oauthCfg, cfg.RemoteTimeout)
	tracker := connection.NewTracker(creds, remote, cfg.RemoteTimeout)
	flow := oauth.NewFlow(oauth.NewStateManager([]byte(cfg.OAuthStateSecret), nil), creds, orgs, oauthCfg, tracker, cfg.ExchangeTimeout, nil, nil)
	engine := availability.NewEngine(remote, cfg.WorkingDayStart, cfg.WorkingDayEnd, cfg.SlotGranularity, cfg.MaxSuggestions, nil)
	scheduler := reminders.NewScheduler(reminderRepo, nil)
	orch := events.NewOrchestrator(eventRepo, contacts, orgs, remote, scheduler, tracker, nil)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()
	outboxDispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go outboxDispatcher.Start(ctx)

	gateway := notify.NewGateway(cfg.NotifyBaseURL, cfg.NotifyAPIKey, cfg.RemoteTimeout)
	reminderDispatcher := reminders.NewDispatcher(reminderRepo, gateway, cfg.ReminderPollInterval, cfg.ReminderBatchSize)
	go reminderDispatcher.Start(ctx)

	handler := api.NewHandler(tracker, flow, engine, orch, reminderRepo, creds)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("scheduling-service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	outboxDispatcher.Wait()
	reminderDispatcher.Wait()
}
