// reminderd runs the reminder dispatcher standalone, for deployments that
// separate delivery from the API serving path.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/scheduling/internal/config"
	"example.com/scheduling/internal/notify"
	persistence "example.com/scheduling/internal/persistence/postgres"
	"example.com/scheduling/internal/reminders"
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

	reminderRepo := persistence.NewReminderRepository(pool)
	gateway := notify.NewGateway(cfg.NotifyBaseURL, cfg.NotifyAPIKey, cfg.RemoteTimeout)
	dispatcher := reminders.NewDispatcher(reminderRepo, gateway, cfg.ReminderPollInterval, cfg.ReminderBatchSize)

	go dispatcher.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	go func() {
		log.Printf("reminderd metrics listening on %s", cfg.HTTPAddress)
		if err := http.ListenAndServe(cfg.HTTPAddress, mux); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownCh
	cancel()

	dispatcher.Wait()
}
