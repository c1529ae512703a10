package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recoverops/intake/internal/config"
	"github.com/recoverops/intake/internal/db"
	"github.com/recoverops/intake/internal/export"
	httpapi "github.com/recoverops/intake/internal/http"
	"github.com/recoverops/intake/internal/ingestion"
	"github.com/recoverops/intake/internal/jobs"
	"github.com/recoverops/intake/internal/metrics"
	"github.com/recoverops/intake/internal/promote"
	"github.com/recoverops/intake/internal/reconcile"
	"github.com/recoverops/intake/internal/repository"
	"github.com/recoverops/intake/internal/rollback"

	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := db.RunMigrations(cfg.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	m := metrics.New()

	runRepo := repository.NewImportRunRepository(conn.Pool)
	recordRepo := repository.NewRawRecordRepository(conn.Pool)
	plaintiffRepo := repository.NewPlaintiffRepository(conn.Pool)

	publisher := jobs.NewRedisPublisher(redisClient, cfg.Redis.Queue)
	promoter := promote.NewService(runRepo, recordRepo, plaintiffRepo, publisher)
	reconciler := reconcile.NewService(runRepo, recordRepo)
	rollbacker := rollback.NewService(runRepo, recordRepo, plaintiffRepo, m)
	exporter := export.NewHTTPHandler(export.NewService(runRepo, recordRepo))

	pipeline := ingestion.NewService(runRepo, recordRepo, ingestion.Options{
		ChunkSize:        cfg.Ingestion.ChunkSize,
		ChunkParallelism: cfg.Ingestion.ChunkParallelism,
		Metrics:          m,
	})

	var syncPromoter ingestion.Promoter
	if cfg.Ingestion.SyncPromote {
		syncPromoter = promoter
	}
	ingestHandler := ingestion.NewHTTPHandler(pipeline, syncPromoter)

	router := httpapi.NewRouter(httpapi.Deps{
		Ingest:         ingestHandler,
		Runs:           runRepo,
		Reconciler:     reconciler,
		Rollbacker:     rollbacker,
		Promoter:       promoter,
		Exporter:       exporter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting intake server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
