package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cpi_pulse/api"
	"cpi_pulse/config"
	"cpi_pulse/httputil"
	"cpi_pulse/ingest"
	"cpi_pulse/jobs"
	"cpi_pulse/logging"
	"cpi_pulse/scheduler"
	"cpi_pulse/services"
	"cpi_pulse/storage"
	"cpi_pulse/workers"
)

var (
	refreshNow = flag.Bool("refresh", false, "Run one refresh from SOURCE_URL and exit")
)

// datastore is what both storage backends provide.
type datastore interface {
	jobs.Store
	ingest.Store
	services.Store
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath, cfg.LogMaxSize)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting cpi_pulse...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	var lock jobs.Lock = jobs.NewLocalLock()
	if cfg.RedisURL != "" {
		redisLock, err := jobs.DialRedisLock(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisLock.Close()
		lock = redisLock
		log.Println("Refresh lock: Redis")
	}
	tracker := jobs.NewTracker(store, lock, cfg.Jobs.Timeout)

	pipeline := ingest.NewPipeline(store, tracker)
	if cfg.S3.Enabled() {
		archive, err := storage.NewS3Archive(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to init S3 archive: %v", err)
		}
		pipeline.SetArchiver(archive)
		log.Printf("Archiving workbooks to s3://%s", cfg.S3.Bucket)
	}

	clients := httputil.NewClients(cfg.Source)
	var source ingest.Source
	if cfg.Source.URL != "" {
		source = ingest.NewURLSource(cfg.Source.URL, clients.Source)
		log.Printf("Source: %s", cfg.Source.URL)
	} else {
		log.Println("Warning: SOURCE_URL not set, only uploads can refresh data")
	}

	worker := workers.NewRefreshWorker(pipeline, tracker, cfg.Jobs.QueueSize, cfg.Jobs.Timeout)
	if _, err := worker.RecoverInterrupted(ctx); err != nil {
		log.Printf("Warning: %v", err)
	}

	// Handle one-shot refresh
	if *refreshNow {
		if source == nil {
			log.Fatal("Refresh needs SOURCE_URL")
		}
		log.Println("Running refresh...")
		res, err := worker.RefreshNow(ctx, source)
		if err != nil {
			log.Fatalf("Refresh failed: %v", err)
		}
		log.Printf("Refresh complete: %d rows, %d periods", res.Rows, res.Periods)
		return
	}

	// Daemon mode
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx, time.Minute)
	}()
	log.Println("Refresh worker started")

	sched := scheduler.New(cfg.Scheduler, worker, source)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	srv := api.NewServer(
		cfg.Auth,
		services.NewAnalyticsService(store, cfg.Analytics.HeadlineCodes),
		services.NewCatalogService(store),
		tracker, worker, source, cfg.Analytics.DefaultLang,
	)
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	cancel()
	// Let an in-flight refresh record its failure before the store closes.
	<-workerDone
	log.Println("Goodbye!")
}

// openStore uses Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config) (datastore, func()) {
	if cfg.DBURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DBURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DBURL))
		return pgStore, pgStore.Close
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	log.Printf("SQLite database: %s", cfg.DBPath)
	return sqliteStore, func() { sqliteStore.Close() }
}

// maskConnectionString hides the password of a URL-style connection string.
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3

	atIdx := strings.Index(connStr[start:], "@")
	if atIdx < 0 {
		return connStr
	}
	atIdx += start

	colonIdx := strings.Index(connStr[start:atIdx], ":")
	if colonIdx < 0 {
		return connStr
	}
	colonIdx += start
	return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
}
