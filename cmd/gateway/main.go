package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"tgstream/internal/config"
	"tgstream/internal/hls"
	"tgstream/internal/httpapi"
	"tgstream/internal/janitor"
	"tgstream/internal/middleware"
	"tgstream/internal/resolve"
	"tgstream/internal/stream"
	"tgstream/internal/tgc"
	"tgstream/internal/usage"
)

func main() {
	_ = godotenv.Load(".env")
	config.Load()
	config.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("[boot] tgstream starting (chunk %d bytes, parallelism %d, %d bot tokens)",
		config.ChunkSize(), config.Parallelism(), len(config.BotTokens()))

	pool, err := tgc.StartPool(ctx, tgc.Options{
		APIID:      config.APIID(),
		APIHash:    config.APIHash(),
		BotTokens:  config.BotTokens(),
		SessionDir: config.SessionDir(),
	})
	if err != nil {
		log.Fatalf("[boot] telegram pool: %v", err)
	}
	log.Printf("[boot] %d workers online", pool.Size())

	var store *usage.Store
	if dsn := config.PGDSN(); dsn != "" {
		db := mustOpenDB(ctx, dsn)
		defer db.Close()
		store = &usage.Store{DB: db}
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("[db] %v", err)
		}
	} else {
		log.Printf("[db] no PG_DSN set, usage accounting disabled")
	}

	resolver := resolve.NewResolver(pool, config.LocatorTTL())
	registry := stream.NewRegistry(config.RecentStreamsCap(), config.PruneGrace())
	segments := hls.NewSegmentCache(config.HLSCacheMaxBytes(), config.HLSCacheTTL())
	reporter := usage.NewReporter(store, config.UsageInterval())
	go reporter.Run(ctx)

	jan := &janitor.Janitor{
		Registry:    registry,
		Cache:       segments,
		Resolver:    resolver,
		Interval:    config.PruneGrace(),
		LocatorIdle: config.LocatorTTL(),
	}
	go jan.Run(ctx)

	api := &httpapi.Server{
		Pool:          pool,
		Resolver:      resolver,
		Registry:      registry,
		Reporter:      reporter,
		Remuxer:       &hls.Remuxer{FFmpegPath: config.FFmpegPath(), Timeout: config.RemuxTimeout()},
		Segments:      segments,
		ChunkSize:     config.ChunkSize(),
		Parallelism:   config.Parallelism(),
		MaxFloodWait:  config.MaxFloodWait(),
		FetchAttempts: config.FetchAttempts(),
		ProbeBytes:    config.HLSProbeBytes(),
	}

	mux := http.NewServeMux()
	api.Routes(mux)

	srv := &http.Server{
		Addr:              config.ListenAddr(),
		Handler:           middleware.EnableCORS(middleware.Recover(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[http] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[http] %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[boot] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[http] shutdown: %v", err)
	}
	log.Printf("[boot] bye")
}

func mustOpenDB(ctx context.Context, dsn string) *sql.DB {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("[db] open: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("[db] ping: %v", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	log.Printf("[db] connected")
	return db
}
