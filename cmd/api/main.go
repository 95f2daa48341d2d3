package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"courier/api/internal/app"
	"courier/api/internal/auth"
	"courier/api/internal/authpw"
	"courier/api/internal/config"
	"courier/api/internal/ratelimit"
	"courier/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	creds := authpw.NewService(dataStore)
	issuer := auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	service := app.New(dataStore, creds, issuer)

	var limiter *ratelimit.Limiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Login rate limiting enabled via Redis")
		limiter, err = ratelimit.NewLimiter(cfg.RedisURL, cfg.LoginRateLimit, cfg.LoginRateWindow)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer limiter.Close()
	}

	httpServer := app.NewHTTPServer(service, limiter, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Courier API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
