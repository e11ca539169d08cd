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

	"knitfolio/web/internal/app"
	"knitfolio/web/internal/cms"
	"knitfolio/web/internal/config"
	"knitfolio/web/internal/search"
	"knitfolio/web/internal/session"
)

func main() {
	cfg := config.Load()

	gateway := cms.New(cfg.CMSURL)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
	}
	var searchService *search.Service
	if meiliClient != nil {
		searchService = search.NewService(meiliClient)
	} else {
		searchService = search.NewService(nil)
	}

	sessions := session.NewManager(gateway, cfg.AccessTTL, cfg.CookieTTL)

	service := app.NewService(cfg, gateway, searchService, sessions)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for logout revocation")
		revocationStore, err := session.NewRevocationStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer revocationStore.Close()
		service = service.WithRevocation(revocationStore)
	}

	httpServer := app.NewHTTPServer(service)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Knitfolio listening on %s", cfg.Addr)
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
