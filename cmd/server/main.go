// Package main provides the entry point for the veilgate proxy server: a
// multi-tenant reverse proxy fronting Anthropic-style and Google-style
// LLM APIs, built around a credential-lifecycle engine that leases,
// refreshes, and retires WebCookie/ApiKey/CliToken/ServiceAccount
// credentials across their upstream families.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/api"
	"github.com/veilgate/veilgate/internal/config"
	"github.com/veilgate/veilgate/internal/logging"
	"github.com/veilgate/veilgate/internal/orchestrator"
	"github.com/veilgate/veilgate/internal/reconciler"
	"github.com/veilgate/veilgate/internal/store"
	"github.com/veilgate/veilgate/internal/tokenlifecycle"
	"github.com/veilgate/veilgate/internal/upstream"

	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	fmt.Printf("veilgate %s (%s, built %s)\n", Version, Commit, BuildDate)

	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration document")
	flag.BoolVar(&showVersion, "version", false, "print the version and exit")
	flag.Parse()

	if showVersion {
		return
	}

	if wd, err := os.Getwd(); err == nil {
		_ = godotenv.Load(filepath.Join(wd, ".env"))
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.WithError(err).Warn("server: no config file found, starting from defaults")
		cfg = config.Load()
	}

	if err := logging.ConfigureLogOutput(cfg); err != nil {
		log.WithError(err).Fatal("server: failed to configure log output")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := config.WatchFile(configPath)
	if err != nil {
		log.WithError(err).Warn("server: config hot-reload disabled")
	} else {
		defer watcher.Close()
	}

	db, err := store.New(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("server: failed to construct storage backend")
	}
	defer db.Close()

	if err := db.Bootstrap(ctx); err != nil {
		log.WithError(err).Fatal("server: storage bootstrap failed")
	}

	seed, err := actor.LoadSeedFromStorage(ctx, db)
	if err != nil {
		log.WithError(err).Fatal("server: failed to load credential seed from storage")
	}

	mgr := actor.NewManager(ctx, seed, cfg.PoolChannelCapacity, db)
	defer mgr.Close()

	go func() {
		if err := reconciler.Run(ctx, mgr, db, cfg.Reconcile); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("server: reconciler stopped")
		}
	}()

	endpoints := upstream.DefaultEndpoints()
	refresher := tokenlifecycle.New(&http.Client{Timeout: 60 * time.Second})

	anthropicClient := upstream.NewAnthropicClient(endpoints.Anthropic, cfg.ProxyURL)
	var limiter *rate.Limiter
	anthropicOrch := orchestrator.New(mgr.Cookies, anthropicClient, refresher, limiter, orchestrator.Config{
		MaxRetries:                cfg.MaxRetries,
		ForbiddenThreshold:        cfg.ForbiddenThreshold,
		BetaDenialPhrases:         cfg.BetaDenialPhrases,
		Sentinel:                  cfg.AntiTruncation.Sentinel,
		ContinuationPrompt:        cfg.AntiTruncation.ContinuationPrompt,
		AntiTruncationMaxAttempts: cfg.AntiTruncation.MaxAttempts,
	})

	engine := api.NewRouter(api.Dependencies{
		Manager:      mgr,
		Storage:      db,
		Config:       cfg,
		Anthropic:    anthropicOrch,
		Gemini:       upstream.NewGeminiClient(endpoints.Gemini, cfg.ProxyURL),
		CodeAssist:   upstream.NewCodeAssistClient(endpoints.CodeAssist, cfg.ProxyURL),
		Vertex:       upstream.NewVertexClient(endpoints.Vertex, cfg.ProxyURL),
		Refresher:    refresher,
		ConfigPath:   cfg.Storage.ConfigPath,
		AdminToken:   cfg.AdminToken,
		ClientAPIKey: cfg.AdminToken,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("server: listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server: listen failed")
		}
	}()

	<-ctx.Done()
	log.Info("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server: graceful shutdown failed")
	}
}
