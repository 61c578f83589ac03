package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/trpg-tools/lorekeeper/internal/chat"
	"github.com/trpg-tools/lorekeeper/internal/config"
	"github.com/trpg-tools/lorekeeper/internal/entity"
	"github.com/trpg-tools/lorekeeper/internal/gemini"
	"github.com/trpg-tools/lorekeeper/internal/history"
	"github.com/trpg-tools/lorekeeper/internal/httpapi"
	"github.com/trpg-tools/lorekeeper/internal/keyring"
	"github.com/trpg-tools/lorekeeper/internal/observability"
	"github.com/trpg-tools/lorekeeper/internal/project"
	"github.com/trpg-tools/lorekeeper/internal/subprompt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	historyStore, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer historyStore.Close()

	state := gemini.NewState()
	creds := keyring.NewStore()
	switch secret, err := creds.Get(); {
	case err != nil:
		if errors.Is(err, keyring.ErrNoService) {
			log.Printf("OS keyring unavailable, starting unconfigured: %v", err)
		} else {
			log.Printf("credential lookup failed, starting unconfigured: %v", err)
		}
	case secret != "":
		if ok, msg := state.Configure(secret); !ok {
			log.Printf("stored credential rejected: %s", msg)
		} else {
			log.Printf("gemini API configured from OS keyring")
		}
	default:
		log.Printf("no stored credential, starting unconfigured")
	}

	adapter, err := gemini.NewAdapter(gemini.Config{
		Mode:            cfg.GeminiAdapterMode,
		BaseURL:         cfg.GeminiBaseURL,
		RequestTimeout:  cfg.GeminiRequestTimeout,
		MaxRetries:      cfg.GeminiMaxRetries,
		SafetyThreshold: cfg.GeminiSafetyThreshold,
		State:           state,
	})
	if err != nil {
		log.Fatalf("gemini adapter init failed: %v", err)
	}

	projects := project.NewManager(cfg.DataDir)
	global, err := projects.LoadGlobalConfig()
	if err != nil {
		log.Fatalf("global config init failed: %v", err)
	}
	settings, err := projects.LoadSettings(global.ActiveProject)
	if err != nil {
		log.Fatalf("project settings init failed: %v", err)
	}
	model := settings.Model
	if model == "" {
		model = cfg.DefaultModel
	}

	manager := chat.NewManager(state, adapter, historyStore, metrics)
	manager.Initialize(ctx, model, global.ActiveProject)
	if settings.MainSystemPrompt != "" {
		instruction := settings.MainSystemPrompt
		manager.StartSession(ctx, chat.StartOptions{
			KeepHistory:       true,
			ReloadIfEmpty:     true,
			SystemInstruction: &instruction,
		})
	}
	log.Printf("active project %q, model %q, %d turns loaded", global.ActiveProject, model, len(manager.History()))

	entities := entity.NewStore(cfg.DataDir)
	subprompts := subprompt.NewStore(cfg.DataDir)

	api := httpapi.New(cfg, state, manager, projects, entities, subprompts, creds, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	if err := manager.SaveHistory(shutdownCtx); err != nil {
		log.Printf("final history save failed: %v", err)
	}
	log.Printf("shutdown complete")
}
