// Copyright 2025 StayGuard
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server assembles the triage service: persistence, sessions, the
// LLM provider, destination-system connectors, the workflow engine, and
// the HTTP API.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"stayguard/platform/connectors/runner"
	"stayguard/platform/shared/logger"
	"stayguard/platform/triage"
	"stayguard/platform/triage/llm"
	"stayguard/platform/triage/llm/anthropic"
	"stayguard/platform/triage/llm/bedrock"
)

// retentionSweepInterval is how often expired incidents, history, and
// sessions are purged.
const retentionSweepInterval = 24 * time.Hour

// Run is the exported entry point for the triage service. It wires every
// component, starts the HTTP server, and blocks until SIGINT or SIGTERM.
func Run() {
	log.Println("Starting StayGuard Triage Engine...")

	cfg := triage.LoadConfig()
	appLog := logger.New("triage-service")
	ctx := context.Background()

	provider := buildProvider(ctx, cfg)
	store := buildStore(ctx, cfg, appLog)
	sessions := buildSessions(ctx, cfg, appLog)

	archiver, err := triage.NewArchiver(ctx, cfg)
	if err != nil {
		appLog.Warn(cfg.Property.Code, "", "Archival disabled",
			map[string]interface{}{"error": err.Error()})
		archiver = nil
	}

	actionRunner, err := runner.New(ctx, cfg, appLog)
	if err != nil {
		log.Fatalf("connector setup failed: %v", err)
	}

	engine, err := triage.NewEngine(cfg, triage.Dependencies{
		Provider: provider,
		Sessions: sessions,
		Store:    store,
		Runner:   actionRunner,
		Archiver: archiver,
		Notifier: actionRunner.Notifier(),
	})
	if err != nil {
		log.Fatalf("engine setup failed: %v", err)
	}

	sweeperStop := startRetentionSweeper(cfg, store, sessions, appLog)

	// Router
	auth := triage.NewAuthMiddleware(cfg.JWTSecret)
	if auth == nil {
		appLog.Warn(cfg.Property.Code, "", "JWT_SECRET unset; API authentication disabled", nil)
	}
	handler := triage.NewHandler(engine, auth)
	handler.SetHealthSource(func(r *http.Request) map[string]interface{} {
		out := make(map[string]interface{})
		for system, status := range actionRunner.Health(r.Context()) {
			out[system] = status
		}
		return out
	})

	r := mux.NewRouter()
	handler.RegisterRoutes(r)
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: c.Handler(r),
	}

	go func() {
		log.Printf("StayGuard Triage Engine listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown: stop intake, drain workers, then release stores.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(cfg.Property.Code, "", "HTTP shutdown failed",
			map[string]interface{}{"error": err.Error()})
	}

	close(sweeperStop)
	engine.Close()
	if archiver != nil {
		_ = archiver.Close()
	}
	_ = sessions.Close()
	_ = store.Close()
	log.Println("Shutdown complete")
}

// buildProvider selects the LLM backend. An explicit provider that cannot
// be constructed is fatal; silently degrading triage quality is worse than
// failing to start.
func buildProvider(ctx context.Context, cfg *triage.Config) llm.Provider {
	switch cfg.LLMProvider {
	case "bedrock":
		p, err := llm.NewBedrockProvider(ctx, bedrock.Config{
			Region: cfg.BedrockRegion,
			Model:  cfg.BedrockModel,
		})
		if err != nil {
			log.Fatalf("bedrock provider: %v", err)
		}
		return p
	case "anthropic":
		if cfg.AnthropicKey == "" {
			log.Fatal("LLM_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
		p, err := llm.NewAnthropicProvider(anthropic.Config{
			APIKey: cfg.AnthropicKey,
			Model:  cfg.AnthropicModel,
		})
		if err != nil {
			log.Fatalf("anthropic provider: %v", err)
		}
		return p
	case "static":
		// Deterministic keyword fallback only; development and demos.
		return llm.NewStaticProvider("")
	default:
		log.Fatalf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
		return nil
	}
}

// buildStore opens Postgres when configured and reachable; otherwise the
// in-memory store keeps a development instance usable.
func buildStore(ctx context.Context, cfg *triage.Config, appLog *logger.Logger) triage.IncidentStore {
	if cfg.DatabaseURL != "" {
		store, err := triage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err == nil {
			appLog.Info(cfg.Property.Code, "", "Connected to Postgres", nil)
			return store
		}
		appLog.Warn(cfg.Property.Code, "", "Postgres unavailable; using in-memory store",
			map[string]interface{}{"error": err.Error()})
	}
	return triage.NewMemoryIncidentStore()
}

// buildSessions opens Redis when configured and reachable; otherwise the
// in-memory session store serves a single instance.
func buildSessions(ctx context.Context, cfg *triage.Config, appLog *logger.Logger) triage.SessionStore {
	if cfg.RedisURL != "" {
		sessions, err := triage.NewRedisSessionStore(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err == nil {
			appLog.Info(cfg.Property.Code, "", "Connected to Redis", nil)
			return sessions
		}
		appLog.Warn(cfg.Property.Code, "", "Redis unavailable; using in-memory sessions",
			map[string]interface{}{"error": err.Error()})
	}
	return triage.NewMemorySessionStore(cfg.SessionTTL)
}

// startRetentionSweeper purges expired incidents, audit history, and
// session records on a daily cadence.
func startRetentionSweeper(cfg *triage.Config, store triage.IncidentStore, sessions triage.SessionStore, appLog *logger.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				incidents, history, err := store.ApplyRetention(ctx, cfg.RetentionDays, cfg.AuditRetentionDays)
				if err != nil {
					appLog.Error(cfg.Property.Code, "", "Retention sweep failed",
						map[string]interface{}{"error": err.Error()})
				} else if incidents > 0 || history > 0 {
					appLog.Info(cfg.Property.Code, "", "Retention sweep complete",
						map[string]interface{}{"incidents": incidents, "history": history})
				}
				if evicted, err := sessions.Cleanup(ctx); err != nil {
					appLog.Warn(cfg.Property.Code, "", "Session cleanup failed",
						map[string]interface{}{"error": err.Error()})
				} else if evicted > 0 {
					appLog.Info(cfg.Property.Code, "", "Session cleanup complete",
						map[string]interface{}{"evicted": evicted})
				}
				cancel()
			}
		}
	}()
	return stop
}
