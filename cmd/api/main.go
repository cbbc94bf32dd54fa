package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/cache"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-identity")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := utilities.InitTracing(ctx)
	if err != nil {
		sugar.Fatalf("tracing init: %v", err)
	}

	driver := repo.DriverFromEnv()
	store, closeStore, err := repo.Open(ctx, driver)
	if err != nil {
		sugar.Fatalf("identity store (%s): %v", driver, err)
	}
	defer closeStore()
	sugar.Infow("identity store ready", "driver", driver)

	var profileCache identity.ProfileCache = identity.NoopCache{}
	if cfg := cache.ConfigFromEnv(); cfg.URL != "" {
		pc, err := cache.New(cfg)
		if err != nil {
			// the cache is optional; serve uncached rather than refuse to start
			sugar.Warnw("profile cache disabled", "err", err)
		} else {
			defer pc.Close()
			profileCache = pc
			sugar.Infow("profile cache ready", "ttl", cfg.TTL)
		}
	}

	authCfg := auth.ConfigFromEnv()
	if authCfg.Key == "" && !authCfg.Development {
		sugar.Warn("EVENTS_API_KEY is not set; identity endpoints will answer 500")
	}

	svc := identity.NewService(store, profileCache, sugar, identity.ResolveOptionsFromEnv())
	handler := router.RegisterRoutes(sugar, svc, authCfg)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if err := shutdownTracing(doneCtx); err != nil {
		sugar.Warnf("tracing shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
