package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaquet/listopia-sub005/internal/api"
	"github.com/spaquet/listopia-sub005/internal/auth"
	"github.com/spaquet/listopia-sub005/internal/broadcast"
	"github.com/spaquet/listopia-sub005/internal/commands"
	"github.com/spaquet/listopia-sub005/internal/config"
	"github.com/spaquet/listopia-sub005/internal/redis"
	"github.com/spaquet/listopia-sub005/internal/security"
	"github.com/spaquet/listopia-sub005/internal/service/assistant"
	"github.com/spaquet/listopia-sub005/internal/service/catalog"
	"github.com/spaquet/listopia-sub005/internal/service/resolver"
	"github.com/spaquet/listopia-sub005/internal/storage"
	"github.com/spaquet/listopia-sub005/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("LISTOPIA_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := pickDatabase(cfg)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Redis is an accelerator, not a requirement: token caching and the
	// violation window fall back to SQL without it.
	cache, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, continuing without cache: %v", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	store, err := assistant.NewService(db)
	if err != nil {
		log.Fatalf("assistant service: %v", err)
	}
	authSvc := auth.NewService(db, cache, 24*time.Hour)

	var classifier security.Classifier
	if cfg.Security.ModerationAPIKey != "" {
		c, err := security.NewOpenAIClassifier(cfg.Security.ModerationAPIKey, "", cfg.Security.ModerationModel)
		if err != nil {
			log.Fatalf("moderation classifier: %v", err)
		}
		classifier = c
	} else {
		log.Printf("no moderation key configured; content moderation disabled")
	}
	gateway := security.NewGateway(
		classifier,
		store,
		cache,
		cfg.Security.ViolationThreshold,
		time.Duration(cfg.Security.ViolationWindowMinutes)*time.Minute,
	)

	hub := broadcast.NewHub()
	cat := catalog.NewService(db, resolver.New(db), broadcast.NewDispatcher(hub))
	cmdRouter := commands.NewRouter(store, cat, store)
	manager := worker.NewManager(cfg, store, cat, hub)
	defer manager.Stop()

	srv := api.NewServer(cfg, store, authSvc, gateway, cmdRouter, cat, manager, hub,
		&broadcast.ListOwnershipAuthorizer{DB: db})

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}

	go func() {
		log.Printf("listening on %s (database: %s)", addr, dbType)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// pickDatabase prefers sqlite for single-node deployments and falls back to
// whatever is configured.
func pickDatabase(cfg *config.Config) string {
	for _, name := range []string{"sqlite", "sqlite3", "mysql"} {
		if _, ok := cfg.Databases[name]; ok {
			return name
		}
	}
	for name := range cfg.Databases {
		return name
	}
	return "sqlite"
}
