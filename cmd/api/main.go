package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"propintel/internal/adapters/dealerws"
	server "propintel/internal/adapters/http_server"
	"propintel/internal/adapters/observability"
	"propintel/internal/adapters/propai"
	redisad "propintel/internal/adapters/redis"
	"propintel/internal/app"
	"propintel/internal/shared"
	mysqlrepo "propintel/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	client, err := propai.New(cfg.ExtractorBase, cfg.ExtractorKey, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize extractor client")
	}

	catalog := app.NewCatalogService(repo, cache, cfg.SnapshotKey, cfg.CacheTTL)
	emails := app.NewEmailLogService(client, cfg.ResendCompatTimer, cfg.ResendDelay)
	contact := app.NewContactService(client, catalog, emails)

	// dealer-reply stream: lives for the process, closed on shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go dealerws.New(cfg.ExtractorBase, emails.PushReply).Run(ctx)

	// http
	srv := server.New(cfg.CORSOrigin)
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Catalog:   catalog,
		Emails:    emails,
		Contact:   contact,
		Client:    client,
		Repo:      repo,
		Cache:     cache,
		StoreKey:  cfg.SnapshotKey,
		AssetBase: cfg.AssetBase,
	})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("shutdown complete")
}
