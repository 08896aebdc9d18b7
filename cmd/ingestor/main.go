package main

import (
	"context"
	"database/sql"
	"os"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"propintel/internal/adapters/observability"
	"propintel/internal/adapters/propai"
	redisad "propintel/internal/adapters/redis"
	"propintel/internal/app"
	"propintel/internal/shared"
	mysqlrepo "propintel/internal/storage/mysql"
)

// The ingestor pushes brochures through the same pipeline the API uses, for
// operators refreshing a catalog without the UI:
//
//	ingestor brochure1.pdf brochure2.pdf ...
//
// Each file fully replaces the snapshot, so in practice the last successful
// upload wins; parallelism only buys concurrent extraction.
func main() {
	ctx := context.Background()
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv)

	files := os.Args[1:]
	if len(files) == 0 {
		log.Fatal().Msg("usage: ingestor <brochure.pdf> [more.pdf ...]")
	}

	log.Info().
		Str("base", cfg.ExtractorBase).
		Int("workers", cfg.Workers).
		Int("files", len(files)).
		Msg("ingestor starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	client, err := propai.New(cfg.ExtractorBase, cfg.ExtractorKey, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize extractor client")
	}

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup

	for _, path := range files {
		path := path

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer sem.Release(1)

			f, err := os.Open(path)
			if err != nil {
				log.Warn().Str("file", path).Err(err).Msg("open failed")
				return
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				log.Warn().Str("file", path).Err(err).Msg("stat failed")
				return
			}

			ctl := app.NewUploadController(client, repo, cache, cfg.SnapshotKey)
			if err := ctl.SelectFile(ctx, st.Name(), "application/pdf", st.Size(), f); err != nil {
				log.Warn().Str("file", path).Err(err).Msg("rejected")
				return
			}
			batch, err := ctl.Upload(ctx)
			if err != nil {
				log.Warn().Str("file", path).Err(err).Msg("ingest failed")
				return
			}
			log.Info().Str("file", path).Int("properties", len(batch)).Msg("ingest ok")
		}(path)
	}

	wg.Wait()
	log.Info().Msg("ingestion completed")
}
