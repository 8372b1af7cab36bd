package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/cardbatch/internal/assemble"
	"github.com/local/cardbatch/internal/batch"
	cfgpkg "github.com/local/cardbatch/internal/config"
	"github.com/local/cardbatch/internal/extract"
	"github.com/local/cardbatch/internal/fetch"
	logpkg "github.com/local/cardbatch/internal/logger"
	"github.com/local/cardbatch/internal/metrics"
	"github.com/local/cardbatch/internal/refcache"
	"github.com/local/cardbatch/internal/statuscheck"
	"github.com/local/cardbatch/internal/storage"
	"github.com/local/cardbatch/internal/store"
	"github.com/local/cardbatch/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Cache.Dir).Msg("cannot create cache dir")
	}

	// Redis: selection choices and run status
	rdb, err := store.NewClient(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()
	choices := store.NewRedisChoices(rdb)
	statuses := store.NewRedisStatus(rdb)

	// S3 is optional; without it s3:// references fail and results stay local.
	var s3cli *storage.S3Client
	if cfg.Assembly.UploadBucket != "" {
		s3cli, err = storage.NewS3Client(context.Background(), cfg.Assembly.UploadBucket)
		if err != nil {
			log.Warn().Err(err).Msg("s3 unavailable, continuing without it")
			s3cli = nil
		}
	}

	resolver := fetch.New(s3cli)
	model := extract.NewModelClient(cfg.Extractor.Endpoint, cfg.Extractor.Timeout, resolver, cfg.Extractor.BGRPayloads)
	cache := refcache.New(cfg.Cache.Dir, cfg.Cache.PathPrefix)
	engine := assemble.NewEngine(cfg.Assembly)

	coord := batch.NewCoordinator(cache, model, choices, engine, statuses)
	if s3cli != nil {
		prefix := cfg.Assembly.UploadPrefix
		coord.WithUploader(s3cli, func(outName string) string {
			return path.Join(prefix, outName)
		})
	}

	checker := statuscheck.New(statuscheck.Options{
		Redis:             redisPinger{rdb},
		S3:                s3Header(s3cli),
		ExtractorEndpoint: cfg.Extractor.Endpoint,
		CacheDir:          cfg.Cache.Dir,
	})

	srv := web.NewServer(cfg.Server, coord, model, checker)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	httpSrv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	srv.TeardownAll()
	fmt.Println("shutdown complete")
}

// redisPinger adapts the go-redis client to the health checker.
type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

func s3Header(s *storage.S3Client) statuscheck.BucketHeader {
	if s == nil {
		return nil
	}
	return s
}
