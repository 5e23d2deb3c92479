// auditd runs the audit ingestion pipeline: the resilient writer, its
// drain loop, and the ops HTTP surface. Producers reach the writer
// in-process; this binary exists for the surrounding service to embed or
// run standalone during development.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"auditcore/internal/audit/crypto"
	"auditcore/internal/audit/export"
	"auditcore/internal/audit/flags"
	"auditcore/internal/audit/hashchain"
	"auditcore/internal/audit/outbox"
	"auditcore/internal/audit/redact"
	"auditcore/internal/audit/slowquery"
	"auditcore/internal/audit/store"
	"auditcore/internal/audit/writer"
	"auditcore/internal/platform/config"
	"auditcore/internal/platform/httpserver"
	"auditcore/internal/platform/logger"
	platformredis "auditcore/internal/platform/redis"
	httptransport "auditcore/internal/transport/http"
	"auditcore/pkg/platform/circuit"
)

func main() {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Key provider and column encryption. Weak master keys fail fast.
	keys, err := crypto.NewDerivedKeyProvider(cfg.MasterKey)
	if err != nil {
		log.Error("master key rejected", "error", err)
		os.Exit(1)
	}
	columns, err := crypto.NewColumnService(keys, cfg.EncryptedColumns)
	if err != nil {
		log.Error("column encryption init failed", "error", err)
		os.Exit(1)
	}

	chain := hashchain.New()

	// Outbox: Postgres when configured, in-memory otherwise (dev only).
	var (
		box writer.Outbox
		db  *sql.DB
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pg, err := outbox.NewPostgres(db)
		if err != nil {
			log.Error("init outbox", "error", err)
			os.Exit(1)
		}
		box = pg

		// Resume each tenant's hash chain from the last persisted head so
		// restarts extend the chain instead of restarting at genesis.
		if heads, err := pg.ChainHeads(ctx); err != nil {
			log.Warn("chain heads unavailable, chains restart at genesis", "error", err)
		} else {
			for tenantID, hash := range heads {
				if hash != "" {
					chain.Seed(tenantID, hash)
				}
			}
		}
	} else {
		log.Warn("no postgres DSN configured, using in-memory outbox")
		box = outbox.NewMemory()
	}

	// Flag store: Redis when configured.
	var flagStore flags.Store
	rdb, err := platformredis.New(ctx, cfg.RedisURL, cfg.Redis)
	if err != nil {
		// Fail open: the resolver serves defaults without a store.
		log.Warn("redis unavailable, flag overrides disabled", "error", err)
	} else if rdb != nil {
		defer rdb.Close()
		flagStore = flags.NewRedisStore(rdb.Client)
	}

	defaults := flags.FlagSet{
		WriteMode:         flags.WriteMode(cfg.Flags.DefaultWriteMode),
		HashChainEnabled:  cfg.Flags.HashChainEnabled,
		TimelineEnabled:   cfg.Flags.TimelineEnabled,
		EncryptionEnabled: cfg.Flags.EncryptionEnabled,
	}
	resolver := flags.NewResolver(flagStore, defaults,
		flags.WithTTL(cfg.Flags.CacheTTL),
		flags.WithLogger(log),
		flags.WithMetrics(flags.NewMetrics()),
	)

	slow := slowquery.New(
		slowquery.WithLogger(log),
		slowquery.WithMetrics(slowquery.NewMetrics()),
	)

	// The relational store is the sync path for sync-mode tenants and the
	// read path for timelines and exports. Column encryption lives here.
	var syncStore *store.Postgres
	if db != nil {
		syncStore, err = store.NewPostgres(db,
			store.WithColumnService(columns),
			store.WithFlagResolver(resolver),
			store.WithSlowQueryHandler(slow),
			store.WithLogger(log),
		)
		if err != nil {
			log.Error("init audit store", "error", err)
			os.Exit(1)
		}
	}

	breaker := circuit.New("audit-outbox",
		circuit.WithFailureThreshold(cfg.Writer.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.Writer.SuccessThreshold),
		circuit.WithCooldown(cfg.Writer.Cooldown),
	)

	writerOpts := []writer.Option{
		writer.WithHashChain(chain),
		writer.WithRedactor(redact.New()),
		writer.WithBreaker(breaker),
		writer.WithBufferCapacity(cfg.Writer.BufferCapacity),
		writer.WithEnqueueTimeout(cfg.Writer.EnqueueTimeout),
		writer.WithLogger(log),
		writer.WithMetrics(writer.NewMetrics()),
	}
	if syncStore != nil {
		writerOpts = append(writerOpts, writer.WithSyncWriter(syncStore))
	}

	w, err := writer.New(box, resolver, writerOpts...)
	if err != nil {
		log.Error("init writer", "error", err)
		os.Exit(1)
	}

	// Compliance exports, when a bucket is configured.
	var exporter httptransport.Exporter
	if cfg.Export.Bucket != "" && syncStore != nil {
		sink, err := export.NewS3Storage(ctx, export.S3Config{
			Bucket:       cfg.Export.Bucket,
			Region:       cfg.Export.Region,
			Endpoint:     cfg.Export.Endpoint,
			UsePathStyle: cfg.Export.UsePathStyle,
		})
		if err != nil {
			log.Error("init export sink", "error", err)
			os.Exit(1)
		}
		svc, err := export.New(sink,
			export.WithPrefix(cfg.Export.Prefix),
			export.WithLogger(log),
		)
		if err != nil {
			log.Error("init export service", "error", err)
			os.Exit(1)
		}
		exporter = tenantExporter{store: syncStore, svc: svc}
	}

	checkers := map[string]httptransport.HealthChecker{}
	if rdb != nil {
		checkers["redis"] = rdb
	}
	if db != nil {
		checkers["postgres"] = dbChecker{db}
	}

	srv := httpserver.New(cfg.OpsAddr, httptransport.NewRouter(w, checkers, exporter))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("ops server listening", "addr", cfg.OpsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := w.RunDrain(ctx, cfg.Writer.DrainInterval, cfg.Writer.DrainBatchSize)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete", "buffer_depth", w.BufferDepth())
}

type dbChecker struct{ db *sql.DB }

func (c dbChecker) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// tenantExporter bridges the relational store's timeline to the export
// service for the ops export endpoint.
type tenantExporter struct {
	store *store.Postgres
	svc   *export.Service
}

func (e tenantExporter) ExportTenant(ctx context.Context, tenantID string) (export.Manifest, error) {
	events, err := e.store.Timeline(ctx, tenantID, exportBatchLimit)
	if err != nil {
		return export.Manifest{}, err
	}
	return e.svc.Export(ctx, tenantID, events)
}

const exportBatchLimit = 10000
