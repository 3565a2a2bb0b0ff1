package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/gridrelay/internal/api"
	"github.com/seantiz/gridrelay/internal/catalog"
	"github.com/seantiz/gridrelay/internal/config"
	"github.com/seantiz/gridrelay/internal/engine"
	"github.com/seantiz/gridrelay/internal/store"
	"github.com/seantiz/gridrelay/internal/task"
	"github.com/seantiz/gridrelay/internal/tracing"
)

const exporterShutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "computed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	logger.Info("computed: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"span_exporter", cfg.SpanExporter,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	exp, closeExporter, err := newSpanExporter(cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeExporter()

	reg := task.Builtin()
	eng := engine.NewEngine(db, reg, engine.DefaultTimeout, logger)
	defer eng.Shutdown()

	ic := tracing.NewInterceptor(exp, logger)
	srv := api.NewServer(cfg.ListenAddr, db, eng, reg, ic, logger)

	if cfg.Catalog != "" {
		if err := publishCatalog(srv, cfg.Catalog, reg, logger); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

// newSpanExporter builds the configured exporter and the function that
// flushes and releases it.
func newSpanExporter(cfg config.Config, db *store.SQLiteStore, logger *slog.Logger) (tracing.Exporter, func(), error) {
	switch cfg.SpanExporter {
	case config.ExporterLog:
		return tracing.NewLogExporter(logger), func() {}, nil
	case config.ExporterFile:
		fe, err := tracing.NewFileExporter(cfg.SpanFile, logger)
		if err != nil {
			return nil, nil, err
		}
		return fe, func() {
			if err := fe.Close(); err != nil {
				logger.Error("close span file", "error", err)
			}
		}, nil
	case config.ExporterStore:
		be := tracing.NewBatchExporter(db, cfg.SpanBatchSize, cfg.SpanFlushInterval, logger)
		return be, func() {
			ctx, cancel := context.WithTimeout(context.Background(), exporterShutdownTimeout)
			defer cancel()
			if err := be.Shutdown(ctx); err != nil {
				logger.Error("flush spans on shutdown", "error", err)
			}
		}, nil
	}
	return nil, nil, errors.New("no span exporter configured")
}

// publishCatalog loads the catalog at path and publishes its active task.
func publishCatalog(srv *api.Server, path string, reg *task.Registry, logger *slog.Logger) error {
	cat, err := catalog.Load(path)
	if err != nil {
		return err
	}
	if err := cat.Validate(reg); err != nil {
		return err
	}

	d, ok := cat.ActiveDescriptor()
	if !ok {
		logger.Warn("catalog has no tasks", "path", path)
		return nil
	}
	pub, err := srv.Publish(d, false)
	if err != nil {
		return fmt.Errorf("publish %s: %w", d.Type, err)
	}
	logger.Info("published task", "type", pub.Type, "version", pub.Version, "signature", pub.Signature)
	return nil
}
