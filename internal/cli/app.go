package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stampscore/stampscore/internal/app/dedup"
	"github.com/stampscore/stampscore/internal/app/filter"
	"github.com/stampscore/stampscore/internal/app/ledger"
	"github.com/stampscore/stampscore/internal/app/passport"
	"github.com/stampscore/stampscore/internal/app/rescore"
	"github.com/stampscore/stampscore/internal/daemon"
	"github.com/stampscore/stampscore/internal/infra/lease"
	"github.com/stampscore/stampscore/internal/infra/logger"
	"github.com/stampscore/stampscore/internal/infra/observability"
	"github.com/stampscore/stampscore/internal/infra/sqlite"
)

// app is the wired process: config, store, locks and services.
type app struct {
	cfg       daemon.Config
	log       *logger.Logger
	db        *sqlite.DB
	ledger    *ledger.Ledger
	passports *passport.Service
	rescorer  *rescore.Rescorer

	closers []func(context.Context) error
}

// openApp loads configuration and wires every component.
func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	path := opts.configPath
	if path == "" {
		path = daemon.DefaultConfigPath()
	}
	cfg, err := daemon.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if opts.debug {
		level = "debug"
	}
	log, err := logger.New(cfg.Log.Mode, level)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.Database.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a.db, err = sqlite.OpenFile(filepath.Join(cfg.Database.Dir, sqlite.FileName), cfg.Database.BusyTimeoutDuration())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.db.Close() })

	shutdown, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: programName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	locks, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}

	now := opts.now
	a.ledger = ledger.New(a.db, log)
	a.passports = passport.New(
		a.db,
		filter.New(a.db, a.db),
		dedup.New(a.db, locks, log),
		a.ledger,
		locks,
		log,
		passport.WithClock(now),
	)
	a.rescorer = rescore.New(rescore.Config{
		BatchSize:      cfg.Rescore.BatchSize,
		Workers:        cfg.Rescore.Workers,
		MaxRetries:     cfg.Rescore.MaxRetries,
		InitialBackoff: cfg.Rescore.InitialBackoffDuration(),
		MaxBackoff:     cfg.Rescore.MaxBackoffDuration(),
	}, a.passports, a.db, log)

	ok = true
	return a, nil
}

// locker picks the lease backend named by dedup.lock_backend.
func (a *app) locker(ctx context.Context) (lease.Locker, error) {
	timeout := a.cfg.Dedup.AcquireTimeoutDuration()
	if !strings.EqualFold(a.cfg.Dedup.LockBackend, "redis") {
		return lease.NewLocal(timeout), nil
	}
	rdb, err := lease.Dial(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	a.log.Info("using redis leases", "addr", a.cfg.Redis.Addr)
	return lease.NewRedis(rdb, lease.RedisConfig{
		Prefix:  a.cfg.Redis.KeyPrefix,
		TTL:     a.cfg.Dedup.LeaseTTLDuration(),
		Timeout: timeout,
	}), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.log.Sync()
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}
