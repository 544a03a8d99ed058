// Command lockwatch runs the LockWatch discovery and monitoring server and
// its maintenance subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/config"
	"github.com/HerbHall/lockwatch/internal/event"
	"github.com/HerbHall/lockwatch/internal/media"
	"github.com/HerbHall/lockwatch/internal/pulse"
	"github.com/HerbHall/lockwatch/internal/recon"
	"github.com/HerbHall/lockwatch/internal/registry"
	"github.com/HerbHall/lockwatch/internal/server"
	"github.com/HerbHall/lockwatch/internal/store"
	"github.com/HerbHall/lockwatch/internal/vault"
	"github.com/HerbHall/lockwatch/internal/version"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

const usage = `usage: lockwatch [command] [flags]

commands:
  serve     run the API server (default)
  scan      run one discovery scan and print the result as JSON
  backup    archive the database and config to tar.gz
  restore   restore a backup archive
  version   print build information
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		runServe(args)
	case "scan":
		runScan(args)
	case "backup":
		runBackup(args)
	case "restore":
		runRestore(args)
	case "version":
		fmt.Println(version.Info())
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

// app holds what every long-running command builds from the config.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
}

func loadRuntime(configPath string) (*app, error) {
	v, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(v.GetString("log.level"), v.GetString("log.format"))
	if err != nil {
		return nil, err
	}
	return &app{v: v, logger: logger}, nil
}

// depsFor returns the Dependencies builder handed to the registry. A nil
// st leaves Store unset.
func (rt *app) depsFor(st *store.SQLiteStore, bus plugin.EventBus) func(name string) plugin.Dependencies {
	root := config.New(rt.v)
	return func(name string) plugin.Dependencies {
		deps := plugin.Dependencies{
			Config: root.Sub("plugins." + name),
			Logger: rt.logger.Named(name),
			Bus:    bus,
		}
		if st != nil {
			deps.Store = st
		}
		return deps
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	rt, err := loadRuntime(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockwatch: %v\n", err)
		os.Exit(1)
	}
	logger := rt.logger
	defer func() { _ = logger.Sync() }()

	logger.Info("LockWatch server starting", zap.String("version", version.Short()))

	if err := serve(rt); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("LockWatch server stopped")
}

func serve(rt *app) error {
	logger := rt.logger

	st, err := store.New(rt.v.GetString("database.path"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := event.NewBus(logger.Named("bus"))
	reg := registry.New(logger.Named("registry"))
	plugins := []plugin.Plugin{
		vault.New(),
		recon.New(recon.WithRegisterer(promReg)),
		pulse.New(pulse.WithRegisterer(promReg)),
		media.New(media.WithRegisterer(promReg)),
	}
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			return fmt.Errorf("register plugin: %w", err)
		}
	}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("validate plugins: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reg.InitAll(ctx, rt.depsFor(st, bus)); err != nil {
		return err
	}
	if err := reg.StartAll(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(rt.v.GetString("server.host"), strconv.Itoa(rt.v.GetInt("server.port")))
	srv := server.New(addr, reg, promReg, logger.Named("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("LockWatch server ready", zap.String("addr", addr))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)
	return serveErr
}
