package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/event"
	"github.com/HerbHall/lockwatch/internal/recon"
	"github.com/HerbHall/lockwatch/internal/registry"
	"github.com/HerbHall/lockwatch/internal/store"
	"github.com/HerbHall/lockwatch/internal/vault"
	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	start := fs.String("start", "", "first address of the range (required)")
	end := fs.String("end", "", "last address of the range (default: start)")
	protocols := fs.String("protocols", "", "comma separated protocols to probe: onvif,rtsp,http (default: all)")
	timeout := fs.Duration("timeout", 0, "per-probe timeout (default: plugins.recon.probe_timeout)")
	facility := fs.String("facility", "", "facility the devices belong to")
	persist := fs.Bool("persist", false, "store discovered devices and scan history in the database")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *start == "" {
		fmt.Fprintln(os.Stderr, "error: --start is required")
		fs.Usage()
		os.Exit(2)
	}
	if *end == "" {
		*end = *start
	}
	kinds, err := parseProtocols(*protocols)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	rt, err := loadRuntime(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lockwatch: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rt.logger.Sync() }()

	req := recon.DiscoverRequest{
		Start:      *start,
		End:        *end,
		Protocols:  kinds,
		Timeout:    *timeout,
		FacilityID: *facility,
	}
	res, err := scan(rt, req, *persist)
	switch {
	case errors.Is(err, recon.ErrInvalidRange):
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}
}

// parseProtocols turns "onvif, rtsp" into protocol kinds. Empty means all.
func parseProtocols(s string) ([]models.ProtocolKind, error) {
	var kinds []models.ProtocolKind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, ok := models.ParseProtocolKind(part)
		if !ok {
			return nil, fmt.Errorf("unknown protocol %q", part)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// scan runs one discovery through a registry holding only vault and recon.
// The vault always gets the store so stored credentials are used; recon
// only gets it with persist.
func scan(rt *app, req recon.DiscoverRequest, persist bool) (*recon.DiscoveryResult, error) {
	st, err := store.New(rt.v.GetString("database.path"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	rec := recon.New()
	reg := registry.New(rt.logger.Named("registry"))
	for _, p := range []plugin.Plugin{vault.New(), rec} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	base := rt.depsFor(st, event.NewBus(rt.logger.Named("bus")))
	depsFn := func(name string) plugin.Dependencies {
		deps := base(name)
		if name == "recon" && !persist {
			deps.Store = nil
		}
		return deps
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reg.InitAll(ctx, depsFn); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.StopAll(stopCtx)
	}()

	rt.logger.Info("scan starting",
		zap.String("start", req.Start),
		zap.String("end", req.End),
		zap.Bool("persist", persist),
	)
	return rec.Discover(ctx, req, recon.TriggerCLI)
}
