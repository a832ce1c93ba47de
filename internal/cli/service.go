// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/billing"
	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/engine"
	"github.com/jeranaias/promptforge/internal/gate"
	"github.com/jeranaias/promptforge/internal/identity"
	"github.com/jeranaias/promptforge/internal/killswitch"
	"github.com/jeranaias/promptforge/internal/provider"
	"github.com/jeranaias/promptforge/internal/storage"
	"github.com/jeranaias/promptforge/internal/telemetry"
)

// service is everything serve and upgrade need, built from one config.
type service struct {
	cfg      *config.Config
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	registry *provider.Registry
	switches killswitch.Source
	hook     *telemetry.Hook
	engine   *engine.Engine
	verifier *identity.Verifier

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// buildService wires the service. watch starts the kill-switch file
// watcher; one-shot commands read the file once.
func buildService(cfg *config.Config, watch bool) (_ *service, err error) {
	rt := &service{cfg: cfg, verifier: identity.NewVerifier(cfg.Identity)}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = telemetry.NewMetrics(reg)
	rt.gatherer = reg

	rt.registry, err = provider.BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	for _, d := range rt.registry.Descriptors() {
		rt.metrics.SetProviderHealth(d.ID, int(d.Health))
	}
	rt.registry.OnTransition(func(id string, from, to provider.HealthState) {
		rt.metrics.SetProviderHealth(id, int(to))
	})

	accounts, err := rt.openAccounts()
	if err != nil {
		return nil, err
	}
	accounts, err = billing.Wrap(accounts, cfg.Billing)
	if err != nil {
		return nil, err
	}

	rt.switches, err = rt.openSwitches(watch)
	if err != nil {
		return nil, err
	}

	if cfg.Telemetry.Enabled {
		var sink telemetry.Sink = telemetry.LogSink{}
		if cfg.Telemetry.LogPath != "" {
			fs, err := telemetry.NewFileSink(cfg.Telemetry.LogPath)
			if err != nil {
				return nil, err
			}
			rt.closers = append(rt.closers, fs)
			sink = fs
		}
		rt.hook = telemetry.NewHook(cfg.Telemetry.Buffer, rt.metrics, sink)
		rt.hook.Start()
		// The hook drains into the file sink, so it closes first.
		rt.closers = append([]io.Closer{closerFunc(func() error { rt.hook.Close(); return nil })}, rt.closers...)
	}

	rt.engine, err = engine.FromConfig(cfg, engine.Components{
		Registry: rt.registry,
		Accounts: accounts,
		Switches: rt.switches,
		Metrics:  rt.metrics,
		Hook:     rt.hook,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *service) openAccounts() (gate.Accounting, error) {
	if rt.cfg.Gate.Ledger != "sqlite" {
		return gate.NewMemoryAccounting(rt.cfg.Gate.StartingCredits), nil
	}
	ledger, err := storage.OpenLedger(rt.cfg.Gate.LedgerPath, rt.cfg.Gate.StartingCredits)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	rt.closers = append(rt.closers, ledger)
	return ledger, nil
}

func (rt *service) openSwitches(watch bool) (killswitch.Source, error) {
	path := rt.cfg.KillSwitch.Path
	if path == "" {
		return killswitch.NewStore(), nil
	}
	fw, err := killswitch.NewFileWatcher(path, rt.cfg.KillSwitch.PollInterval)
	if err != nil {
		return nil, err
	}
	if watch {
		if err := fw.Watch(); err != nil {
			fw.Close()
			return nil, err
		}
	}
	rt.closers = append(rt.closers, fw)
	return fw, nil
}

// Close releases resources in order.
func (rt *service) Close() error {
	var errs []error
	for _, c := range rt.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
		return err
	}
	return nil
}
