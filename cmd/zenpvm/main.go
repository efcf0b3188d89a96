// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/pbinitiative/zenpvm/internal/log"
	"github.com/pbinitiative/zenpvm/internal/otel"
	"github.com/pbinitiative/zenpvm/internal/profile"
	"github.com/pbinitiative/zenpvm/internal/rest"
	"github.com/pbinitiative/zenpvm/pkg/bpmn"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/cache"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/storage/boltstore"
	"github.com/pbinitiative/zenpvm/pkg/storage/inmemory"
)

func main() {
	profile.InitProfile()
	log.Init()
	defer log.Sync()

	appContext, ctxCancel := context.WithCancel(context.Background())

	conf := config.InitConfig()
	if profile.Current == profile.DEV {
		if rendered, err := conf.Yaml(); err == nil {
			log.Debugf(appContext, "effective configuration:\n%s", rendered)
		}
	}

	openTelemetry, err := otel.SetupOtel(conf.Tracing)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		os.Exit(1)
	}

	store, closeStore, err := openStorage(conf.Storage)
	if err != nil {
		log.Error("Failed to open storage: %s", err)
		os.Exit(1)
	}

	engine, err := bpmn.NewEngine(engineOptions(conf, store, openTelemetry)...)
	if err != nil {
		log.Error("Failed to create engine: %s", err)
		os.Exit(1)
	}
	if err := engine.Start(appContext); err != nil {
		log.Error("Failed to start engine: %s", err)
		os.Exit(1)
	}

	svr := rest.NewServer(engine, conf)
	if _, err := svr.Start(); err != nil {
		log.Error("Failed to start admin server: %s", err)
		os.Exit(1)
	}

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop, appContext)

	ctxCancel()
	// cleanup
	svr.Stop(context.Background())
	if err := engine.Stop(context.Background()); err != nil {
		log.Error("failed to properly stop engine: %s", err)
	}
	if err := closeStore(); err != nil {
		log.Error("failed to close storage: %s", err)
	}
	openTelemetry.Stop(context.Background())
}

func openStorage(conf config.Storage) (storage.Storage, func() error, error) {
	switch conf.Type {
	case config.StorageBolt:
		s, err := boltstore.Open(conf.Path, conf.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StorageInMemory:
		return inmemory.NewStorage(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage type %q", conf.Type)
}

func engineOptions(conf config.Config, store storage.Storage, o *otel.Otel) []bpmn.EngineOption {
	var deploymentCache cache.DeploymentCache = cache.NewFIFO(conf.Engine.DeploymentCacheLimit)
	if conf.Engine.DeploymentCache == config.CacheLRU {
		deploymentCache = cache.NewLRU(conf.Engine.DeploymentCacheLimit)
	}
	level := hclog.Info
	if profile.Current == profile.DEV {
		level = hclog.Debug
	}
	options := []bpmn.EngineOption{
		bpmn.WithName(conf.Name),
		bpmn.WithStorage(store),
		bpmn.WithDeploymentCache(deploymentCache),
		bpmn.WithRetryPolicy(conf.Retry.RetryPolicy()),
		bpmn.WithMetrics(o.EngineMetrics()),
		bpmn.WithLogger(hclog.New(&hclog.LoggerOptions{Name: conf.Name, Level: level, Output: engineLogOutput()})),
		bpmn.WithDeferredEventListener(event.ListenerFunc(logProcessEvent),
			event.ProcessStarted, event.ProcessCompleted, event.ProcessCancelled, event.JobMovedToDeadLetter),
	}
	if conf.AsyncExecutor.Enabled {
		options = append(options, bpmn.WithAsyncExecutor(conf.AsyncExecutor.ExecutorConfig()))
	}
	return options
}

func engineLogOutput() io.Writer {
	if profile.Current == profile.TEST {
		return io.Discard
	}
	return os.Stderr
}

func logProcessEvent(ctx context.Context, e event.Event) error {
	ctx = appcontext.WithExecutionKey(ctx, e.ProcessInstanceId)
	if e.Type == event.JobMovedToDeadLetter {
		log.Errorf(ctx, "job %d moved to dead letter: %v", e.JobId, e.Err)
		return nil
	}
	log.Infof(ctx, "%s %s", e.Type, e.ProcessDefinitionId)
	return nil
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
