// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/absmach/relaymq/broker"
	"github.com/absmach/relaymq/config"
	"github.com/absmach/relaymq/coordination"
	"github.com/absmach/relaymq/events"
	relaytls "github.com/absmach/relaymq/pkg/tls"
	"github.com/absmach/relaymq/recovery"
	"github.com/absmach/relaymq/server/health"
	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/storage/badger"
	"github.com/absmach/relaymq/storage/memory"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting queue broker", "version", "0.1.0")
	slog.Info("Configuration loaded",
		"storage_type", cfg.Storage.Type,
		"pipeline_buffer", cfg.Pipeline.BufferSize,
		"health_enabled", cfg.Server.HealthEnabled,
		"cluster_enabled", cfg.Cluster.Enabled,
		"rdbms_sync_enabled", cfg.Cluster.Coordination.RDBMSSyncEnabled,
		"log_level", cfg.Log.Level)

	var store storage.QueueStore
	switch cfg.Storage.Type {
	case "memory":
		store = memory.NewQueueStore()
		slog.Info("Using in-memory queue store")
	case "badger":
		badgerStore, err := badger.New(badger.Config{
			Dir:        cfg.Storage.BadgerDir,
			SyncWrites: cfg.Storage.SyncWrites,
		})
		if err != nil {
			slog.Error("Failed to open badger queue store", "error", err)
			os.Exit(1)
		}
		store = badgerStore
		slog.Info("Using badger queue store", "dir", cfg.Storage.BadgerDir)
	}
	defer store.Close()

	engine := broker.NewEngine()
	registry := broker.NewRegistry(store, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Coordination backend. The listener manager must exist before the mesh
	// agent; the factory enforces that ordering.
	var (
		mesh     *coordination.EtcdMesh
		log      coordination.NotificationLog
		pgLog    *coordination.PostgresLog
		etcdStop func()
	)
	if cfg.Cluster.Enabled {
		if cfg.Cluster.Coordination.RDBMSSyncEnabled {
			pgLog, err = coordination.NewPostgresLog(ctx, cfg.Cluster.Coordination.PostgresURL)
			if err != nil {
				slog.Error("Failed to connect to notification store", "error", err)
				os.Exit(1)
			}
			defer pgLog.Close()
			log = pgLog
		} else {
			etcdServer, etcdClient, err := coordination.StartEmbeddedEtcd(coordination.EtcdServerConfig{
				NodeID:         cfg.Cluster.NodeID,
				DataDir:        cfg.Cluster.Etcd.DataDir,
				BindAddr:       cfg.Cluster.Etcd.BindAddr,
				ClientAddr:     cfg.Cluster.Etcd.ClientAddr,
				InitialCluster: cfg.Cluster.Etcd.InitialCluster,
				Bootstrap:      cfg.Cluster.Etcd.Bootstrap,
			})
			if err != nil {
				slog.Error("Failed to start embedded etcd", "error", err)
				os.Exit(1)
			}
			etcdStop = func() {
				etcdClient.Close()
				etcdServer.Close()
			}

			mesh, err = coordination.NewEtcdMesh(etcdClient, logger)
			if err != nil {
				slog.Error("Failed to join notification mesh", "error", err)
				etcdStop()
				os.Exit(1)
			}
		}
	}
	if etcdStop != nil {
		defer etcdStop()
	}

	factory := coordination.NewFactory(coordination.FactoryConfig{
		ClusteringEnabled: cfg.Cluster.Enabled,
		RDBMSSyncEnabled:  cfg.Cluster.Coordination.RDBMSSyncEnabled,
		NodeID:            cfg.Cluster.NodeID,
		PollInterval:      cfg.Cluster.Coordination.PollInterval,
	}, mesh, log, registry, logger)

	listener, err := factory.CreateListenerManager()
	if err != nil {
		slog.Error("Failed to create cluster listener manager", "error", err)
		os.Exit(1)
	}
	if ml := factory.MeshListener(); ml != nil {
		ml.SetStoreSyncHandler(func(c context.Context) error {
			queues, err := store.List(c, "")
			if err != nil {
				return err
			}
			slog.Info("Re-read queue metadata after cluster sync request", "queues", len(queues))
			return nil
		})
	}
	if listener != nil {
		if err := listener.Start(ctx); err != nil {
			slog.Error("Failed to start cluster listener manager", "error", err)
			os.Exit(1)
		}
		defer listener.Stop()
	}

	agent, err := factory.CreateAgent()
	if err != nil {
		slog.Error("Failed to create cluster notification agent", "error", err)
		os.Exit(1)
	}
	if cfg.Cluster.Enabled {
		agent = coordination.NewBreakerAgent(agent, coordination.BreakerConfig{
			FailureThreshold: cfg.Cluster.Coordination.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Cluster.Coordination.Breaker.ResetTimeout,
		}, logger)
	}

	pipeline := events.NewPipeline(cfg.Pipeline.BufferSize, agent, logger)
	pipeline.Start()
	defer pipeline.Stop()

	// Partition recovery applies to the mesh backend only; the relational
	// backend re-reads the log on its own.
	var monitor *recovery.Monitor
	if mesh != nil {
		monitor = recovery.NewMonitor(factory.MeshListener(), logger)
		monitor.Start(mesh)
	}

	var wg sync.WaitGroup
	if cfg.Server.HealthEnabled {
		// TLS trouble degrades the health endpoint to plaintext rather than
		// taking the broker down.
		var tlsConfig *tls.Config
		if cfg.Server.TLSEnabled {
			tlsConfig, err = relaytls.LoadTLSConfig[*tls.Config](&relaytls.Config{
				CertFile:     cfg.Server.TLSCertFile,
				KeyFile:      cfg.Server.TLSKeyFile,
				ClientCAFile: cfg.Server.TLSCAFile,
			})
			if err != nil {
				slog.Warn("Failed to load TLS configuration, serving health endpoints over plaintext", "error", err)
				tlsConfig = nil
			} else {
				slog.Info("Health endpoint security", "status", relaytls.SecurityStatus(tlsConfig))
			}
		}

		var merges health.MergeCounter
		if monitor != nil {
			merges = monitor
		}
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			TLSConfig:       tlsConfig,
		}, store, cfg.Cluster.NodeID, cfg.Cluster.Enabled, merges, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				slog.Error("Health check server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	if mesh != nil {
		if err := mesh.Close(); err != nil {
			slog.Warn("Failed to close notification mesh", "error", err)
		}
	}
	wg.Wait()
	slog.Info("Queue broker stopped")
}
