// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the broker.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cluster  ClusterConfig  `yaml:"cluster"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	HealthAddr      string        `yaml:"health_addr"`
	HealthEnabled   bool          `yaml:"health_enabled"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
	TLSCAFile       string        `yaml:"tls_ca_file"` // CA certificate for client verification
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds queue metadata storage configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	// BadgerDB settings
	BadgerDir  string `yaml:"badger_dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// PipelineConfig holds queue event pipeline settings.
type PipelineConfig struct {
	// BufferSize is the capacity of the event channel; producers block when
	// it fills.
	BufferSize int `yaml:"buffer_size"`
}

// ClusterConfig holds clustering configuration.
type ClusterConfig struct {
	Enabled bool   `yaml:"enabled"`
	NodeID  string `yaml:"node_id"`

	// Embedded etcd settings for the mesh backend
	Etcd EtcdConfig `yaml:"etcd"`

	// Coordination backend selection
	Coordination CoordinationConfig `yaml:"coordination"`
}

// EtcdConfig holds embedded etcd configuration.
type EtcdConfig struct {
	DataDir        string `yaml:"data_dir"`
	BindAddr       string `yaml:"bind_addr"`       // Peer address (e.g., "0.0.0.0:2380")
	ClientAddr     string `yaml:"client_addr"`     // Client address (e.g., "0.0.0.0:2379")
	InitialCluster string `yaml:"initial_cluster"` // "node1=http://host1:2380,node2=http://host2:2380"
	Bootstrap      bool   `yaml:"bootstrap"`       // true only for first node
}

// CoordinationConfig selects how queue changes propagate between nodes.
type CoordinationConfig struct {
	// RDBMSSyncEnabled switches cluster event synchronization from the mesh
	// to a shared relational store.
	RDBMSSyncEnabled bool `yaml:"rdbms_sync_enabled"`

	// PollInterval is how often the relational backend reads the
	// notification log.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PostgresURL is the relational store DSN.
	PostgresURL string `yaml:"postgres_url"`

	// Breaker guards notification publishing.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds notification circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			TLSEnabled:      false,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type:      "badger",
			BadgerDir: "/tmp/relaymq/data",
		},
		Pipeline: PipelineConfig{
			BufferSize: 1024,
		},
		Cluster: ClusterConfig{
			Enabled: false,
			NodeID:  "broker-1",
			Etcd: EtcdConfig{
				DataDir:        "/tmp/relaymq/etcd",
				BindAddr:       "0.0.0.0:2380",
				ClientAddr:     "0.0.0.0:2379",
				InitialCluster: "broker-1=http://0.0.0.0:2380",
				Bootstrap:      true,
			},
			Coordination: CoordinationConfig{
				RDBMSSyncEnabled: false,
				PollInterval:     time.Second,
				Breaker: BreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     30 * time.Second,
				},
			},
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	switch c.Storage.Type {
	case "memory":
	case "badger":
		if c.Storage.BadgerDir == "" {
			return fmt.Errorf("storage.badger_dir required for badger storage")
		}
	default:
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}

	if c.Pipeline.BufferSize < 1 {
		return fmt.Errorf("pipeline.buffer_size must be at least 1")
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertFile == "" {
			return fmt.Errorf("server.tls_cert_file required when TLS is enabled")
		}
		if c.Server.TLSKeyFile == "" {
			return fmt.Errorf("server.tls_key_file required when TLS is enabled")
		}
	}

	if c.Cluster.Enabled {
		if c.Cluster.NodeID == "" {
			return fmt.Errorf("cluster.node_id required when clustering is enabled")
		}
		if c.Cluster.Coordination.RDBMSSyncEnabled {
			if c.Cluster.Coordination.PostgresURL == "" {
				return fmt.Errorf("cluster.coordination.postgres_url required for relational synchronization")
			}
			if c.Cluster.Coordination.PollInterval < 10*time.Millisecond {
				return fmt.Errorf("cluster.coordination.poll_interval must be at least 10ms")
			}
		} else {
			if c.Cluster.Etcd.BindAddr == "" {
				return fmt.Errorf("cluster.etcd.bind_addr required when clustering is enabled")
			}
			if c.Cluster.Etcd.ClientAddr == "" {
				return fmt.Errorf("cluster.etcd.client_addr required when clustering is enabled")
			}
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
