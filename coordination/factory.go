// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"log/slog"
	"time"
)

// FactoryConfig selects the coordination backend.
type FactoryConfig struct {
	// ClusteringEnabled: when false, the broker runs standalone with no
	// cluster coordination at all.
	ClusteringEnabled bool

	// RDBMSSyncEnabled: when set alongside ClusteringEnabled, queue changes
	// flow through the shared relational log instead of the mesh.
	RDBMSSyncEnabled bool

	// NodeID identifies this node in outgoing notifications.
	NodeID string

	// PollInterval applies to the relational backend only.
	PollInterval time.Duration
}

// Factory constructs the coordination components for the configured backend.
// For the mesh backend the listener manager must be created before the agent:
// the agent publishes through channels the listener registers.
type Factory struct {
	cfg     FactoryConfig
	mesh    Mesh
	log     NotificationLog
	applier Applier
	logger  *slog.Logger

	meshListener *MeshListenerManager
}

// NewFactory creates a coordination factory. Pass the mesh handle or the
// notification log for the backend the configuration selects; the other may
// be nil.
func NewFactory(cfg FactoryConfig, mesh Mesh, log NotificationLog, applier Applier, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:     cfg,
		mesh:    mesh,
		log:     log,
		applier: applier,
		logger:  logger,
	}
}

// CreateListenerManager builds the listener manager for the configured
// backend. With clustering disabled there is nothing to listen to and the
// result is nil with no error.
func (f *Factory) CreateListenerManager() (ListenerManager, error) {
	switch {
	case !f.cfg.ClusteringEnabled:
		return nil, nil
	case f.cfg.RDBMSSyncEnabled:
		if f.log == nil {
			return nil, ErrBackendNotConfigured
		}
		f.logger.Info("relational store based cluster event synchronization enabled")
		return NewRDBMSListenerManager(f.log, f.cfg.NodeID, f.applier, f.cfg.PollInterval, f.logger), nil
	default:
		if f.mesh == nil {
			return nil, ErrBackendNotConfigured
		}
		f.meshListener = NewMeshListenerManager(f.mesh, f.cfg.NodeID, f.applier, f.logger)
		return f.meshListener, nil
	}
}

// CreateAgent builds the notification agent for the configured backend. The
// mesh agent depends on the mesh listener manager's channels, so requesting
// it before CreateListenerManager is a construction ordering error.
func (f *Factory) CreateAgent() (NotificationAgent, error) {
	switch {
	case !f.cfg.ClusteringEnabled:
		return NewNoopAgent(), nil
	case f.cfg.RDBMSSyncEnabled:
		if f.log == nil {
			return nil, ErrBackendNotConfigured
		}
		return NewRDBMSAgent(f.log, f.cfg.NodeID), nil
	default:
		if f.meshListener == nil {
			return nil, ErrAgentBeforeListener
		}
		return NewMeshAgent(f.meshListener, f.cfg.NodeID, f.logger), nil
	}
}

// MeshListener returns the mesh listener manager created by
// CreateListenerManager, or nil for other backends.
func (f *Factory) MeshListener() *MeshListenerManager {
	return f.meshListener
}
