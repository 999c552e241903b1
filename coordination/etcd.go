// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.etcd.io/etcd/server/v3/embed"
)

const (
	notifyPrefix = "/relaymq/notify/"

	// Session TTL in seconds. A node cut off longer than this loses its
	// lease and, with it, its channel subscriptions' backing entries.
	sessionTTL = 10
)

// LifecycleState describes the distributed runtime's lifecycle.
type LifecycleState string

const (
	// StateConnected: the runtime joined the cluster.
	StateConnected LifecycleState = "connected"

	// StateMerged: a partition healed and this node was reconciled into the
	// surviving cluster view. Subscriptions held before the partition are
	// gone and must be re-registered.
	StateMerged LifecycleState = "merged"

	// StateShutdown: the runtime is going away.
	StateShutdown LifecycleState = "shutdown"
)

var _ Mesh = (*EtcdMesh)(nil)

// EtcdMesh implements the Mesh transport over etcd. A channel is a key
// prefix: publishing puts a leased entry under it, subscribing watches it.
// Watch events arrive in revision order, so delivery within a channel is
// FIFO per publisher.
//
// The mesh also monitors its lease session. Losing the session means this
// node sat on the losing side of a partition; once a new session is
// established the mesh reports StateMerged to its lifecycle listeners.
type EtcdMesh struct {
	client *clientv3.Client
	logger *slog.Logger

	mu        sync.Mutex
	session   *concurrency.Session
	subs      map[string]context.CancelFunc
	listeners []func(LifecycleState)

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewEtcdMesh creates a mesh over an existing etcd client and begins
// monitoring the cluster runtime lifecycle.
func NewEtcdMesh(client *clientv3.Client, logger *slog.Logger) (*EtcdMesh, error) {
	if logger == nil {
		logger = slog.Default()
	}

	session, err := concurrency.NewSession(client, concurrency.WithTTL(sessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime session: %w", err)
	}

	m := &EtcdMesh{
		client:  client,
		logger:  logger,
		session: session,
		subs:    make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.monitorSession()

	m.emit(StateConnected)
	return m, nil
}

// RegisterLifecycleListener subscribes fn to lifecycle transitions. The
// callback runs on the mesh's monitor goroutine and must be fast and
// idempotent.
func (m *EtcdMesh) RegisterLifecycleListener(fn func(LifecycleState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OpenChannel subscribes recv to the named channel and returns its publish
// handle. An existing subscription for the name is replaced, never
// duplicated.
func (m *EtcdMesh) OpenChannel(_ context.Context, name string, recv func(payload []byte)) (Channel, error) {
	m.mu.Lock()
	if cancel, ok := m.subs[name]; ok {
		cancel()
	}
	wctx, cancel := context.WithCancel(context.Background())
	m.subs[name] = cancel
	m.mu.Unlock()

	wch := m.client.Watch(wctx, notifyPrefix+name+"/", clientv3.WithPrefix())
	go func() {
		for resp := range wch {
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypePut {
					recv(ev.Kv.Value)
				}
			}
		}
	}()

	return &etcdChannel{mesh: m, name: name}, nil
}

// Close tears down subscriptions and the runtime session.
func (m *EtcdMesh) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.subs {
		cancel()
	}
	m.subs = make(map[string]context.CancelFunc)
	if m.session != nil {
		return m.session.Close()
	}
	return nil
}

func (m *EtcdMesh) monitorSession() {
	defer close(m.done)

	for {
		m.mu.Lock()
		sessionDone := m.session.Done()
		m.mu.Unlock()

		select {
		case <-m.stopCh:
			m.emit(StateShutdown)
			return
		case <-sessionDone:
			m.logger.Warn("cluster runtime session lost, assuming network partition")
			if !m.reestablishSession() {
				return
			}
			m.logger.Info("cluster runtime session re-established after partition")
			m.emit(StateMerged)
		}
	}
}

// reestablishSession retries until a new session is granted or the mesh is
// stopped. Reports false when stopped.
func (m *EtcdMesh) reestablishSession() bool {
	for {
		session, err := concurrency.NewSession(m.client, concurrency.WithTTL(sessionTTL))
		if err == nil {
			m.mu.Lock()
			m.session = session
			m.mu.Unlock()
			return true
		}

		m.logger.Warn("failed to re-establish runtime session", "error", err)
		select {
		case <-m.stopCh:
			m.emit(StateShutdown)
			return false
		case <-time.After(time.Second):
		}
	}
}

func (m *EtcdMesh) emit(state LifecycleState) {
	m.mu.Lock()
	listeners := make([]func(LifecycleState), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func (m *EtcdMesh) lease() clientv3.LeaseID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Lease()
}

// etcdChannel publishes to a channel's key prefix.
type etcdChannel struct {
	mesh *EtcdMesh
	name string
}

func (c *etcdChannel) Name() string {
	return c.name
}

func (c *etcdChannel) Publish(ctx context.Context, payload []byte) error {
	key := notifyPrefix + c.name + "/" + uuid.New().String()
	// Entries carry the session lease so stale notifications expire with it.
	_, err := c.mesh.client.Put(ctx, key, string(payload), clientv3.WithLease(c.mesh.lease()))
	return err
}

// EtcdServerConfig holds embedded etcd configuration.
type EtcdServerConfig struct {
	NodeID         string
	DataDir        string
	BindAddr       string
	ClientAddr     string
	AdvertiseAddr  string
	InitialCluster string
	Bootstrap      bool
}

// StartEmbeddedEtcd starts an embedded etcd server and returns it with a
// connected client.
func StartEmbeddedEtcd(cfg EtcdServerConfig) (*embed.Etcd, *clientv3.Client, error) {
	eCfg := embed.NewConfig()
	eCfg.Name = cfg.NodeID
	eCfg.Dir = cfg.DataDir

	peerURL, err := url.Parse("http://" + cfg.BindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid bind address: %w", err)
	}
	eCfg.ListenPeerUrls = []url.URL{*peerURL}

	if cfg.AdvertiseAddr != "" {
		advertiseURL, err := url.Parse("http://" + cfg.AdvertiseAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid advertise address: %w", err)
		}
		eCfg.AdvertisePeerUrls = []url.URL{*advertiseURL}
	} else {
		eCfg.AdvertisePeerUrls = []url.URL{*peerURL}
	}

	clientURL, err := url.Parse("http://" + cfg.ClientAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid client address: %w", err)
	}
	eCfg.ListenClientUrls = []url.URL{*clientURL}
	eCfg.AdvertiseClientUrls = []url.URL{*clientURL}

	eCfg.InitialCluster = cfg.InitialCluster
	if cfg.Bootstrap {
		eCfg.ClusterState = "new"
	} else {
		eCfg.ClusterState = "existing"
	}

	// Quiet etcd's own logging; the broker logs through slog.
	eCfg.Logger = "zap"
	eCfg.LogLevel = "error"

	e, err := embed.StartEtcd(eCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start etcd: %w", err)
	}

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(60 * time.Second):
		e.Server.Stop()
		return nil, nil, fmt.Errorf("etcd server took too long to start")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.ClientAddr},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		e.Close()
		return nil, nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return e, client, nil
}
