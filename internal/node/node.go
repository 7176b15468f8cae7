/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package node is the top-level composition root: it wires Store,
// Election, and Transport together and supervises their background
// activities. Construction order is Store, then Election, then
// Transport (which binds the listener); Transport is not built before
// Election, because transport.New takes the Election as an argument. Grounded on the teacher's membership manager
// Start/Stop lifecycle (internal/cluster/membership.go), restructured
// around golang.org/x/sync/errgroup instead of a raw sync.WaitGroup so
// a fatal activity (e.g. the accept loop losing its socket) tears down
// every sibling activity together.
package node

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kvraft/internal/backend"
	"kvraft/internal/config"
	"kvraft/internal/discovery"
	"kvraft/internal/election"
	"kvraft/internal/logging"
	"kvraft/internal/store"
	"kvraft/internal/transport"
)

// Node owns one cluster member's full stack.
type Node struct {
	cfg       *config.Config
	store     *store.Store
	election  *election.Election
	transport *transport.Transport
	discovery *discovery.Service
	logger    *logging.Logger
}

// New constructs a Node from cfg. The listener is bound before New
// returns (spec §4.4: "Transport (binds the listener immediately)").
func New(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ds, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.New(ds, cfg.DataDir, cfg.LogFilename, store.WithMaxLogWait(cfg.MaxLogWait))
	if err != nil {
		return nil, fmt.Errorf("node: construct store: %w", err)
	}

	el := election.New(cfg.Addr, st, cfg.LowTimeout, cfg.HighTimeout, cfg.HBTime)

	tr, err := transport.New(cfg.Addr, st, el, cfg.PingEvery)
	if err != nil {
		return nil, fmt.Errorf("node: construct transport: %w", err)
	}

	disc := discovery.New(discovery.Config{
		NodeID:  cfg.Addr,
		Addr:    cfg.Addr,
		Enabled: cfg.DiscoveryEnabled,
	})

	return &Node{
		cfg:       cfg,
		store:     st,
		election:  el,
		transport: tr,
		discovery: disc,
		logger:    logging.NewLogger("node"),
	}, nil
}

func newBackend(cfg *config.Config) (backend.Datastore, error) {
	switch cfg.Store {
	case "database":
		return backend.NewDiskStore(cfg.DataDir, cfg.Database), nil
	case "memory":
		return backend.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("node: unknown store backend %q", cfg.Store)
	}
}

// Run starts every background activity (accept loop, liveness pinger,
// election timer, mDNS advertisement) and gossips to the bootstrap peer
// list. It blocks until ctx is cancelled or a supervised activity
// returns a fatal error, at which point every sibling is torn down.
func (n *Node) Run(ctx context.Context) error {
	if err := n.discovery.Start(); err != nil {
		n.logger.Warn("mDNS advertisement failed to start", "err", err)
	}
	defer n.discovery.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.transport.Serve(gctx) })
	g.Go(func() error { n.transport.LivenessPinger(gctx); return nil })
	g.Go(func() error { n.election.TimerLoop(gctx, n.transport); return nil })

	n.transport.Bootstrap(n.cfg.Peers)
	if n.cfg.DiscoveryEnabled {
		go n.discoverAndBootstrap()
	}

	n.logger.Info("node running", "addr", n.cfg.Addr, "peers", n.cfg.Peers)
	err := g.Wait()
	n.election.Close()
	return err
}

func (n *Node) discoverAndBootstrap() {
	nodes, err := discovery.DiscoverNodes(n.cfg.PingEvery)
	if err != nil {
		n.logger.Warn("mDNS discovery failed", "err", err)
		return
	}
	addrs := make([]string, 0, len(nodes))
	for _, found := range nodes {
		addrs = append(addrs, found.Addr)
	}
	n.transport.Bootstrap(addrs)
}

// Store exposes the node's store for a client-facing CLI sharing the
// same process (not used by the networked client, which speaks the
// wire protocol instead).
func (n *Node) Store() *store.Store { return n.store }

// Election exposes the node's election state for diagnostics.
func (n *Node) Election() *election.Election { return n.election }

// Close releases the listening socket and mDNS advertisement and stops
// any running election workers.
func (n *Node) Close() error {
	n.discovery.Stop()
	n.election.Close()
	return n.transport.Close()
}
