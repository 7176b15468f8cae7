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

// Package discovery finds other kvraft nodes on the local network
// segment via mDNS, as a convenience supplementing the gossip-based
// add_peer bootstrap protocol (spec §4.1): an operator can start a node
// with an empty --peers list and let it discover siblings instead of
// typing out addresses. Grounded on the teacher's
// cmd/flydb-discover/main.go, which calls a cluster.DiscoveryService
// with this same NodeID/Enabled/DiscoverNodes shape; that service's own
// source did not survive retrieval, so this package is rebuilt directly
// against github.com/hashicorp/mdns's real API rather than guessing at
// the teacher's internals.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"kvraft/internal/logging"
)

const serviceName = "_kvraft._tcp"

// Config configures advertisement of the local node over mDNS.
type Config struct {
	NodeID  string
	Addr    string // host:port this node listens on
	Enabled bool
}

// Service advertises this node's presence when Enabled; Stop is always
// safe to call even if Start never advertised anything.
type Service struct {
	cfg    Config
	server *mdns.Server
	logger *logging.Logger
}

// New constructs a Service for cfg.
func New(cfg Config) *Service {
	return &Service{cfg: cfg, logger: logging.NewLogger("discovery")}
}

// Start registers an mDNS record for the local node if cfg.Enabled; a
// no-op otherwise.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	_, portStr, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("discovery: parse addr %q: %w", s.cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("discovery: parse port %q: %w", portStr, err)
	}

	info := []string{"node_id=" + s.cfg.NodeID, "addr=" + s.cfg.Addr}
	svc, err := mdns.NewMDNSService(s.cfg.NodeID, serviceName, "", "", port, nil, info)
	if err != nil {
		return fmt.Errorf("discovery: build service record: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return fmt.Errorf("discovery: start mdns server: %w", err)
	}
	s.server = server
	s.logger.Info("advertising on mDNS", "node_id", s.cfg.NodeID, "addr", s.cfg.Addr)
	return nil
}

// Stop withdraws the mDNS advertisement, if one was started.
func (s *Service) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown()
}

// DiscoveredNode is one sibling found on the network.
type DiscoveredNode struct {
	NodeID string
	Addr   string
}

// DiscoverNodes browses for kvraft nodes for the given duration and
// returns every sibling found (deduplicated by address). It does not
// require a Service to be running locally.
func DiscoverNodes(timeout time.Duration) ([]*DiscoveredNode, error) {
	entries := make(chan *mdns.ServiceEntry, 32)
	found := make(chan []*DiscoveredNode, 1)

	go func() {
		seen := make(map[string]*DiscoveredNode)
		for e := range entries {
			addr := net.JoinHostPort(e.Addr.String(), strconv.Itoa(e.Port))
			nodeID := e.Name
			for _, field := range e.InfoFields {
				if strings.HasPrefix(field, "node_id=") {
					nodeID = strings.TrimPrefix(field, "node_id=")
				}
				if strings.HasPrefix(field, "addr=") {
					addr = strings.TrimPrefix(field, "addr=")
				}
			}
			seen[addr] = &DiscoveredNode{NodeID: nodeID, Addr: addr}
		}
		out := make([]*DiscoveredNode, 0, len(seen))
		for _, n := range seen {
			out = append(out, n)
		}
		found <- out
	}()

	params := mdns.DefaultParams(serviceName)
	params.Timeout = timeout
	params.Entries = entries
	err := mdns.Query(params)
	close(entries)
	nodes := <-found
	if err != nil {
		return nodes, fmt.Errorf("discovery: query: %w", err)
	}
	return nodes, nil
}
