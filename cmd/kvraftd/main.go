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

/*
kvraftd runs one node of a replicated key-value cluster.

Usage:

	kvraftd --ip 127.0.0.1:5000 --peers 127.0.0.1:5001,127.0.0.1:5002

Flags mirror spec §6's CLI surface; environment variables LOW_TIMEOUT,
HIGH_TIMEOUT, HB_TIME, MAX_LOG_WAIT, DATA_DIR, LOG_FILENAME,
DATA_FILENAME, LOG_LEVEL override their defaults, the same precedence
the original raftnode bootstrap used.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kvraft/internal/config"
	"kvraft/internal/logging"
	"kvraft/internal/node"
)

func main() {
	ip := flag.String("ip", "", "bind address and node identity, host:port (required)")
	peers := flag.String("peers", "", "comma-separated bootstrap peer list, host:port,host:port")
	timeoutSec := flag.Float64("timeout", 1.0, "liveness-ping interval in seconds")
	store := flag.String("store", "memory", "storage backend: memory or database")
	database := flag.String("database", "default", "namespace for the persistent backend")
	volume := flag.String("volume", "data", "data directory root")
	discover := flag.Bool("discover", false, "advertise and browse for peers via mDNS")
	flag.Parse()

	if *ip == "" {
		fmt.Fprintln(os.Stderr, "kvraftd: --ip is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.DefaultConfig()
	cfg.Addr = *ip
	cfg.Peers = splitPeers(*peers)
	cfg.PingEvery = time.Duration(*timeoutSec * float64(time.Second))
	cfg.Store = *store
	cfg.Database = *database
	cfg.DataDir = *volume
	cfg.DiscoveryEnabled = *discover

	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "kvraftd: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "kvraftd: %v\n", err)
		os.Exit(2)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLogger("kvraftd")

	n, err := node.New(cfg)
	if err != nil {
		logger.Error("failed to construct node", "err", err)
		os.Exit(1)
	}
	defer n.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting node", "addr", cfg.Addr, "peers", cfg.Peers, "store", cfg.Store)
	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("node exited", "err", err)
		os.Exit(1)
	}
}

func splitPeers(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	peers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}
