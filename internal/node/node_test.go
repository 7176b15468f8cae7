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

package node

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"kvraft/internal/config"
	"kvraft/internal/election"
	"kvraft/internal/envelope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func newTestConfig(t *testing.T, addr string, peers []string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Addr = addr
	cfg.Peers = peers
	cfg.DataDir = t.TempDir()
	cfg.LowTimeout = 20 * time.Millisecond
	cfg.HighTimeout = 40 * time.Millisecond
	cfg.HBTime = 10 * time.Millisecond
	cfg.MaxLogWait = 200 * time.Millisecond
	cfg.PingEvery = 30 * time.Millisecond
	return cfg
}

func startCluster(t *testing.T, n int) []*Node {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = freeAddr(t)
	}

	nodes := make([]*Node, n)
	for i, addr := range addrs {
		peers := make([]string, 0, n-1)
		for _, other := range addrs {
			if other != addr {
				peers = append(peers, other)
			}
		}
		nd, err := New(newTestConfig(t, addr, peers))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		nodes[i] = nd
	}

	ctx, cancel := context.WithCancel(context.Background())
	for _, nd := range nodes {
		go nd.Run(ctx)
	}
	t.Cleanup(func() {
		cancel()
		for _, nd := range nodes {
			nd.Close()
		}
	})
	return nodes
}

func waitForLeader(t *testing.T, nodes []*Node, within time.Duration) *Node {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		for _, nd := range nodes {
			if nd.Election().Role() == election.RoleLeader {
				return nd
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no leader elected within deadline")
	return nil
}

func TestThreeNodeClusterElectsSingleLeader(t *testing.T) {
	nodes := startCluster(t, 3)
	leader := waitForLeader(t, nodes, 3*time.Second)

	time.Sleep(100 * time.Millisecond) // let followers observe a heartbeat

	leaderCount := 0
	for _, nd := range nodes {
		if nd.Election().Role() == election.RoleLeader {
			leaderCount++
		}
	}
	if leaderCount != 1 {
		t.Fatalf("%d nodes report Leader, want exactly 1", leaderCount)
	}
	_ = leader
}

func TestWriteReplicatesToFollowers(t *testing.T) {
	nodes := startCluster(t, 3)
	leader := waitForLeader(t, nodes, 3*time.Second)

	majority := 2
	ok, err := leader.Store().Put(leader.Election().Term(), envelope.Entry{Key: "name", Value: "John Doe"}, leader.transport, majority)
	if err != nil || !ok {
		t.Fatalf("Put() = %v, %v, want true, nil", ok, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, nd := range nodes {
		for time.Now().Before(deadline) {
			if v, _ := nd.Store().Get("name", ""); v == "John Doe" {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		v, _ := nd.Store().Get("name", "")
		if v != "John Doe" {
			t.Errorf("node %s Get(name) = %v, want John Doe", nd.cfg.Addr, v)
		}
	}
}
