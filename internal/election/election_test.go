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

package election

import (
	"context"
	"sync"
	"testing"
	"time"

	"kvraft/internal/backend"
	"kvraft/internal/envelope"
	"kvraft/internal/store"
)

// fakeDialer answers vote requests and heartbeats from canned per-peer
// scripts, recording every call it receives.
type fakeDialer struct {
	mu        sync.Mutex
	addr      string
	peers     []string
	voteReply map[string]*envelope.Envelope
	hbReply   map[string]*envelope.Envelope
	hbCalls   int
}

func (f *fakeDialer) Addr() string    { return f.addr }
func (f *fakeDialer) Peers() []string { return f.peers }
func (f *fakeDialer) SendVoteRequest(peer string, req envelope.Envelope) (*envelope.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voteReply[peer], nil
}
func (f *fakeDialer) SendHeartbeat(peer string, msg envelope.Envelope) (*envelope.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hbCalls++
	return f.hbReply[peer], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(backend.NewMemoryStore(), t.TempDir(), "OrderedLog")
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	return s
}

func TestNewElectionStartsFollower(t *testing.T) {
	e := New("127.0.0.1:5000", newTestStore(t), 150*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)
	if e.Role() != RoleFollower {
		t.Errorf("Role() = %v, want Follower", e.Role())
	}
	if e.Term() != 0 {
		t.Errorf("Term() = %d, want 0", e.Term())
	}
}

func TestSingleNodeClusterBecomesLeaderImmediately(t *testing.T) {
	e := New("127.0.0.1:5000", newTestStore(t), 1*time.Millisecond, 2*time.Millisecond, 5*time.Millisecond)
	dialer := &fakeDialer{addr: "127.0.0.1:5000"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.TimerLoop(ctx, dialer)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.Role() == RoleLeader {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if e.Role() != RoleLeader {
		t.Fatalf("Role() = %v, want Leader", e.Role())
	}
	if e.Leader() != "127.0.0.1:5000" {
		t.Errorf("Leader() = %q, want self", e.Leader())
	}
}

func TestStartElectionWinsMajority(t *testing.T) {
	e := New("127.0.0.1:5000", newTestStore(t), 150*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)
	dialer := &fakeDialer{
		addr:  "127.0.0.1:5000",
		peers: []string{"127.0.0.1:5001", "127.0.0.1:5002"},
		voteReply: map[string]*envelope.Envelope{
			"127.0.0.1:5001": {Term: 1, Choice: true},
			"127.0.0.1:5002": {Term: 1, Choice: true},
		},
	}

	e.StartElection(dialer)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && e.Role() != RoleLeader {
		time.Sleep(2 * time.Millisecond)
	}
	if e.Role() != RoleLeader {
		t.Fatalf("Role() = %v, want Leader", e.Role())
	}
	if e.Term() != 1 {
		t.Errorf("Term() = %d, want 1", e.Term())
	}
}

func TestStartElectionStepsDownOnHigherTerm(t *testing.T) {
	e := New("127.0.0.1:5000", newTestStore(t), 150*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)
	dialer := &fakeDialer{
		addr:  "127.0.0.1:5000",
		peers: []string{"127.0.0.1:5001"},
		voteReply: map[string]*envelope.Envelope{
			"127.0.0.1:5001": {Term: 5, Choice: false},
		},
	}

	e.StartElection(dialer)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && e.Term() < 5 {
		time.Sleep(2 * time.Millisecond)
	}
	if e.Role() != RoleFollower {
		t.Errorf("Role() = %v, want Follower after higher term seen", e.Role())
	}
	if e.Term() != 5 {
		t.Errorf("Term() = %d, want 5", e.Term())
	}
}

func TestDecideVoteGrantsWhenBehindAndCaughtUp(t *testing.T) {
	e := New("127.0.0.1:5000", newTestStore(t), 150*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)

	choice, term := e.DecideVote(3, 0, &envelope.Entry{Key: "k", Value: "v"})
	if !choice {
		t.Error("DecideVote() choice = false, want true")
	}
	if term != 3 {
		t.Errorf("DecideVote() term = %d, want 3", term)
	}
	if e.Term() != 3 {
		t.Errorf("Term() after grant = %d, want 3", e.Term())
	}
}

func TestDecideVoteRefusesWhenAlreadyAtOrAheadOfCandidateTerm(t *testing.T) {
	e := New("127.0.0.1:5000", newTestStore(t), 150*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)
	e.StartElection(&fakeDialer{addr: "127.0.0.1:5000"}) // bumps own term to 1, no peers to wait on

	choice, _ := e.DecideVote(1, 0, &envelope.Entry{Key: "k", Value: "v"})
	if choice {
		t.Error("DecideVote() choice = true, want false (candidate term not ahead)")
	}
}

func TestHeartbeatHandlerStepsDownAndRecordsLeader(t *testing.T) {
	e := New("127.0.0.1:5000", newTestStore(t), 150*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)
	e.StartElection(&fakeDialer{addr: "127.0.0.1:5000"}) // term 1, becomes Leader (no peers)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && e.Role() != RoleLeader {
		time.Sleep(time.Millisecond)
	}

	term, _ := e.HeartbeatHandler(envelope.Envelope{Type: envelope.TypeHeartbeat, Term: 2, Addr: "127.0.0.1:5001"})
	if term != 2 {
		t.Errorf("HeartbeatHandler() term = %d, want 2", term)
	}
	if e.Role() != RoleFollower {
		t.Errorf("Role() = %v, want Follower after heartbeat from higher term", e.Role())
	}
	if e.Leader() != "127.0.0.1:5001" {
		t.Errorf("Leader() = %q, want 127.0.0.1:5001", e.Leader())
	}
}

func TestHeartbeatHandlerDelegatesActionToStore(t *testing.T) {
	st := newTestStore(t)
	e := New("127.0.0.1:5000", st, 150*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)

	msg := envelope.Envelope{
		Type:   envelope.TypeHeartbeat,
		Term:   1,
		Addr:   "127.0.0.1:5001",
		Action: envelope.ActionLog,
		Staged: &envelope.Entry{Key: "k", Value: "v"},
	}
	e.HeartbeatHandler(msg)

	if st.Staged() == nil || st.Staged().Key != "k" {
		t.Errorf("Staged() = %+v, want adopted entry for key k", st.Staged())
	}
}
