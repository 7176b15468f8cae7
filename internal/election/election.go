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

// Package election implements the per-node role state machine (Follower,
// Candidate, Leader), the randomized election timer, vote solicitation,
// and the leader's heartbeat loop. Grounded on the teacher's
// internal/cluster/raft.go (RaftState enum, term/votedFor fields, a
// guarding sync.Mutex rather than RWMutex because role transitions and
// reads interleave tightly here), restructured around raftnode's
// election.py state/timer semantics.
package election

import (
	"context"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"kvraft/internal/envelope"
	"kvraft/internal/logging"
	"kvraft/internal/store"
)

// Role is this node's position in the Follower/Candidate/Leader state
// machine.
type Role int32

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "FOLLOWER"
	case RoleCandidate:
		return "CANDIDATE"
	case RoleLeader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// Dialer is the slice of Transport that Election needs to solicit votes
// and drive heartbeats. Election holds a non-owning reference to it
// (spec's design note on cross-component handles).
type Dialer interface {
	Addr() string
	Peers() []string
	SendVoteRequest(peer string, req envelope.Envelope) (*envelope.Envelope, error)
	SendHeartbeat(peer string, msg envelope.Envelope) (*envelope.Envelope, error)
}

// Election holds one node's role, term, and vote/heartbeat machinery.
type Election struct {
	mu sync.Mutex

	role      Role
	term      uint64
	voteCount int
	leader    string
	deadline  time.Time

	addr  string
	store *store.Store

	lowTimeout  time.Duration
	highTimeout time.Duration
	hbTime      time.Duration

	rng    *rand.Rand
	logger *logging.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs an Election for the node at addr, backed by st.
func New(addr string, st *store.Store, lowTimeout, highTimeout, hbTime time.Duration) *Election {
	e := &Election{
		role:        RoleFollower,
		addr:        addr,
		store:       st,
		lowTimeout:  lowTimeout,
		highTimeout: highTimeout,
		hbTime:      hbTime,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:      logging.NewLogger("election"),
		done:        make(chan struct{}),
	}
	e.armTimerLocked()
	return e
}

// Close signals every running vote and heartbeat worker to stop. Safe
// to call more than once; safe to call even if no worker is running.
func (e *Election) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// Role returns the current role.
func (e *Election) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Term returns the current term.
func (e *Election) Term() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.term
}

// Leader returns the last observed leader address, possibly stale or
// empty.
func (e *Election) Leader() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// armTimerLocked sets a fresh randomized deadline. Caller must hold e.mu.
func (e *Election) armTimerLocked() {
	span := e.highTimeout - e.lowTimeout
	jitter := time.Duration(0)
	if span > 0 {
		jitter = time.Duration(e.rng.Int63n(int64(span)))
	}
	e.deadline = time.Now().Add(e.lowTimeout + jitter)
}

// ResetTimer re-arms the election deadline, used whenever this node
// observes proof of a live leader or candidate.
func (e *Election) ResetTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armTimerLocked()
}

// setRoleLocked transitions to role, funneling every transition through
// one place so a stale worker cannot resurrect a retired role. Caller
// must hold e.mu.
func (e *Election) setRoleLocked(role Role) {
	if e.role != role {
		e.logger.Info("role transition", "from", e.role, "to", role, "term", e.term)
	}
	e.role = role
}

// TimerLoop is the election timer activity: it sleeps until the
// deadline and, if not Leader, starts an election. Runs until ctx is
// done. Dormant (never starts an election) while Leader.
func (e *Election) TimerLoop(ctx context.Context, dialer Dialer) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			expired := !e.deadline.IsZero() && time.Now().After(e.deadline)
			isLeader := e.role == RoleLeader
			e.mu.Unlock()
			if isLeader || !expired {
				continue
			}
			e.StartElection(dialer)
		}
	}
}

// StartElection begins a new term as Candidate and self-votes. With no
// known peers, the self-vote alone already satisfies a majority of one
// and the node becomes Leader on the spot (spec §8 "single-node cluster
// ... becomes Leader immediately on first election"). Otherwise it
// spawns one vote-request worker per known peer.
func (e *Election) StartElection(dialer Dialer) {
	e.mu.Lock()
	e.term++
	term := e.term
	e.voteCount = 1
	e.setRoleLocked(RoleCandidate)
	e.armTimerLocked()
	commitID := e.storeCommitIndex()
	staged := e.store.Staged()
	peers := dialer.Peers()
	majority := store.Majority(len(peers))
	wonOutright := e.voteCount >= majority
	if wonOutright {
		e.setRoleLocked(RoleLeader)
		e.leader = e.addr
	}
	e.mu.Unlock()

	e.logger.Info("starting election", "term", term)

	if wonOutright {
		e.StartHeartbeat(dialer)
		return
	}

	req := envelope.Envelope{
		Type:     envelope.TypeVoteRequest,
		Term:     term,
		CommitID: commitID,
		Staged:   staged,
	}
	for _, peer := range peers {
		go e.voteWorker(dialer, peer, term, req, majority)
	}
}

// voteWorker solicits one peer's vote, repeating the request (paced by
// hbTime) while this node is still Candidate of term and no reply has
// arrived. The first reply ends the loop and is tallied below.
func (e *Election) voteWorker(dialer Dialer, peer string, term uint64, req envelope.Envelope, majority int) {
	var reply *envelope.Envelope
	for {
		select {
		case <-e.done:
			return
		default:
		}

		e.mu.Lock()
		stillCandidate := e.role == RoleCandidate && e.term == term
		e.mu.Unlock()
		if !stillCandidate {
			return
		}

		r, err := dialer.SendVoteRequest(peer, req)
		if err == nil && r != nil {
			reply = r
			break
		}
		select {
		case <-e.done:
			return
		case <-time.After(e.hbTime):
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != RoleCandidate || e.term != term {
		return
	}
	if reply.Choice {
		e.voteCount++
		if e.voteCount >= majority {
			e.setRoleLocked(RoleLeader)
			e.leader = e.addr
			go e.StartHeartbeat(dialer)
		}
		return
	}
	if reply.Term > e.term {
		e.term = reply.Term
		e.setRoleLocked(RoleFollower)
		e.armTimerLocked()
	}
}

// DecideVote implements the vote_request handler. It resets the timer
// unconditionally (the request is itself proof of a live contacter),
// then grants iff this node's term is behind the candidate's, this
// node's commit index does not exceed the candidate's, and either the
// candidate has something staged or the two staged entries match
// (spec §9: an intentionally preserved, non-standard predicate).
func (e *Election) DecideVote(candTerm, candCommitID uint64, candStaged *envelope.Entry) (bool, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armTimerLocked()

	myCommitID := e.storeCommitIndex()
	myStaged := e.store.Staged()

	grant := e.term < candTerm &&
		myCommitID <= candCommitID &&
		(candStaged != nil || stagedEqual(myStaged, candStaged))

	if grant {
		e.term = candTerm
		e.setRoleLocked(RoleFollower)
	}
	return grant, e.term
}

func stagedEqual(a, b *envelope.Entry) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(*a, *b)
}

// NotifyPeerJoined folds a freshly gossiped-in peer into this node's
// heartbeat fan-out immediately, rather than waiting for the next
// election cycle, if this node is currently Leader. Grounded on the
// original raftnode's transport.add_peer calling election.start_heartbeat()
// on every new peer; scoped here to just the new peer (instead of
// restarting every peer's worker) to preserve spec §5's "one heartbeat
// worker per peer" invariant.
func (e *Election) NotifyPeerJoined(dialer Dialer, peer string) {
	e.mu.Lock()
	isLeader := e.role == RoleLeader
	term := e.term
	e.mu.Unlock()
	if isLeader {
		go e.heartbeatWorker(dialer, peer, term)
	}
}

// StartHeartbeat is invoked exactly once, on becoming Leader. If an
// entry was left staged by a previous term, it is replayed through
// Store so the new leader's authority completes it; then one heartbeat
// worker per peer is spawned.
func (e *Election) StartHeartbeat(dialer Dialer) {
	e.mu.Lock()
	term := e.term
	staged := e.store.Staged()
	e.mu.Unlock()

	if staged != nil {
		majority := store.Majority(len(dialer.Peers()))
		if staged.Delete {
			e.store.Delete(term, *staged, dialer, majority)
		} else {
			e.store.Put(term, *staged, dialer, majority)
		}
	}

	for _, peer := range dialer.Peers() {
		go e.heartbeatWorker(dialer, peer, term)
	}
}

// heartbeatWorker loops while this node remains Leader of term,
// probing the follower for catch-up before each steady-state beat and
// pacing each iteration to hbTime regardless of round-trip time.
func (e *Election) heartbeatWorker(dialer Dialer, peer string, term uint64) {
	for {
		select {
		case <-e.done:
			return
		default:
		}

		iterStart := time.Now()

		e.mu.Lock()
		stillLeader := e.role == RoleLeader && e.term == term
		e.mu.Unlock()
		if !stillLeader {
			return
		}

		if log := e.store.Log(); len(log) > 0 {
			e.catchUp(dialer, peer, term, log)
		}

		beat := envelope.Envelope{Type: envelope.TypeHeartbeat, Term: term, Addr: dialer.Addr()}
		reply, err := dialer.SendHeartbeat(peer, beat)
		if err == nil && reply != nil && reply.Term > term {
			e.mu.Lock()
			if reply.Term > e.term {
				e.term = reply.Term
			}
			e.setRoleLocked(RoleFollower)
			e.armTimerLocked()
			e.mu.Unlock()
			return
		}

		if elapsed := time.Since(iterStart); elapsed < e.hbTime {
			select {
			case <-e.done:
				return
			case <-time.After(e.hbTime - elapsed):
			}
		}
	}
}

const catchUpBatchSize = 4

// catchUp probes the follower's commit_id and, if behind, ships the
// missing tail of the log in batches (spec §4.2 Log catch-up).
func (e *Election) catchUp(dialer Dialer, peer string, term uint64, log []envelope.Entry) {
	probe := envelope.Envelope{Type: envelope.TypeHeartbeat, Term: term, Addr: dialer.Addr()}
	reply, err := dialer.SendHeartbeat(peer, probe)
	if err != nil || reply == nil {
		return
	}
	leaderCID := log[len(log)-1].CommitID
	if reply.CommitID >= leaderCID {
		return
	}

	var tail []envelope.Entry
	for _, entry := range log {
		if entry.CommitID > reply.CommitID {
			tail = append(tail, entry)
		}
	}
	for start := 0; start < len(tail); start += catchUpBatchSize {
		end := start + catchUpBatchSize
		if end > len(tail) {
			end = len(tail)
		}
		batch := envelope.Envelope{
			Type:     envelope.TypeHeartbeat,
			Term:     term,
			Addr:     dialer.Addr(),
			Action:   envelope.ActionCommit,
			CommitID: leaderCID,
			Entries:  tail[start:end],
		}
		dialer.SendHeartbeat(peer, batch)
	}
}

// HeartbeatHandler implements the follower-side handler for inbound
// heartbeat envelopes: it adopts the sender's term and records it as
// leader whenever msg.Term >= this node's term, stepping down from
// Candidate/Leader if necessary, then delegates replication actions to
// Store.
func (e *Election) HeartbeatHandler(msg envelope.Envelope) (uint64, uint64) {
	e.mu.Lock()
	if msg.Term >= e.term {
		e.leader = msg.Addr
		e.armTimerLocked()
		if e.role != RoleFollower {
			e.setRoleLocked(RoleFollower)
		}
		e.term = msg.Term
	}
	e.mu.Unlock()

	if msg.Action != "" {
		e.store.ActionHandler(msg)
	}

	return e.Term(), e.storeCommitIndex()
}

func (e *Election) storeCommitIndex() uint64 {
	return e.store.CommitIndex()
}
