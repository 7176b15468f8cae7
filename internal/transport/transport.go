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

// Package transport owns the node's listening socket, the peer-address
// set, and every outbound connection to a peer or client. Grounded on
// the teacher's internal/cluster membership accept/dispatch loop
// (acceptConnections/handleConnection in membership.go), restructured
// around a single tagged envelope.Envelope rather than the teacher's
// GossipMessage, and wired to golang.org/x/net/netutil.LimitListener
// to bound concurrent inbound connections the way a production listener
// should.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"kvraft/internal/election"
	"kvraft/internal/envelope"
	"kvraft/internal/errkind"
	"kvraft/internal/logging"
	"kvraft/internal/store"
)

// maxConns bounds simultaneous inbound connections per node; each
// exchange is one request/reply round trip so this is generous headroom
// for a bursty cluster, not a steady-state concurrency target.
const maxConns = 256

const dialTimeout = 2 * time.Second
const ioTimeout = 2 * time.Second

// Transport accepts inbound envelopes and dials peers to send outbound
// ones. It exclusively owns the listener and the peer set (spec §3
// "Ownership").
type Transport struct {
	mu    sync.Mutex
	addr  string
	peers map[string]struct{}

	listener net.Listener

	election *election.Election
	store    *store.Store

	pingEvery time.Duration
	logger    *logging.Logger
}

// New binds the listening socket at addr and returns a ready Transport.
// Election and Store are non-owning references (spec §9 "Cross-component
// handles").
func New(addr string, st *store.Store, el *election.Election, pingEvery time.Duration) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errkind.TransportTransient(fmt.Sprintf("listen on %s", addr), err)
	}
	return &Transport{
		addr:      addr,
		peers:     make(map[string]struct{}),
		listener:  netutil.LimitListener(ln, maxConns),
		election:  el,
		store:     st,
		pingEvery: pingEvery,
		logger:    logging.NewLogger("transport"),
	}, nil
}

// Addr returns this node's own address.
func (t *Transport) Addr() string { return t.addr }

// Peers returns a snapshot of the current peer set, excluding self.
func (t *Transport) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p)
	}
	return out
}

// addPeer inserts addr into the peer set if it isn't self. Idempotent;
// reports whether addr was newly inserted.
func (t *Transport) addPeer(addr string) bool {
	if addr == "" || addr == t.addr {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.peers[addr]; known {
		return false
	}
	t.peers[addr] = struct{}{}
	return true
}

func (t *Transport) removePeer(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, addr)
}

// Close releases the listening socket.
func (t *Transport) Close() error {
	return t.listener.Close()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each connection is handled by its own short-lived goroutine.
func (t *Transport) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.listener.Close()
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errkind.TransportTransient("accept", err)
			}
		}
		go t.handleConn(conn)
	}
}

// handleConn reads exactly one envelope, dispatches it, writes exactly
// one reply, then closes the connection (spec §6 wire protocol).
func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	req, err := readEnvelope(conn)
	if err != nil {
		t.logger.Debug("malformed inbound envelope, dropping", "err", err)
		return
	}

	reply := t.dispatch(*req)
	if reply == nil {
		return
	}
	writeEnvelope(conn, reply)
}

// dispatch routes a decoded envelope to the handler for its type. The
// reference looks up handle_<msg_type> by name; this is the explicit
// dispatch table the design notes ask for instead.
func (t *Transport) dispatch(env envelope.Envelope) *envelope.Envelope {
	switch env.Type {
	case envelope.TypeAddPeer:
		return t.handleAddPeer(env)
	case envelope.TypePing:
		return t.handlePing(env)
	case envelope.TypeHeartbeat:
		return t.handleHeartbeat(env)
	case envelope.TypeVoteRequest:
		return t.handleVoteRequest(env)
	case envelope.TypePut:
		return t.handleWrite(env, false)
	case envelope.TypeDelete:
		return t.handleWrite(env, true)
	case envelope.TypeGet:
		return t.handleGet(env)
	case envelope.TypePeers:
		return t.handlePeers(env)
	default:
		t.logger.Debug("unknown envelope type, dropping", "type", env.Type)
		return nil
	}
}

func (t *Transport) handleAddPeer(env envelope.Envelope) *envelope.Envelope {
	sender, _ := env.Payload.(string)
	if sender == "" {
		sender = env.Sender
	}
	if t.addPeer(sender) {
		t.election.NotifyPeerJoined(t, sender)
	}
	return &envelope.Envelope{Type: envelope.TypeAddPeer, Payload: t.Peers()}
}

func (t *Transport) handlePing(envelope.Envelope) *envelope.Envelope {
	return &envelope.Envelope{IsAlive: true, Addr: t.addr}
}

func (t *Transport) handleHeartbeat(env envelope.Envelope) *envelope.Envelope {
	term, commitID := t.election.HeartbeatHandler(env)
	return &envelope.Envelope{Term: term, CommitID: commitID}
}

func (t *Transport) handleVoteRequest(env envelope.Envelope) *envelope.Envelope {
	choice, term := t.election.DecideVote(env.Term, env.CommitID, env.Staged)
	return &envelope.Envelope{Term: term, Choice: choice}
}

// handleWrite serves put/delete, redirecting to the leader when this
// node isn't one.
func (t *Transport) handleWrite(env envelope.Envelope, isDelete bool) *envelope.Envelope {
	if t.election.Role() != election.RoleLeader {
		return t.redirectToLeader(env)
	}

	majority := store.Majority(len(t.Peers()))
	entry := envelope.Entry{Key: env.Key, Value: env.Value, Namespace: env.Namespace}

	var ok bool
	var err error
	if isDelete {
		ok, err = t.store.Delete(t.election.Term(), entry, t, majority)
	} else {
		ok, err = t.store.Put(t.election.Term(), entry, t, majority)
	}
	if err != nil {
		t.logger.Warn("write failed", "key", env.Key, "err", err)
	}
	return &envelope.Envelope{Type: env.Type, Data: ok}
}

func (t *Transport) handleGet(env envelope.Envelope) *envelope.Envelope {
	if t.election.Role() != election.RoleLeader {
		return t.redirectToLeader(env)
	}
	v, err := t.store.Get(env.Key, env.Namespace)
	if err != nil {
		t.logger.Warn("get failed", "key", env.Key, "err", err)
		return &envelope.Envelope{Type: envelope.TypeGet, Data: nil}
	}
	return &envelope.Envelope{Type: envelope.TypeGet, Data: v}
}

func (t *Transport) handlePeers(env envelope.Envelope) *envelope.Envelope {
	if t.election.Role() != election.RoleLeader {
		return t.redirectToLeader(env)
	}
	return &envelope.Envelope{Type: envelope.TypePeers, Peers: t.Peers()}
}

// redirectToLeader forwards the raw client envelope to the known leader
// and relays its reply verbatim (spec §4.1 "Leader redirection").
func (t *Transport) redirectToLeader(env envelope.Envelope) *envelope.Envelope {
	leader := t.election.Leader()
	if leader == "" {
		return &envelope.Envelope{Data: "leader unavailable"}
	}
	reply, err := t.roundTrip(leader, env)
	if err != nil || reply == nil {
		return &envelope.Envelope{Data: "leader unavailable"}
	}
	return reply
}

// SendHeartbeat implements store.Broadcaster and election.Dialer.
func (t *Transport) SendHeartbeat(peer string, msg envelope.Envelope) (*envelope.Envelope, error) {
	msg.Type = envelope.TypeHeartbeat
	return t.roundTrip(peer, msg)
}

// SendVoteRequest implements election.Dialer.
func (t *Transport) SendVoteRequest(peer string, req envelope.Envelope) (*envelope.Envelope, error) {
	req.Type = envelope.TypeVoteRequest
	return t.roundTrip(peer, req)
}

// roundTrip dials peer, sends env, reads one reply, and closes. Any
// dial/send/recv failure is a transport-transient error; the caller
// decides whether that implies peer eviction.
func (t *Transport) roundTrip(peer string, env envelope.Envelope) (*envelope.Envelope, error) {
	conn, err := net.DialTimeout("tcp", peer, dialTimeout)
	if err != nil {
		return nil, errkind.TransportTransient(fmt.Sprintf("dial %s", peer), err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := writeEnvelope(conn, &env); err != nil {
		return nil, errkind.TransportTransient(fmt.Sprintf("send to %s", peer), err)
	}
	reply, err := readEnvelope(conn)
	if err != nil {
		return nil, errkind.TransportTransient(fmt.Sprintf("recv from %s", peer), err)
	}
	return reply, nil
}

// Bootstrap gossips this node's address to each seed address and unions
// the replies' peer lists into the local peer set (spec §4.1 "Peer
// membership protocol").
func (t *Transport) Bootstrap(seeds []string) {
	for _, seed := range seeds {
		if seed == t.addr {
			continue
		}
		reply, err := t.roundTrip(seed, envelope.Envelope{Type: envelope.TypeAddPeer, Payload: t.addr})
		if err != nil {
			t.logger.Warn("bootstrap add_peer failed", "seed", seed, "err", err)
			continue
		}
		t.addPeer(seed)
		if peers, ok := reply.Payload.([]any); ok {
			for _, p := range peers {
				if addr, ok := p.(string); ok {
					t.addPeer(addr)
				}
			}
		}
	}
}

// LivenessPinger runs until ctx is done, pinging every known peer every
// pingEvery and evicting any that fails to answer (spec §4.1 "Liveness
// pinger").
func (t *Transport) LivenessPinger(ctx context.Context) {
	ticker := time.NewTicker(t.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peer := range t.Peers() {
				go func(peer string) {
					reply, err := t.roundTrip(peer, envelope.Envelope{Type: envelope.TypePing})
					if err != nil || reply == nil || !reply.IsAlive {
						t.removePeer(peer)
					}
				}(peer)
			}
		}
	}
}
