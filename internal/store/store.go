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

// Package store holds the replicated state of one node: the ordered
// commit log, the single in-flight staged entry, the commit index, and
// the materialized key-value backend. Grounded on raftnode's store.py,
// restructured around Go's mutex idioms in place of Python's
// threading.Lock.
package store

import (
	"fmt"
	"sync"
	"time"

	"kvraft/internal/backend"
	"kvraft/internal/envelope"
	"kvraft/internal/errkind"
	"kvraft/internal/logging"
	"kvraft/internal/logstore"
)

const defaultNamespace = "default"

// Broadcaster is the slice of Transport that Store needs to replicate
// entries. Store never retains a Broadcaster between calls (spec's
// design note: "Store borrows Transport only for the duration of a
// Put/Delete").
type Broadcaster interface {
	Addr() string
	Peers() []string
	SendHeartbeat(peer string, msg envelope.Envelope) (*envelope.Envelope, error)
}

// Store is the replicated log plus materialized view for one node. All
// exported methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// writeMu serializes Put/Delete end-to-end (stage through commit).
	// The original raftnode holds self.__lock across the same span; s.mu
	// alone isn't enough here because it's released for the quorum wait,
	// during which a second concurrent write could stage over the first.
	writeMu sync.Mutex

	log         []envelope.Entry
	staged      *envelope.Entry
	commitIndex uint64

	backend backend.Datastore
	logfile *logstore.File

	maxLogWait time.Duration
	logger     *logging.Logger
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxLogWait overrides the default quorum-wait ceiling.
func WithMaxLogWait(d time.Duration) Option {
	return func(s *Store) { s.maxLogWait = d }
}

// New constructs a Store over ds, recovering its commit log (if any) from
// dataDir/logFilename. Spec §6: "the last entry's commit_id becomes the
// node's initial commit index; the backend is assumed to already reflect
// these entries."
func New(ds backend.Datastore, dataDir, logFilename string, opts ...Option) (*Store, error) {
	if err := ds.Connect(); err != nil {
		return nil, errkind.Backend("connect datastore", err)
	}
	lf, err := logstore.Open(dataDir, logFilename)
	if err != nil {
		return nil, errkind.Backend("open log file", err)
	}
	recovered, err := logstore.ReadAll(dataDir, logFilename)
	if err != nil {
		return nil, errkind.Backend("recover log file", err)
	}

	s := &Store{
		backend:    ds,
		logfile:    lf,
		log:        recovered,
		maxLogWait: 150 * time.Millisecond,
		logger:     logging.NewLogger("store"),
	}
	if n := len(recovered); n > 0 {
		s.commitIndex = recovered[n-1].CommitID
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// CommitIndex returns the commit_id of the most recently committed entry.
func (s *Store) CommitIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitIndex
}

// Staged returns a copy of the currently staged entry, or nil.
func (s *Store) Staged() *envelope.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staged == nil {
		return nil
	}
	cp := *s.staged
	return &cp
}

// Log returns a snapshot of the committed log.
func (s *Store) Log() []envelope.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]envelope.Entry, len(s.log))
	copy(out, s.log)
	return out
}

func namespaceOf(e envelope.Entry) string {
	if e.Namespace == "" {
		return defaultNamespace
	}
	return e.Namespace
}

// Put stages payload, broadcasts it to every peer as a log envelope, and
// waits for quorum acknowledgement before committing. Returns false on
// quorum timeout (staged is cleared either way once the wait ends).
func (s *Store) Put(term uint64, payload envelope.Entry, transport Broadcaster, majority int) (bool, error) {
	return s.replicate(term, payload, transport, majority, false)
}

// Delete is Put with the delete flag set on commit.
func (s *Store) Delete(term uint64, payload envelope.Entry, transport Broadcaster, majority int) (bool, error) {
	payload.Delete = true
	return s.replicate(term, payload, transport, majority, true)
}

// replicate stages payload and carries it through to commit under writeMu,
// so at most one Put/Delete is ever mid-flight on this node at a time
// (spec §3: "at most one staged entry at a time per node"). Without this,
// two concurrent client writes could each set s.staged before the other's
// quorum wait finishes, and whichever commits second would silently
// clobber the first.
func (s *Store) replicate(term uint64, payload envelope.Entry, transport Broadcaster, majority int, isDelete bool) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.staged = &payload
	peers := transport.Peers()
	logMsg := envelope.Envelope{
		Type:     envelope.TypeHeartbeat,
		Term:     term,
		Addr:     transport.Addr(),
		Action:   envelope.ActionLog,
		CommitID: s.commitIndex,
		Staged:   &payload,
	}
	s.mu.Unlock()

	acks := make(chan bool, len(peers))
	for _, peer := range peers {
		go func(peer string) {
			reply, err := transport.SendHeartbeat(peer, logMsg)
			acks <- err == nil && reply != nil
		}(peer)
	}

	granted := 0
	received := 0
	deadline := time.After(s.maxLogWait)
	for received < len(peers) && granted+1 < majority {
		select {
		case ok := <-acks:
			received++
			if ok {
				granted++
			}
		case <-deadline:
			s.mu.Lock()
			s.staged = nil
			s.mu.Unlock()
			s.logger.Info("quorum wait timed out, update rejected", "max_wait", s.maxLogWait)
			return false, errkind.QuorumTimeout(fmt.Sprintf("waited %s for quorum", s.maxLogWait))
		}
	}
	if granted+1 < majority {
		s.mu.Lock()
		s.staged = nil
		s.mu.Unlock()
		return false, errkind.QuorumTimeout("peers exhausted before reaching majority")
	}

	namespace := namespaceOf(payload)
	if err := s.commit(namespace, isDelete, 0); err != nil {
		return false, err
	}

	commitMsg := envelope.Envelope{
		Type:     envelope.TypeHeartbeat,
		Term:     term,
		Addr:     transport.Addr(),
		Action:   envelope.ActionCommit,
		CommitID: s.CommitIndex(),
		Staged:   &payload,
	}
	go func() {
		for _, peer := range peers {
			transport.SendHeartbeat(peer, commitMsg)
		}
	}()

	s.logger.Info("majority reached, committed", "key", payload.Key, "namespace", namespace)
	return true, nil
}

// Get reads the current value for key in namespace directly from the
// backend; an empty namespace means "default".
func (s *Store) Get(key, namespace string) (any, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	v, err := s.backend.Get(key, namespace)
	if err != nil {
		return nil, errkind.Backend("get", err)
	}
	return v, nil
}

// ActionHandler is the follower-side entry point for heartbeat envelopes
// carrying an Action: "log" stages the leader's payload; "commit" applies
// one entry, or a batched tail of entries sent during catch-up (spec
// §4.2 Log catch-up).
func (s *Store) ActionHandler(msg envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Action {
	case envelope.ActionLog:
		if msg.Staged != nil {
			cp := *msg.Staged
			s.staged = &cp
		}
		return nil
	case envelope.ActionCommit:
		if len(msg.Entries) > 0 {
			for _, entry := range msg.Entries {
				if s.staged == nil {
					cp := entry
					s.staged = &cp
				}
				if err := s.commitLocked(namespaceOf(entry), entry.Delete, entry.CommitID); err != nil {
					return err
				}
			}
			return nil
		}
		if msg.Staged != nil && s.staged == nil {
			cp := *msg.Staged
			s.staged = &cp
		}
		ns := defaultNamespace
		del := false
		if msg.Staged != nil {
			ns = namespaceOf(*msg.Staged)
			del = msg.Staged.Delete
		} else if s.staged != nil {
			ns = namespaceOf(*s.staged)
			del = s.staged.Delete
		}
		return s.commitLocked(ns, del, msg.CommitID)
	}
	return nil
}

// commit acquires the lock and delegates to commitLocked. preferredCID,
// when non-zero, is used verbatim instead of incrementing (the catch-up
// recovery path, where the leader's commit_id is authoritative).
func (s *Store) commit(namespace string, isDelete bool, preferredCID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(namespace, isDelete, preferredCID)
}

// commitLocked performs the commit procedure of spec §4.2: assign a
// commit_id, append to the log (deduped by commit_id), persist, apply to
// the backend, clear staged. Must be called with s.mu held.
func (s *Store) commitLocked(namespace string, isDelete bool, preferredCID uint64) error {
	if s.staged == nil {
		return nil
	}
	entry := *s.staged

	if preferredCID != 0 {
		entry.CommitID = preferredCID
		if preferredCID > s.commitIndex {
			s.commitIndex = preferredCID
		}
	} else {
		s.commitIndex++
		entry.CommitID = s.commitIndex
	}
	entry.Delete = isDelete || entry.Delete

	if !s.containsCommitID(entry.CommitID) {
		if err := s.logfile.Append(entry); err != nil {
			return errkind.Backend("append log file", err)
		}
		s.log = append(s.log, entry)
	}

	if entry.Delete {
		if _, err := s.backend.Delete(entry.Key, namespace); err != nil {
			return errkind.Backend("delete", err)
		}
	} else {
		if _, err := s.backend.Put(entry.Key, entry.Value, namespace); err != nil {
			return errkind.Backend("put", err)
		}
	}
	s.staged = nil
	return nil
}

func (s *Store) containsCommitID(cid uint64) bool {
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].CommitID == cid {
			return true
		}
		if s.log[i].CommitID < cid {
			break
		}
	}
	return false
}

// Majority computes the quorum size for a cluster with the given peer
// count (excluding self), per spec §4.2.
func Majority(peerCount int) int {
	return (1+peerCount)/2 + 1
}
