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

// Package backend implements the materialized key-value view the
// replicated log applies to. Only the Put/Get/Delete contract matters to
// the rest of the system (spec §1, §6 IDatastore) — the choice of
// in-memory map vs. an embedded on-disk store is an implementation detail
// behind this interface, the way the teacher's StorageEngine interface
// (Put, Get, Delete, Scan, Close, Sync, Stats) decouples the SQL executor
// from its page-based engine.
package backend

// Datastore is the pluggable materialized-view contract. Namespace
// partitions the keyspace; an empty namespace is the caller's
// responsibility to default to "default" (the store package does this).
type Datastore interface {
	// Put inserts or overwrites key within namespace.
	Put(key string, value any, namespace string) (bool, error)
	// Get returns the current value for key within namespace, or nil if
	// absent or tombstoned.
	Get(key string, namespace string) (any, error)
	// Delete removes key within namespace and returns the value that was
	// removed (or nil if it was already absent).
	Delete(key string, namespace string) (any, error)
	// Connect opens or initializes the backend's handle. Safe to call
	// more than once.
	Connect() error
	// Close releases any resources held by the backend.
	Close() error
}
