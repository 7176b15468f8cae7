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

package backend

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// DiskStore is the "database" backend selected by --store=database: an
// embedded on-disk key-value store, one bbolt bucket per namespace. Grounded on raftnode's datastore/rocks.py, which keeps one
// embedded LSM database (rocksdb) per namespace under data_dir; this
// implementation trades rocksdb (a dependency nothing in this corpus
// carries) for bbolt, the embedded B+tree store the wider pack already
// pulls in alongside Raft-style consensus implementations, since spec §1
// scopes the storage backend's internals out — only the Put/Get/Delete
// contract is load-bearing.
type DiskStore struct {
	dataDir string
	dbName  string
	db      *bbolt.DB
}

// NewDiskStore returns a DiskStore rooted at filepath.Join(dataDir, dbName+".db").
func NewDiskStore(dataDir, dbName string) *DiskStore {
	return &DiskStore{dataDir: dataDir, dbName: dbName}
}

func (d *DiskStore) path() string {
	return filepath.Join(d.dataDir, d.dbName+".db")
}

// Connect opens the backing bbolt file, creating its parent directory if
// needed. Safe to call more than once.
func (d *DiskStore) Connect() error {
	if d.db != nil {
		return nil
	}
	if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
		return err
	}
	db, err := bbolt.Open(d.path(), 0o644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	d.db = db
	return nil
}

func (d *DiskStore) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DiskStore) Put(key string, value any, namespace string) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	err = d.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), b)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *DiskStore) Get(key string, namespace string) (any, error) {
	var out any
	err := d.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		// bucket.Get's slice is only valid for the life of this
		// transaction; decode into out before returning.
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DiskStore) Delete(key string, namespace string) (any, error) {
	prev, err := d.Get(key, namespace)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	err = d.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}
