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

// Package logstore persists the ordered commit log to disk, append-only,
// one frame per committed entry. Grounded on the teacher's
// internal/compression package (Algorithm enum, Compressor type, "WAL
// entries" as the first listed use case in its doc comment) but wired to
// a concrete, already-required codec: github.com/golang/snappy, rather
// than the teacher's doc-comment-only lz4/zstd placeholders that no
// surviving teacher code actually constructs. The other compression
// libraries in the teacher's go.mod (klauspost/compress, pierrec/lz4)
// are dropped as redundant once one real codec covers this one log
// format — see DESIGN.md.
package logstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"

	"kvraft/internal/envelope"
)

func init() {
	// Entry.Value is an any carrying whatever a JSON-decoded client
	// payload produced; gob needs every concrete type registered up
	// front to encode/decode interface fields.
	gob.Register("")
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// File is an append-only durable log of committed entries. Each frame on
// disk is: 4-byte big-endian length prefix, snappy-compressed gob
// encoding of an envelope.Entry.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open opens (creating if absent) the log file at dataDir/filename.
func Open(dataDir, filename string) (*File, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: mkdir %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logstore: open %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

// Append writes entry as the next frame and fsyncs before returning, so a
// reported commit cannot be lost to a crash immediately after.
func (lf *File) Append(entry envelope.Entry) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	var gobBuf bytes.Buffer
	if err := gob.NewEncoder(&gobBuf).Encode(entry); err != nil {
		return fmt.Errorf("logstore: encode entry: %w", err)
	}
	compressed := snappy.Encode(nil, gobBuf.Bytes())

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(compressed)))

	if _, err := lf.f.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("logstore: write length: %w", err)
	}
	if _, err := lf.f.Write(compressed); err != nil {
		return fmt.Errorf("logstore: write frame: %w", err)
	}
	return lf.f.Sync()
}

// ReadAll reads every committed entry from the start of the file, in
// append order. Used at node startup to recover the last commit_id
// (spec §6: "the log file is read; the last entry's commit_id becomes
// the node's initial commit index").
func ReadAll(dataDir, filename string) ([]envelope.Entry, error) {
	path := filepath.Join(dataDir, filename)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("logstore: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var entries []envelope.Entry
	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("logstore: read length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		compressed := make([]byte, n)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, fmt.Errorf("logstore: read frame: %w", err)
		}
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("logstore: decompress frame: %w", err)
		}
		var entry envelope.Entry
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
			return nil, fmt.Errorf("logstore: decode entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close closes the underlying file handle.
func (lf *File) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.f.Close()
}
