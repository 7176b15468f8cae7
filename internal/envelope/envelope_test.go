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

package envelope

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Envelope
	}{
		{
			name: "add_peer",
			in:   Envelope{Type: TypeAddPeer, Payload: "127.0.0.1:5001", Sender: "127.0.0.1:5000"},
		},
		{
			name: "ping reply",
			in:   Envelope{Type: TypePing, IsAlive: true, Addr: "127.0.0.1:5000"},
		},
		{
			name: "heartbeat probe",
			in:   Envelope{Type: TypeHeartbeat, Term: 3, Addr: "127.0.0.1:5000"},
		},
		{
			name: "heartbeat log action",
			in: Envelope{
				Type: TypeHeartbeat, Term: 3, Addr: "127.0.0.1:5000", Action: ActionLog,
				Staged: &Entry{Key: "name", Value: "John Doe", Namespace: "default"},
			},
		},
		{
			name: "heartbeat commit batch",
			in: Envelope{
				Type: TypeHeartbeat, Term: 3, CommitID: 5, Action: ActionCommit,
				Entries: []Entry{{CommitID: 4, Key: "a"}, {CommitID: 5, Key: "b"}},
			},
		},
		{
			name: "vote_request",
			in:   Envelope{Type: TypeVoteRequest, Term: 4, CommitID: 2},
		},
		{
			name: "put",
			in:   Envelope{Type: TypePut, Key: "name", Value: "John Doe", Namespace: "default"},
		},
		{
			name: "get reply",
			in:   Envelope{Type: TypeGet, Data: map[string]any{"key": "name", "value": "John Doe"}},
		},
		{
			name: "peers reply",
			in:   Envelope{Type: TypePeers, Peers: []string{"127.0.0.1:5001", "127.0.0.1:5002"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(&tt.in)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			reEncoded, err := Encode(decoded)
			if err != nil {
				t.Fatalf("re-Encode() error = %v", err)
			}
			var want, got map[string]any
			if err := json.Unmarshal(encoded, &want); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if err := json.Unmarshal(reEncoded, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(want, got) {
				t.Errorf("round trip mismatch: want %v, got %v", want, got)
			}
		})
	}
}

func TestDecodeMalformedIsError(t *testing.T) {
	_, err := Decode([]byte("not json"))
	if err == nil {
		t.Error("expected error decoding malformed JSON")
	}
}

func TestEncodeRejectsOversizedFrame(t *testing.T) {
	huge := make([]byte, MaxFrameBytes*2)
	for i := range huge {
		huge[i] = 'x'
	}
	_, err := Encode(&Envelope{Type: TypePut, Key: "k", Value: string(huge)})
	if err == nil {
		t.Error("expected error encoding an oversized envelope")
	}
}
