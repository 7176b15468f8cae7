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

package discovery

import "testing"

func TestDisabledServiceStartIsNoOp(t *testing.T) {
	s := New(Config{NodeID: "n1", Addr: "127.0.0.1:5000", Enabled: false})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v, want nil for disabled service", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v, want nil when never started", err)
	}
}

func TestEnabledServiceAdvertisesAndStops(t *testing.T) {
	s := New(Config{NodeID: "n1", Addr: "127.0.0.1:5000", Enabled: true})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.server == nil {
		t.Fatal("server not set after Start()")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
