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

import "testing"

func namespaceScenario(t *testing.T, ds Datastore) {
	t.Helper()
	if err := ds.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if _, err := ds.Put("k", "v1", "a"); err != nil {
		t.Fatalf("Put(a) error = %v", err)
	}
	if _, err := ds.Put("k", "v2", "b"); err != nil {
		t.Fatalf("Put(b) error = %v", err)
	}

	got, err := ds.Get("k", "a")
	if err != nil || got != "v1" {
		t.Errorf("Get(k, a) = %v, %v, want v1, nil", got, err)
	}
	got, err = ds.Get("k", "b")
	if err != nil || got != "v2" {
		t.Errorf("Get(k, b) = %v, %v, want v2, nil", got, err)
	}

	missing, err := ds.Get("nope", "a")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %v, %v, want nil, nil", missing, err)
	}

	removed, err := ds.Delete("k", "a")
	if err != nil || removed != "v1" {
		t.Errorf("Delete(k, a) = %v, %v, want v1, nil", removed, err)
	}
	got, err = ds.Get("k", "a")
	if err != nil || got != nil {
		t.Errorf("Get after delete = %v, %v, want nil, nil", got, err)
	}
	got, err = ds.Get("k", "b")
	if err != nil || got != "v2" {
		t.Errorf("namespace b unaffected by namespace a delete, got %v, %v", got, err)
	}
}

func TestMemoryStoreNamespaces(t *testing.T) {
	namespaceScenario(t, NewMemoryStore())
}

func TestDiskStoreNamespaces(t *testing.T) {
	namespaceScenario(t, NewDiskStore(t.TempDir(), "testdb"))
}
