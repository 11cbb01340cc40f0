/*
Copyright 2026 The tekton-queue-controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package store implements the in-memory mirror of pipeline-run objects
// that backs O(1) status queries for the Watcher and Manager loops.
package store

import (
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

// Store is a mutex-guarded mapping from "<namespace>/<name>" to the
// most recently observed object. Objects are treated as immutable once
// stored: callers must not mutate a value returned by Snapshot; use
// PatchProjection to write under the lock instead.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*unstructured.Unstructured
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]*unstructured.Unstructured)}
}

// Upsert stores obj under its namespace/name key, replacing any prior value.
func (s *Store) Upsert(obj *unstructured.Unstructured) {
	key := tekton.KeyOf(obj)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = obj
}

// Remove deletes the entry for key, if any.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// Clear empties the store, used when the Watcher re-lists after a
// disconnect or a resource-version expiry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[string]*unstructured.Unstructured)
}

// Snapshot returns a shallow copy of all stored values: a fresh map
// whose entries alias the same (treated-as-immutable) objects, safe to
// range over without holding the Store lock.
func (s *Store) Snapshot() map[string]*unstructured.Unstructured {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*unstructured.Unstructured, len(s.objects))
	for k, v := range s.objects {
		out[k] = v
	}
	return out
}

// PatchProjection applies mutate to a deep copy of the object stored
// under key, then stores the result, all under the same lock the
// Watcher's Upsert/Remove use. It is the only write path available to
// callers that must not hold a long-lived reference to the mutated
// object (the Manager's post-admit projection, see internal/manager).
// It is a no-op if key is absent.
func (s *Store) PatchProjection(key string, mutate func(obj *unstructured.Unstructured)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.objects[key]
	if !ok {
		return
	}
	cp := existing.DeepCopy()
	mutate(cp)
	s.objects[key] = cp
}
