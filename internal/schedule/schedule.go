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

// Package schedule derives the Running/Queued classes (spec.md §3) from
// an Object Store snapshot. It is the one place the Watcher's
// Enforcement Gate and the Manager's tick agree on what "running" and
// "queued" mean, so a change to the classification rule (e.g. a CEL
// condition override) only has to be made once.
package schedule

import (
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

// ConditionClassifier resolves the condition status used to decide
// terminality; classify.Evaluator satisfies this.
type ConditionClassifier interface {
	ConditionStatus(obj *unstructured.Unstructured) string
}

// Result is the outcome of classifying a Store snapshot.
type Result struct {
	// Running is the count of managed-namespace, non-terminal,
	// non-pending pipeline runs.
	Running int

	// Queued holds managed-namespace, non-terminal, pending, labeled
	// pipeline runs, sorted ascending by creationTimestamp with ties
	// broken lexicographically by Store key (I3).
	Queued []*unstructured.Unstructured
}

// Classify partitions snapshot into Running/Queued per spec.md §3,
// restricted to namespaces matcher accepts.
func Classify(snapshot map[string]*unstructured.Unstructured, matcher *tekton.NamespaceMatcher, classifier ConditionClassifier) Result {
	var result Result
	type queuedEntry struct {
		key string
		obj *unstructured.Unstructured
	}
	var queued []queuedEntry

	for key, obj := range snapshot {
		if !matcher.Match(obj.GetNamespace()) {
			continue
		}
		if tekton.IsTerminal(classifier.ConditionStatus(obj)) {
			continue
		}
		if tekton.IsPending(obj) {
			if tekton.HasManagedLabel(obj) {
				queued = append(queued, queuedEntry{key: key, obj: obj})
			}
			continue
		}
		result.Running++
	}

	sort.Slice(queued, func(i, j int) bool {
		ti, tj := tekton.CreationTimestamp(queued[i].obj), tekton.CreationTimestamp(queued[j].obj)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return queued[i].key < queued[j].key
	})

	result.Queued = make([]*unstructured.Unstructured, len(queued))
	for i, e := range queued {
		result.Queued[i] = e.obj
	}

	return result
}
