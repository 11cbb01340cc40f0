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

// Package tekton holds the data model shared by the watcher, manager and
// enforcement packages: the fields the controller reads off a mirrored
// PipelineRun, and the GVR coordinates of the two CRDs it talks to.
package tekton

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// ManagedLabelKey marks a paused run as one the controller is allowed to admit.
	ManagedLabelKey = "queue.tekton.dev/managed"

	// ManagedLabelValue is the literal value the controller writes and checks for.
	ManagedLabelValue = "yes"

	// PausedSentinel is the spec.status value that pauses a pipeline run.
	PausedSentinel = "PipelineRunPending"

	// DefaultLimit is used when the globallimits object is absent or malformed.
	DefaultLimit = 10

	// DefaultNamespacePattern is the glob applied to namespaces in the absence of an override.
	DefaultNamespacePattern = "*-cicd"

	// conditionUnknown is the in-flight condition status; anything else is terminal.
	conditionUnknown = "Unknown"
)

var (
	// PipelineRunGVR is the watched resource.
	PipelineRunGVR = schema.GroupVersionResource{Group: "tekton.dev", Version: "v1", Resource: "pipelineruns"}

	// LimitGVR addresses the cluster-scoped limit singleton.
	LimitGVR = schema.GroupVersionResource{Group: "tekton.devops", Version: "v1", Resource: "globallimits"}

	// LimitObjectName is the fixed name of the singleton limit object.
	LimitObjectName = "tekton-queue-limit"
)

// Key returns the Object Store key for a namespace/name pair.
func Key(namespace, name string) string {
	return namespace + "/" + name
}

// KeyOf returns the Object Store key for an object.
func KeyOf(obj *unstructured.Unstructured) string {
	return Key(obj.GetNamespace(), obj.GetName())
}

// HasManagedLabel reports whether obj carries the controller's managed label.
func HasManagedLabel(obj *unstructured.Unstructured) bool {
	return obj.GetLabels()[ManagedLabelKey] == ManagedLabelValue
}

// SpecStatus returns the raw spec.status field, or "" if absent.
func SpecStatus(obj *unstructured.Unstructured) string {
	v, _, _ := unstructured.NestedString(obj.Object, "spec", "status")
	return v
}

// IsPending reports whether spec.status holds the paused sentinel.
func IsPending(obj *unstructured.Unstructured) bool {
	return SpecStatus(obj) == PausedSentinel
}

// RawConditionStatus returns status.conditions[0].status, or "" if the
// object carries no conditions at all (treated as in-flight by callers
// that fall back to the default rule).
func RawConditionStatus(obj *unstructured.Unstructured) string {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found || len(conditions) == 0 {
		return ""
	}
	first, ok := conditions[0].(map[string]interface{})
	if !ok {
		return ""
	}
	status, _ := first["status"].(string)
	return status
}

// IsTerminal reports whether the given condition status (as returned by
// RawConditionStatus or a classify.Evaluator override) marks the run as
// finished. An empty/absent condition status is treated as in-flight.
func IsTerminal(conditionStatus string) bool {
	return conditionStatus != "" && conditionStatus != conditionUnknown
}

// CreationTimestamp returns the object's creation time, used as the FIFO key.
func CreationTimestamp(obj *unstructured.Unstructured) time.Time {
	return obj.GetCreationTimestamp().Time
}

// QueuedName derives the recreated object's name per the enforcement
// protocol: the original name truncated to 40 runes, suffixed with
// "-q<unix seconds>" to dodge any residual tombstone and respect the
// 63-character identifier cap.
func QueuedName(original string, unixSeconds int64) string {
	truncated := original
	if r := []rune(original); len(r) > 40 {
		truncated = string(r[:40])
	}
	return fmt.Sprintf("%s-q%d", truncated, unixSeconds)
}
