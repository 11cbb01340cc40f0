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

// Package watcher implements the Watcher Loop (spec.md §4.C): it
// maintains the Object Store via list-then-watch and runs the
// Enforcement Gate on every ADDED/MODIFIED event.
package watcher

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"

	"github.com/wonjune95/tekton-queue-controller/internal/enforce"
	"github.com/wonjune95/tekton-queue-controller/internal/orchestrator"
	"github.com/wonjune95/tekton-queue-controller/internal/schedule"
	"github.com/wonjune95/tekton-queue-controller/internal/store"
	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

const (
	minBackoff = time.Second
	maxBackoff = 2 * time.Second
)

// Recorder observes watch-loop outcomes for telemetry.
type Recorder interface {
	ObserveRelist()
	ObserveWatchError()
	ObserveLabelPatchFailure()
}

type noopRecorder struct{}

func (noopRecorder) ObserveRelist()            {}
func (noopRecorder) ObserveWatchError()        {}
func (noopRecorder) ObserveLabelPatchFailure() {}

// Watcher runs the list-then-watch state machine against the
// orchestrator and keeps store in sync, invoking enforcer on
// over-limit admissions.
type Watcher struct {
	client    orchestrator.Client
	store     *store.Store
	matcher   *tekton.NamespaceMatcher
	evaluator schedule.ConditionClassifier
	enforcer  *enforce.Enforcer
	logger    klog.Logger
	recorder  Recorder

	// sleep is overridable in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

// New returns a Watcher.
func New(
	client orchestrator.Client,
	st *store.Store,
	matcher *tekton.NamespaceMatcher,
	evaluator schedule.ConditionClassifier,
	enforcer *enforce.Enforcer,
	logger klog.Logger,
	recorder Recorder,
) *Watcher {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Watcher{
		client:    client,
		store:     st,
		matcher:   matcher,
		evaluator: evaluator,
		enforcer:  enforcer,
		logger:    logger,
		recorder:  recorder,
		sleep:     time.Sleep,
	}
}

// Run blocks, alternating list-then-watch cycles until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		w.runOnce(ctx)
	}
}

// runOnce performs one full disconnected->synced->streaming cycle,
// returning when the stream ends so Run can immediately re-list.
func (w *Watcher) runOnce(ctx context.Context) {
	items, resourceVersion, err := w.client.ListAll(ctx)
	if err != nil {
		w.logger.Error(err, "list failed, backing off before retry")
		w.recorder.ObserveWatchError()
		w.sleep(minBackoff)
		return
	}

	// Entering synced: replace the Store wholesale. These items are
	// historical — no enforcement fires for them.
	w.store.Clear()
	for _, item := range items {
		w.store.Upsert(item)
	}
	w.logger.V(1).Info("synced object store", "count", len(items), "resourceVersion", resourceVersion)

	stream, err := w.client.Watch(ctx, resourceVersion)
	if err != nil {
		w.logger.Error(err, "watch failed, backing off before retry")
		w.recorder.ObserveWatchError()
		w.sleep(minBackoff)
		return
	}
	defer stream.Stop()

	w.stream(ctx, stream)
}

// stream consumes events until the channel closes, an unrecoverable
// error arrives, or ctx is done.
func (w *Watcher) stream(ctx context.Context, stream watch.Interface) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream.ResultChan():
			if !ok {
				w.logger.V(1).Info("watch channel closed, reconnecting")
				w.recorder.ObserveWatchError()
				w.sleep(minBackoff)
				return
			}

			if event.Type == watch.Error {
				err := apierrors.FromObject(event.Object)
				if w.client.IsExpired(err) {
					w.logger.V(1).Info("resource version expired, re-listing without backoff")
					w.recorder.ObserveRelist()
					return
				}
				w.logger.Error(err, "watch stream error, backing off before reconnect")
				w.recorder.ObserveWatchError()
				w.sleep(maxBackoff)
				return
			}

			w.handleEvent(ctx, event)
		}
	}
}

// handleEvent applies one ADDED/MODIFIED/DELETED event to the Store
// and, for ADDED/MODIFIED, runs the Enforcement Gate.
func (w *Watcher) handleEvent(ctx context.Context, event watch.Event) {
	obj, ok := event.Object.(*unstructured.Unstructured)
	if !ok {
		w.logger.Error(fmt.Errorf("unexpected object type %T", event.Object), "skipping watch event")
		return
	}

	switch event.Type {
	case watch.Deleted:
		w.store.Remove(tekton.KeyOf(obj))
		return
	case watch.Added, watch.Modified:
		w.store.Upsert(obj)
	default:
		w.logger.V(3).Info("ignoring bookmark/unknown event", "type", event.Type)
		return
	}

	w.gate(ctx, obj)
}

// gate is the Enforcement Gate (spec.md §4.C): decides, without any
// extra orchestrator calls beyond the limit read, whether obj needs
// enforcement.
func (w *Watcher) gate(ctx context.Context, obj *unstructured.Unstructured) {
	namespace, name := obj.GetNamespace(), obj.GetName()

	if !w.matcher.Match(namespace) {
		return
	}
	if tekton.IsTerminal(w.evaluator.ConditionStatus(obj)) {
		return
	}
	if tekton.IsPending(obj) {
		return
	}

	if !tekton.HasManagedLabel(obj) {
		go func() {
			if err := w.client.PatchLabel(context.Background(), namespace, name, tekton.ManagedLabelKey, tekton.ManagedLabelValue); err != nil {
				w.logger.Error(err, "label patch failed, next event will re-trigger", "pipelineRun", tekton.Key(namespace, name))
				w.recorder.ObserveLabelPatchFailure()
			}
		}()
	}

	snapshot := w.store.Snapshot()
	result := schedule.Classify(snapshot, w.matcher, w.evaluator)
	limit := w.client.ReadLimit(ctx)

	if result.Running > limit {
		w.logger.V(1).Info("admission overshoot detected, enforcing", "pipelineRun", tekton.Key(namespace, name), "running", result.Running, "limit", limit)
		w.enforcer.Enforce(ctx, obj)
	}
}
