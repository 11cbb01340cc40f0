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

// Package manager implements the Manager Loop (spec.md §4.D): every
// tick it reads the limit, classifies the Object Store, and admits as
// many FIFO-ordered queued runs as capacity allows.
package manager

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	"github.com/wonjune95/tekton-queue-controller/internal/orchestrator"
	"github.com/wonjune95/tekton-queue-controller/internal/schedule"
	"github.com/wonjune95/tekton-queue-controller/internal/store"
	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

// DefaultTickInterval is the spec-mandated tick cadence.
const DefaultTickInterval = 5 * time.Second

// Recorder observes admission outcomes for telemetry.
type Recorder interface {
	ObserveAdmission()
	ObserveAdmissionFailure()
	SetGauges(running, queued, limit int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveAdmission()        {}
func (noopRecorder) ObserveAdmissionFailure() {}
func (noopRecorder) SetGauges(_, _, _ int)    {}

// Manager runs the tick loop.
type Manager struct {
	client       orchestrator.Client
	store        *store.Store
	matcher      *tekton.NamespaceMatcher
	evaluator    schedule.ConditionClassifier
	tickInterval time.Duration
	logger       klog.Logger
	recorder     Recorder
}

// New returns a Manager. tickInterval <= 0 falls back to DefaultTickInterval.
func New(
	client orchestrator.Client,
	st *store.Store,
	matcher *tekton.NamespaceMatcher,
	evaluator schedule.ConditionClassifier,
	tickInterval time.Duration,
	logger klog.Logger,
	recorder Recorder,
) *Manager {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Manager{
		client:       client,
		store:        st,
		matcher:      matcher,
		evaluator:    evaluator,
		tickInterval: tickInterval,
		logger:       logger,
		recorder:     recorder,
	}
}

// Run blocks, ticking until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one admission pass. Exported so tests can drive it
// directly instead of waiting on the ticker.
func (m *Manager) Tick(ctx context.Context) {
	limit := m.client.ReadLimit(ctx)
	snapshot := m.store.Snapshot()
	result := schedule.Classify(snapshot, m.matcher, m.evaluator)

	running := result.Running
	admitted := 0

	for _, p := range result.Queued {
		if running >= limit {
			break
		}

		key := tekton.KeyOf(p)
		if err := m.client.PatchSpecStatus(ctx, p.GetNamespace(), p.GetName(), ""); err != nil {
			m.logger.Error(err, "admission patch failed, continuing with next queued run", "pipelineRun", key)
			m.recorder.ObserveAdmissionFailure()
			continue
		}

		running++
		admitted++
		m.recorder.ObserveAdmission()

		// Project the admit locally so the next tick (and the Watcher's
		// gate, should a MODIFIED event lag behind) don't double-admit
		// before the authoritative event arrives.
		m.store.PatchProjection(key, clearSpecStatus)
		m.logger.V(1).Info("admitted queued run", "pipelineRun", key)
	}

	m.recorder.SetGauges(running, len(result.Queued)-admitted, limit)

	if admitted > 0 {
		m.logger.V(1).Info("tick complete", "admitted", admitted, "running", running, "limit", limit)
	}
}

func clearSpecStatus(obj *unstructured.Unstructured) {
	unstructured.RemoveNestedField(obj.Object, "spec", "status")
}
