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

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wonjune95/tekton-queue-controller/internal/enforce"
	"github.com/wonjune95/tekton-queue-controller/internal/version"
)

// Metrics implements watcher.Recorder, manager.Recorder and
// enforce.Recorder against a single Prometheus registry, the same
// promauto-against-a-dedicated-registry style as the teacher's
// controller.go/server.go.
type Metrics struct {
	running            prometheus.Gauge
	queued             prometheus.Gauge
	limit              prometheus.Gauge
	limitReadFailures  prometheus.Counter
	admissions         prometheus.Counter
	admissionFailures  prometheus.Counter
	enforcements       *prometheus.CounterVec
	watchErrors        prometheus.Counter
	relists            prometheus.Counter
	labelPatchFailures prometheus.Counter
}

// NewMetrics registers the controller's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	namespace := version.ControllerName.ToSnakeCase()
	factory := promauto.With(reg)

	return &Metrics{
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "Number of pipeline runs currently admitted in managed namespaces.",
		}),
		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued",
			Help:      "Number of pipeline runs currently paused and waiting for admission.",
		}),
		limit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limit",
			Help:      "Global concurrency limit last read from the globallimits object.",
		}),
		limitReadFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_read_failures_total",
			Help:      "Number of times the limit object was unreadable or malformed and the default was used.",
		}),
		admissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Number of queued pipeline runs successfully admitted.",
		}),
		admissionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_failures_total",
			Help:      "Number of admission patches that failed.",
		}),
		enforcements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enforcements_total",
			Help:      "Number of enforcement attempts by stage and outcome.",
		}, []string{"stage", "result"}),
		watchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_errors_total",
			Help:      "Number of watch stream errors (excluding resource-version expiry).",
		}),
		relists: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relists_total",
			Help:      "Number of times the Watcher re-listed after a resource-version expiry.",
		}),
		labelPatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "label_patch_failures_total",
			Help:      "Number of managed-label patches that failed.",
		}),
	}
}

// ObserveRelist implements watcher.Recorder.
func (m *Metrics) ObserveRelist() { m.relists.Inc() }

// ObserveWatchError implements watcher.Recorder.
func (m *Metrics) ObserveWatchError() { m.watchErrors.Inc() }

// ObserveLabelPatchFailure implements watcher.Recorder.
func (m *Metrics) ObserveLabelPatchFailure() { m.labelPatchFailures.Inc() }

// ObserveAdmission implements manager.Recorder.
func (m *Metrics) ObserveAdmission() { m.admissions.Inc() }

// ObserveAdmissionFailure implements manager.Recorder.
func (m *Metrics) ObserveAdmissionFailure() { m.admissionFailures.Inc() }

// SetGauges implements manager.Recorder.
func (m *Metrics) SetGauges(running, queued, limit int) {
	m.running.Set(float64(running))
	m.queued.Set(float64(queued))
	m.limit.Set(float64(limit))
}

// ObserveLimitReadFailure implements orchestrator.LimitFailureRecorder: the
// orchestrator client calls it whenever ReadLimit falls back to the default.
func (m *Metrics) ObserveLimitReadFailure() { m.limitReadFailures.Inc() }

// ObserveEnforcement implements enforce.Recorder.
func (m *Metrics) ObserveEnforcement(stage enforce.Stage, succeeded bool) {
	result := "failure"
	if succeeded {
		result = "success"
	}
	m.enforcements.WithLabelValues(string(stage), result).Inc()
}
