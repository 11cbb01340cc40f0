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
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

// promHTTPLogger implements promhttp.Logger.
type promHTTPLogger struct {
	source string
}

// Println logs on all errors received by promhttp.Logger.
func (l promHTTPLogger) Println(v ...interface{}) {
	klog.ErrorS(fmt.Errorf("%s", v), "promhttp error", "source", l.source)
}

// NewServer builds the telemetry server's *http.Server: the /metrics
// exposition endpoint plus the standard pprof debug routes, exactly
// the self-metrics split the teacher's server.go draws between
// selfServer and mainServer.
func NewServer(addr string, reg prometheus.Gatherer) *http.Server {
	const source = "telemetry"
	mux := http.NewServeMux()

	mux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
	mux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	mux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	mux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:      promHTTPLogger{source},
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return &http.Server{
		ErrorLog:          log.New(os.Stdout, source+": ", log.LstdFlags|log.Lshortfile),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		Addr:              addr,
	}
}
