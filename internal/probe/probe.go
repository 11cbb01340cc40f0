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

// Package probe implements the Probe Server (spec.md §4.H
// **[EXPANDED]**): healthz/livez/readyz HTTP handlers that proxy to
// the API server's own probes, so an orchestrator watching this
// process is really watching its ability to reach the cluster.
package probe

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

// probe defines behaviours for a health-check probe.
type probe interface {
	text() string
	handler(ctx context.Context, logger klog.Logger, client kubernetes.Interface) http.Handler
}

type genericProbe struct {
	source   string
	asString string
}

func (g genericProbe) text() string { return g.asString }

func (g genericProbe) handler(ctx context.Context, logger klog.Logger, client kubernetes.Interface) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		got := client.CoreV1().RESTClient().Get().AbsPath(g.asString).Do(ctx)
		if got.Error() != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte(http.StatusText(http.StatusServiceUnavailable))); err != nil {
				logger.Error(err, "error writing probe response", "probe", g.asString, "source", g.source)
			}
			return
		}

		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(http.StatusText(http.StatusOK))); err != nil {
			logger.Error(err, "error writing probe response", "probe", g.asString, "source", g.source)
		}
	})
}

// NewServer builds the probe server's *http.Server, proxying healthz,
// livez and readyz to client's own REST probes.
func NewServer(ctx context.Context, addr, source string, client kubernetes.Interface) *http.Server {
	logger := klog.FromContext(ctx)
	mux := http.NewServeMux()

	for _, p := range []probe{
		genericProbe{source: source, asString: "/healthz"},
		genericProbe{source: source, asString: "/livez"},
		genericProbe{source: source, asString: "/readyz"},
	} {
		mux.Handle(p.text(), p.handler(ctx, logger, client))
	}

	return &http.Server{
		ErrorLog:          logStd(source),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		Addr:              addr,
	}
}

func logStd(source string) *log.Logger {
	return log.New(os.Stdout, fmt.Sprintf("%s: ", source), log.LstdFlags|log.Lshortfile)
}
