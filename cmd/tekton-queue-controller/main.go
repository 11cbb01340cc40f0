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

package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/time/rate"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/wonjune95/tekton-queue-controller/internal/classify"
	"github.com/wonjune95/tekton-queue-controller/internal/config"
	"github.com/wonjune95/tekton-queue-controller/internal/enforce"
	"github.com/wonjune95/tekton-queue-controller/internal/manager"
	"github.com/wonjune95/tekton-queue-controller/internal/options"
	"github.com/wonjune95/tekton-queue-controller/internal/orchestrator"
	"github.com/wonjune95/tekton-queue-controller/internal/probe"
	"github.com/wonjune95/tekton-queue-controller/internal/store"
	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
	"github.com/wonjune95/tekton-queue-controller/internal/telemetry"
	"github.com/wonjune95/tekton-queue-controller/internal/version"
	"github.com/wonjune95/tekton-queue-controller/internal/watcher"
)

func main() {
	klog.InitFlags(nil)
	logger := klog.NewKlogr()
	ctx := klog.NewContext(context.Background(), logger)

	o := options.NewOptions(logger)
	o.Read()

	if *o.Version {
		fmt.Println(version.ControllerName.String(), version.Version())
		return
	}

	bootstrap, err := config.Load(*o.ConfigFile)
	if err != nil {
		logger.Error(err, "error loading bootstrap config")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
	config.OverrideIfUnset(*o.NamespacePattern == "*-cicd", bootstrap.NamespacePattern, o.NamespacePattern)
	config.OverrideIfUnset(*o.ManagedLabelValue == "yes", bootstrap.ManagedLabelValue, o.ManagedLabelValue)

	if *o.AutoGOMAXPROCS {
		if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			logger.V(2).Info(fmt.Sprintf(format, args...))
		})); err != nil {
			logger.V(1).Info("could not set GOMAXPROCS", "error", err.Error())
		}
	}
	if *o.RatioGOMEMLIMIT > 0 {
		if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(*o.RatioGOMEMLIMIT)); err != nil {
			logger.V(1).Info("could not set GOMEMLIMIT", "error", err.Error())
		}
	}

	tickInterval, err := time.ParseDuration(*o.TickInterval)
	if err != nil {
		logger.Error(err, "invalid tick interval")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
	if bootstrap.TickInterval != nil && *o.TickInterval == "5s" {
		tickInterval = *bootstrap.TickInterval
	}

	defaultLimit := tekton.DefaultLimit
	config.OverrideIfUnset(true, bootstrap.DefaultLimit, &defaultLimit)

	matcher, err := tekton.NewNamespaceMatcher(*o.NamespacePattern)
	if err != nil {
		logger.Error(err, "invalid namespace pattern")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}

	restConfig, err := clientcmd.BuildConfigFromFlags(*o.MasterURL, *o.Kubeconfig)
	if err != nil {
		logger.Error(err, "error building kubeconfig")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}

	kubeClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		logger.Error(err, "error building kubernetes clientset")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		logger.Error(err, "error building dynamic clientset")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		versioncollector.NewCollector(version.ControllerName.ToSnakeCase()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: version.ControllerName.ToSnakeCase(), ReportErrors: true}),
	)
	metrics := telemetry.NewMetrics(registry)

	evaluator, err := classify.NewEvaluator(logger, *o.CELConditionExpr, *o.CELCostLimit, time.Duration(*o.CELTimeout)*time.Second)
	if err != nil {
		logger.Error(err, "invalid CEL condition expression")
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}

	limiter := rate.NewLimiter(rate.Limit(50), 300)
	client := orchestrator.New(dynamicClient, logger, defaultLimit, limiter, metrics)

	objectStore := store.New()
	enforcer := enforce.New(client, logger, metrics)
	w := watcher.New(client, objectStore, matcher, evaluator, enforcer, logger, metrics)
	m := manager.New(client, objectStore, matcher, evaluator, tickInterval, logger, metrics)

	go w.Run(ctx)
	go m.Run(ctx)

	selfAddr := net.JoinHostPort(*o.SelfHost, strconv.Itoa(*o.SelfPort))
	mainAddr := net.JoinHostPort(*o.MainHost, strconv.Itoa(*o.MainPort))
	telemetryServer := telemetry.NewServer(selfAddr, registry)
	probeServer := probe.NewServer(ctx, mainAddr, "probe", kubeClient)

	go func() {
		logger.V(1).Info("starting telemetry server", "address", selfAddr)
		if err := telemetryServer.ListenAndServe(); err != nil {
			logger.Error(err, "telemetry server stopped")
		}
	}()
	go func() {
		logger.V(1).Info("starting probe server", "address", mainAddr)
		if err := probeServer.ListenAndServe(); err != nil {
			logger.Error(err, "probe server stopped")
		}
	}()

	// Process-exit-only shutdown: no cooperative suspension, matching
	// the Watcher/Manager daemons' own termination model.
	select {}
}
