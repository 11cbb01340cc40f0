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

// Package options parses the command-line flags and TQC_* environment
// variable overrides that make up the ambient operability surface
// spec.md §6 layers on top of the algorithm's own parameters (tick
// interval, namespace pattern, default limit).
package options

import (
	"flag"
	"fmt"
	"os"

	"github.com/iancoleman/strcase"
	"k8s.io/klog/v2"
)

const envPrefix = "TQC_"

const (
	kubeconfigFlagName        = "kubeconfig"
	masterURLFlagName         = "master"
	namespacePatternFlagName  = "namespace-pattern"
	tickIntervalFlagName      = "tick-interval"
	configFlagName            = "config"
	managedLabelValueFlagName = "managed-label-value"
	mainHostFlagName          = "main-host"
	mainPortFlagName          = "main-port"
	selfHostFlagName          = "self-host"
	selfPortFlagName          = "self-port"
	celExprFlagName           = "cel-condition-expr"
	celCostLimitFlagName      = "cel-cost-limit"
	celTimeoutFlagName        = "cel-timeout-seconds"
	autoGOMAXPROCSFlagName    = "auto-gomaxprocs"
	ratioGOMEMLIMITFlagName   = "ratio-gomemlimit"
	versionFlagName           = "version"
)

// Options represents the command-line Options.
type Options struct {
	Kubeconfig        *string
	MasterURL         *string
	NamespacePattern  *string
	TickInterval      *string
	ConfigFile        *string
	ManagedLabelValue *string
	MainHost          *string
	MainPort          *int
	SelfHost          *string
	SelfPort          *int
	CELConditionExpr  *string
	CELCostLimit      *uint64
	CELTimeout        *int
	AutoGOMAXPROCS    *bool
	RatioGOMEMLIMIT   *float64
	Version           *bool

	logger klog.Logger
}

// NewOptions returns a new Options.
func NewOptions(logger klog.Logger) *Options {
	return &Options{logger: logger}
}

// Read reads the command-line flags and applies TQC_* environment
// overrides for any flag left at its default.
func (o *Options) Read() {
	o.Kubeconfig = flag.String(kubeconfigFlagName, os.Getenv("KUBECONFIG"), "Path to a kubeconfig. Only required if out-of-cluster.")
	o.MasterURL = flag.String(masterURLFlagName, os.Getenv("KUBERNETES_MASTER"), "The address of the Kubernetes API server. Overrides any value in kubeconfig. Only required if out-of-cluster.")
	o.NamespacePattern = flag.String(namespacePatternFlagName, "*-cicd", "Glob pattern (single '*' wildcard segments) matching namespaces this controller manages.")
	o.TickInterval = flag.String(tickIntervalFlagName, "5s", "Manager Loop tick cadence, as a time.ParseDuration string.")
	o.ConfigFile = flag.String(configFlagName, "", "Optional path to a YAML bootstrap config file. Flags and environment overrides still take precedence.")
	o.ManagedLabelValue = flag.String(managedLabelValueFlagName, "yes", "Accepted for configuration, but has no effect: the controller always writes and checks the managed label value \"yes\".")
	o.MainHost = flag.String(mainHostFlagName, "::", "Host to expose probe endpoints on.")
	o.MainPort = flag.Int(mainPortFlagName, 9999, "Port to expose probe endpoints on.")
	o.SelfHost = flag.String(selfHostFlagName, "::", "Host to expose self (telemetry) metrics on.")
	o.SelfPort = flag.Int(selfPortFlagName, 9998, "Port to expose self (telemetry) metrics on.")
	o.CELConditionExpr = flag.String(celExprFlagName, "", "Optional CEL expression classifying a pipeline run's terminal condition status from the object 'o'. Empty falls back to reading status.conditions[0].status directly.")
	o.CELCostLimit = flag.Uint64(celCostLimitFlagName, 10e5, "Maximum cost budget for CEL expression evaluation. CEL cost represents computational complexity: traversing an object field costs 1, and every function call costs 1. This limit prevents runaway expressions from consuming excessive resources.")
	o.CELTimeout = flag.Int(celTimeoutFlagName, 5, "Maximum time in seconds for CEL expression evaluation.")
	o.AutoGOMAXPROCS = flag.Bool(autoGOMAXPROCSFlagName, true, "Automatically set GOMAXPROCS to match CPU quota.")
	o.RatioGOMEMLIMIT = flag.Float64(ratioGOMEMLIMITFlagName, 0.9, "GOMEMLIMIT to memory quota ratio.")
	o.Version = flag.Bool(versionFlagName, false, "Print version information and quit.")
	flag.Parse()

	// Respect overrides, this also helps in testing without setting the same defaults in a bunch of places.
	flag.VisitAll(func(f *flag.Flag) {
		// Don't override flags that have been set. Environment variables do not take precedence over command-line flags.
		if f.Value.String() != f.DefValue {
			return
		}
		name := envPrefix + strcase.ToScreamingSnake(f.Name)
		if value, ok := os.LookupEnv(name); ok {
			o.logger.V(1).Info(fmt.Sprintf("overriding flag %s with %s=%s", f.Name, name, value))
			if err := flag.Set(f.Name, value); err != nil {
				panic(fmt.Sprintf("failed to set flag %s to %s: %v", f.Name, value, err))
			}
		}
	})
}
