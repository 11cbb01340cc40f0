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

// Package classify resolves a mirrored PipelineRun's condition status.
// The default rule is spec-fixed (status.conditions[0].status); an
// operator may instead supply a CEL expression for orchestrators that
// shape conditions differently.
package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/klog/v2"

	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

// Evaluator resolves the condition status ("Unknown"/"True"/"False")
// for a mirrored object, falling back to the built-in rule whenever no
// CEL expression is configured, or the configured one fails to
// evaluate, times out, or does not produce one of the three recognized
// strings. An expression that does not compile is rejected by
// NewEvaluator instead.
type Evaluator struct {
	logger     klog.Logger
	program    cel.Program
	costLimit  uint64
	timeout    time.Duration
	warnedOnce bool
}

// costEstimator assigns a flat per-call cost, mirroring the teacher's
// CEL cost tracker: every call costs 1 regardless of function.
type costEstimator struct{}

var _ interpreter.ActualCostEstimator = costEstimator{}

func (costEstimator) CallCost(_ string, _ string, _ []ref.Val, _ ref.Val) *uint64 {
	cost := uint64(1)
	return &cost
}

// NewEvaluator compiles expr, if non-empty, against an environment
// exposing the mirrored object under variable "o". An empty expr
// yields an Evaluator that always falls back to the built-in rule.
func NewEvaluator(logger klog.Logger, expr string, costLimit uint64, timeout time.Duration) (*Evaluator, error) {
	e := &Evaluator{logger: logger, costLimit: costLimit, timeout: timeout}
	if expr == "" {
		return e, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("o", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
		cel.DefaultUTCTimeZone(true),
		cel.EagerlyValidateDeclarations(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("error compiling condition expression %q: %w", expr, iss.Err())
	}

	program, err := env.Program(ast, cel.CostLimit(costLimit), cel.CostTracking(costEstimator{}))
	if err != nil {
		return nil, fmt.Errorf("error building CEL program for %q: %w", expr, err)
	}

	e.program = program
	return e, nil
}

// ConditionStatus returns the condition status to classify obj with.
func (e *Evaluator) ConditionStatus(obj *unstructured.Unstructured) string {
	if e.program == nil {
		return tekton.RawConditionStatus(obj)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	resultCh := make(chan ref.Val, 1)
	errCh := make(chan error, 1)
	go func() {
		out, _, err := e.program.Eval(map[string]interface{}{"o": obj.Object})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case <-ctx.Done():
		e.logOnce(fmt.Errorf("condition expression timed out after %s", e.timeout))
		return tekton.RawConditionStatus(obj)
	case err := <-errCh:
		e.logOnce(fmt.Errorf("error evaluating condition expression: %w", err))
		return tekton.RawConditionStatus(obj)
	case out := <-resultCh:
		str, ok := out.Value().(string)
		if !ok || (str != "Unknown" && str != "True" && str != "False") {
			e.logOnce(fmt.Errorf("condition expression produced non-status value %v (%s)", out.Value(), out.Type()))
			return tekton.RawConditionStatus(obj)
		}
		return str
	}
}

// logOnce avoids flooding logs with the same misconfiguration on every event.
func (e *Evaluator) logOnce(err error) {
	if e.warnedOnce {
		e.logger.V(4).Info("condition expression fallback", "error", err.Error())
		return
	}
	e.warnedOnce = true
	e.logger.Error(err, "condition expression failed, falling back to the built-in rule")
}
