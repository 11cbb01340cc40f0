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

// Package orchestrator is the thin adapter between the control loops
// and the outside world: list, watch (with resource-version
// resumption), patch, delete, create, and the cluster-scoped limit
// read. Everything the Watcher/Manager/Enforcement packages know about
// the orchestrator API goes through the Client interface.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/klog/v2"

	"golang.org/x/time/rate"

	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

// Client is everything the control loops need from the orchestrator.
type Client interface {
	// ReadLimit returns the current global limit, or the client's default limit on any failure.
	ReadLimit(ctx context.Context) int

	// ListAll bulk-fetches every managed-namespace-agnostic pipeline run and
	// returns the list resource version to resume a watch from.
	ListAll(ctx context.Context) (items []*unstructured.Unstructured, resourceVersion string, err error)

	// Watch opens an indefinite-timeout watch from resourceVersion.
	Watch(ctx context.Context, resourceVersion string) (watch.Interface, error)

	// PatchSpecStatus sets spec.status to value, or clears it when value is "".
	PatchSpecStatus(ctx context.Context, namespace, name, value string) error

	// PatchLabel idempotently sets metadata.labels[key] = value.
	PatchLabel(ctx context.Context, namespace, name, key, value string) error

	// Delete removes an object with background propagation.
	Delete(ctx context.Context, namespace, name string) error

	// Create creates obj.
	Create(ctx context.Context, obj *unstructured.Unstructured) error

	// IsExpired reports whether err is a "resource version expired" condition.
	IsExpired(err error) bool

	// IsRejected reports whether err is a "state transition rejected" condition.
	IsRejected(err error) bool
}

// LimitFailureRecorder observes limit-read fallbacks, the spec.md §9
// "loud alert after N consecutive failures" open question resolved as
// a counter rather than an alerting transport (out of this core's scope).
type LimitFailureRecorder interface {
	ObserveLimitReadFailure()
}

// dynamicClient implements Client over a generic dynamic.Interface,
// exactly as the teacher's builder.go addresses foreign CRDs, pointed
// at the two fixed GVRs this controller cares about.
type dynamicClient struct {
	dynamic      dynamic.Interface
	logger       klog.Logger
	defaultLimit int
	limiter      *rate.Limiter
	recorder     LimitFailureRecorder
}

var _ Client = (*dynamicClient)(nil)

// New returns a Client backed by dyn. limiter throttles mutating calls
// (patch/delete/create); pass nil to disable throttling. recorder may
// be nil.
func New(dyn dynamic.Interface, logger klog.Logger, defaultLimit int, limiter *rate.Limiter, recorder LimitFailureRecorder) Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &dynamicClient{dynamic: dyn, logger: logger, defaultLimit: defaultLimit, limiter: limiter, recorder: recorder}
}

// ReadLimit implements Client.
func (c *dynamicClient) ReadLimit(ctx context.Context) int {
	obj, err := c.dynamic.Resource(tekton.LimitGVR).Get(ctx, tekton.LimitObjectName, metav1.GetOptions{})
	if err != nil {
		c.logger.V(2).Info("limit object unreadable, using default", "name", tekton.LimitObjectName, "default", c.defaultLimit, "error", err.Error())
		c.recordLimitFailure()
		return c.defaultLimit
	}

	limit, found, err := unstructured.NestedInt64(obj.Object, "spec", "maxPipelines")
	if err != nil || !found {
		// Some clients decode small numbers as float64 rather than int64.
		limitFloat, foundFloat, errFloat := unstructured.NestedFloat64(obj.Object, "spec", "maxPipelines")
		if errFloat != nil || !foundFloat {
			c.logger.V(2).Info("limit object malformed, using default", "name", tekton.LimitObjectName, "default", c.defaultLimit)
			c.recordLimitFailure()
			return c.defaultLimit
		}
		return int(limitFloat)
	}

	return int(limit)
}

func (c *dynamicClient) recordLimitFailure() {
	if c.recorder != nil {
		c.recorder.ObserveLimitReadFailure()
	}
}

// ListAll implements Client.
func (c *dynamicClient) ListAll(ctx context.Context) ([]*unstructured.Unstructured, string, error) {
	list, err := c.dynamic.Resource(tekton.PipelineRunGVR).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("error listing %s: %w", tekton.PipelineRunGVR.String(), err)
	}

	items := make([]*unstructured.Unstructured, len(list.Items))
	for i := range list.Items {
		items[i] = &list.Items[i]
	}

	return items, list.GetResourceVersion(), nil
}

// Watch implements Client.
func (c *dynamicClient) Watch(ctx context.Context, resourceVersion string) (watch.Interface, error) {
	w, err := c.dynamic.Resource(tekton.PipelineRunGVR).Watch(ctx, metav1.ListOptions{
		ResourceVersion: resourceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("error watching %s from %q: %w", tekton.PipelineRunGVR.String(), resourceVersion, err)
	}
	return w, nil
}

// PatchSpecStatus implements Client.
func (c *dynamicClient) PatchSpecStatus(ctx context.Context, namespace, name, value string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var patch []byte
	var err error
	if value == "" {
		patch, err = json.Marshal(map[string]interface{}{
			"spec": map[string]interface{}{"status": nil},
		})
	} else {
		patch, err = json.Marshal(map[string]interface{}{
			"spec": map[string]interface{}{"status": value},
		})
	}
	if err != nil {
		return fmt.Errorf("error building spec.status patch: %w", err)
	}

	_, err = c.dynamic.Resource(tekton.PipelineRunGVR).Namespace(namespace).
		Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("error patching spec.status on %s/%s: %w", namespace, name, err)
	}
	return nil
}

// PatchLabel implements Client.
func (c *dynamicClient) PatchLabel(ctx context.Context, namespace, name, key, value string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	patch, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{
			"labels": map[string]interface{}{key: value},
		},
	})
	if err != nil {
		return fmt.Errorf("error building label patch: %w", err)
	}

	_, err = c.dynamic.Resource(tekton.PipelineRunGVR).Namespace(namespace).
		Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("error patching label on %s/%s: %w", namespace, name, err)
	}
	return nil
}

// Delete implements Client.
func (c *dynamicClient) Delete(ctx context.Context, namespace, name string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	propagation := metav1.DeletePropagationBackground
	err := c.dynamic.Resource(tekton.PipelineRunGVR).Namespace(namespace).
		Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil {
		return fmt.Errorf("error deleting %s/%s: %w", namespace, name, err)
	}
	return nil
}

// Create implements Client.
func (c *dynamicClient) Create(ctx context.Context, obj *unstructured.Unstructured) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.dynamic.Resource(tekton.PipelineRunGVR).Namespace(obj.GetNamespace()).
		Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("error creating %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// IsExpired implements Client.
func (c *dynamicClient) IsExpired(err error) bool {
	return apierrors.IsResourceExpired(err) || apierrors.IsGone(err)
}

// IsRejected implements Client.
func (c *dynamicClient) IsRejected(err error) bool {
	return apierrors.IsInvalid(err) || apierrors.IsConflict(err)
}
