package orchestrator

import (
	"context"
	"errors"
	"testing"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/klog/v2"

	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

func newFakeClient(t *testing.T, recorder LimitFailureRecorder, objects ...runtime.Object) (Client, *dynamicfake.FakeDynamicClient) {
	t.Helper()
	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{
		tekton.PipelineRunGVR: "PipelineRunList",
		tekton.LimitGVR:       "GlobalLimitList",
	}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, objects...)
	return New(dyn, klog.Background(), tekton.DefaultLimit, nil, recorder), dyn
}

func newLimitObject(maxPipelines int64) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "tekton.devops/v1",
		"kind":       "GlobalLimit",
		"metadata": map[string]interface{}{
			"name": tekton.LimitObjectName,
		},
		"spec": map[string]interface{}{
			"maxPipelines": maxPipelines,
		},
	}}
}

type countingRecorder struct{ failures int }

func (r *countingRecorder) ObserveLimitReadFailure() { r.failures++ }

func TestReadLimit_ReturnsConfiguredValue(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t, nil, newLimitObject(7))
	if got := client.ReadLimit(context.Background()); got != 7 {
		t.Fatalf("ReadLimit() = %d, want 7", got)
	}
}

func TestReadLimit_FallsBackAndRecordsOnMissingObject(t *testing.T) {
	t.Parallel()

	rec := &countingRecorder{}
	client, _ := newFakeClient(t, rec)
	if got := client.ReadLimit(context.Background()); got != tekton.DefaultLimit {
		t.Fatalf("ReadLimit() = %d, want default %d", got, tekton.DefaultLimit)
	}
	if rec.failures != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", rec.failures)
	}
}

func TestReadLimit_FallsBackAndRecordsOnMalformedSpec(t *testing.T) {
	t.Parallel()

	malformed := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "tekton.devops/v1",
		"kind":       "GlobalLimit",
		"metadata":   map[string]interface{}{"name": tekton.LimitObjectName},
		"spec":       map[string]interface{}{"maxPipelines": "not-a-number"},
	}}

	rec := &countingRecorder{}
	client, _ := newFakeClient(t, rec, malformed)
	if got := client.ReadLimit(context.Background()); got != tekton.DefaultLimit {
		t.Fatalf("ReadLimit() = %d, want default %d", got, tekton.DefaultLimit)
	}
	if rec.failures != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", rec.failures)
	}
}

func TestListAll_ReturnsItemsAndResourceVersion(t *testing.T) {
	t.Parallel()

	run := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "tekton.dev/v1",
		"kind":       "PipelineRun",
		"metadata": map[string]interface{}{
			"namespace":       "team-cicd",
			"name":            "build-1",
			"resourceVersion": "1",
		},
	}}
	client, _ := newFakeClient(t, nil, run)

	items, _, err := client.ListAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if got, want := items[0].GetName(), "build-1"; got != want {
		t.Fatalf("got name %q, want %q", got, want)
	}
}

func TestPatchSpecStatus_SetsAndClears(t *testing.T) {
	t.Parallel()

	run := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "tekton.dev/v1",
		"kind":       "PipelineRun",
		"metadata":   map[string]interface{}{"namespace": "team-cicd", "name": "build-1"},
	}}
	client, dyn := newFakeClient(t, nil, run)

	if err := client.PatchSpecStatus(context.Background(), "team-cicd", "build-1", tekton.PausedSentinel); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := dyn.Resource(tekton.PipelineRunGVR).Namespace("team-cicd").Get(context.Background(), "build-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status := tekton.SpecStatus(got); status != tekton.PausedSentinel {
		t.Fatalf("spec.status = %q, want %q", status, tekton.PausedSentinel)
	}

	if err := client.PatchSpecStatus(context.Background(), "team-cicd", "build-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err = dyn.Resource(tekton.PipelineRunGVR).Namespace("team-cicd").Get(context.Background(), "build-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status := tekton.SpecStatus(got); status != "" {
		t.Fatalf("expected spec.status cleared, got %q", status)
	}
}

func TestIsExpiredAndIsRejected(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t, nil)

	gr := schema.GroupResource{Group: tekton.PipelineRunGVR.Group, Resource: tekton.PipelineRunGVR.Resource}
	expired := apierrors.NewResourceExpired("resource version too old")
	conflict := apierrors.NewConflict(gr, "build-1", errors.New("conflict"))

	if !client.IsExpired(expired) {
		t.Fatal("expected a resource-expired error to be classified as expired")
	}
	if !client.IsRejected(conflict) {
		t.Fatal("expected a conflict error to be classified as rejected")
	}
	if client.IsRejected(expired) {
		t.Fatal("expected a resource-expired error to not be classified as rejected")
	}
}
