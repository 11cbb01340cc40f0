package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"

	"github.com/wonjune95/tekton-queue-controller/internal/enforce"
	"github.com/wonjune95/tekton-queue-controller/internal/store"
	"github.com/wonjune95/tekton-queue-controller/internal/tekton"
)

type rawClassifier struct{}

func (rawClassifier) ConditionStatus(obj *unstructured.Unstructured) string {
	return tekton.RawConditionStatus(obj)
}

type fakeClient struct {
	mu          sync.Mutex
	listItems   []*unstructured.Unstructured
	listErr     error
	watchCh     chan watch.Event
	watchErr    error
	limit       int
	patchedSpec []string
	expiredErr  error
}

func (f *fakeClient) ReadLimit(context.Context) int { return f.limit }

func (f *fakeClient) ListAll(context.Context) ([]*unstructured.Unstructured, string, error) {
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	return f.listItems, "1", nil
}

func (f *fakeClient) Watch(context.Context, string) (watch.Interface, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return &fakeWatch{ch: f.watchCh}, nil
}

func (f *fakeClient) PatchSpecStatus(_ context.Context, namespace, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchedSpec = append(f.patchedSpec, tekton.Key(namespace, name)+"="+value)
	return nil
}

func (f *fakeClient) PatchLabel(context.Context, string, string, string, string) error { return nil }
func (f *fakeClient) Delete(context.Context, string, string) error                     { return nil }
func (f *fakeClient) Create(context.Context, *unstructured.Unstructured) error          { return nil }
func (f *fakeClient) IsExpired(error) bool { return f.expiredErr != nil }
func (f *fakeClient) IsRejected(error) bool { return false }

type fakeWatch struct {
	ch chan watch.Event
}

func (w *fakeWatch) Stop() {}

func (w *fakeWatch) ResultChan() <-chan watch.Event { return w.ch }

func newRunningRun(namespace, name string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"namespace": namespace, "name": name},
	}}
	obj.SetCreationTimestamp(metav1.Now())
	return obj
}

func TestRunOnce_SyncsStoreFromList(t *testing.T) {
	t.Parallel()

	matcher, err := tekton.NewNamespaceMatcher("*-cicd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := store.New()
	client := &fakeClient{
		listItems: []*unstructured.Unstructured{newRunningRun("team-cicd", "a")},
		watchCh:   make(chan watch.Event),
	}
	w := New(client, st, matcher, rawClassifier{}, enforce.New(client, klog.Background(), nil), klog.Background(), nil)
	w.sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	w.runOnce(ctx)

	if len(st.Snapshot()) != 1 {
		t.Fatalf("expected the list results to seed the store, got %d entries", len(st.Snapshot()))
	}
}

func TestGate_EnforcesWhenOverLimit(t *testing.T) {
	t.Parallel()

	matcher, err := tekton.NewNamespaceMatcher("*-cicd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := store.New()
	st.Upsert(newRunningRun("team-cicd", "a"))
	st.Upsert(newRunningRun("team-cicd", "b"))

	client := &fakeClient{limit: 1}
	w := New(client, st, matcher, rawClassifier{}, enforce.New(client, klog.Background(), nil), klog.Background(), nil)

	w.gate(context.Background(), newRunningRun("team-cicd", "b"))

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.patchedSpec) != 1 {
		t.Fatalf("expected the enforcer to pause the over-limit run, got %v", client.patchedSpec)
	}
}

func TestGate_SkipsUnmanagedNamespace(t *testing.T) {
	t.Parallel()

	matcher, err := tekton.NewNamespaceMatcher("*-cicd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := store.New()
	client := &fakeClient{limit: 0}
	w := New(client, st, matcher, rawClassifier{}, enforce.New(client, klog.Background(), nil), klog.Background(), nil)

	w.gate(context.Background(), newRunningRun("other-namespace", "a"))

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.patchedSpec) != 0 {
		t.Fatalf("expected no enforcement for an unmanaged namespace, got %v", client.patchedSpec)
	}
}

func TestStream_RelistsWithoutBackoffOnExpiry(t *testing.T) {
	t.Parallel()

	matcher, err := tekton.NewNamespaceMatcher("*-cicd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expiredErr := errors.New("resource version too old")
	client := &fakeClient{expiredErr: expiredErr, watchCh: make(chan watch.Event, 1)}
	st := store.New()
	w := New(client, st, matcher, rawClassifier{}, enforce.New(client, klog.Background(), nil), klog.Background(), nil)

	var sleptFor []time.Duration
	w.sleep = func(d time.Duration) { sleptFor = append(sleptFor, d) }

	client.watchCh <- watch.Event{Type: watch.Error, Object: &metav1.Status{Reason: metav1.StatusReasonExpired}}

	w.stream(context.Background(), &fakeWatch{ch: client.watchCh})

	if len(sleptFor) != 0 {
		t.Fatalf("expected no backoff on resource-version expiry, got %v", sleptFor)
	}
}
