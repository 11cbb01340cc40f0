package store

import (
	"sync"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func newObj(namespace, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{
			"namespace": namespace,
			"name":      name,
		},
	}}
}

func TestStore_UpsertSnapshotRemove(t *testing.T) {
	t.Parallel()

	s := New()
	s.Upsert(newObj("team-cicd", "a"))
	s.Upsert(newObj("team-cicd", "b"))

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}

	s.Remove("team-cicd/a")
	snap = s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 entry after remove, got %d", len(snap))
	}
	if _, ok := snap["team-cicd/b"]; !ok {
		t.Fatal("expected team-cicd/b to remain")
	}
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	s := New()
	s.Upsert(newObj("team-cicd", "a"))
	s.Clear()
	if len(s.Snapshot()) != 0 {
		t.Fatal("expected an empty store after Clear")
	}
}

func TestStore_PatchProjection(t *testing.T) {
	t.Parallel()

	s := New()
	s.Upsert(newObj("team-cicd", "a"))

	s.PatchProjection("team-cicd/a", func(obj *unstructured.Unstructured) {
		obj.SetLabels(map[string]string{"patched": "yes"})
	})

	snap := s.Snapshot()
	if snap["team-cicd/a"].GetLabels()["patched"] != "yes" {
		t.Fatal("expected PatchProjection mutation to be visible")
	}
}

func TestStore_PatchProjection_NoopOnMissingKey(t *testing.T) {
	t.Parallel()

	s := New()
	s.PatchProjection("does-not-exist", func(obj *unstructured.Unstructured) {
		t.Fatal("mutate should not be called for a missing key")
	})
	if len(s.Snapshot()) != 0 {
		t.Fatal("expected the store to remain empty")
	}
}

func TestStore_SnapshotIsolatedFromFutureWrites(t *testing.T) {
	t.Parallel()

	s := New()
	s.Upsert(newObj("team-cicd", "a"))
	snap := s.Snapshot()

	s.Upsert(newObj("team-cicd", "b"))
	if len(snap) != 1 {
		t.Fatal("expected a prior snapshot to be unaffected by later writes")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Upsert(newObj("team-cicd", "run"))
			s.Snapshot()
			s.PatchProjection("team-cicd/run", func(obj *unstructured.Unstructured) {})
		}(i)
	}
	wg.Wait()
}
