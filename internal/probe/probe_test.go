package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"k8s.io/client-go/kubernetes"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
)

func TestNewServer_RegistersAllThreeProbes(t *testing.T) {
	t.Parallel()

	// The handlers issue real REST requests, which the fake clientset's nil
	// RESTClient cannot serve, so stand up a stub API server instead.
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer apiServer.Close()
	client := kubernetes.NewForConfigOrDie(&rest.Config{Host: apiServer.URL})
	srv := NewServer(context.Background(), ":0", "probe", client)

	for _, path := range []string{"/healthz", "/livez", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, req)

		if rec.Code == 404 {
			t.Errorf("expected %s to be routed, got 404", path)
		}
	}
}

func TestNewServer_UnknownPathIsNotRouted(t *testing.T) {
	t.Parallel()

	client := k8sfake.NewSimpleClientset()
	srv := NewServer(context.Background(), ":0", "probe", client)

	req := httptest.NewRequest("GET", "/not-a-probe", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("expected an unregistered path to 404, got %d", rec.Code)
	}
}
