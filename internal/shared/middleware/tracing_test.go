package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/api/accounts/refresh", "/api/accounts/refresh"},
		{"/api/institutions/", "/api/institutions/"},
		{"/api/institutions/bank-1", "/api/institutions/{id}"},
		{"/api/institutions/bank-1/duplicates", "/api/institutions/{id}/duplicates"},
		{"/api/institutions/bank-1/duplicates/merge", "/api/institutions/{id}/duplicates/merge"},
	}

	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestTracing_PassesThrough(t *testing.T) {
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})

	rr := httptest.NewRecorder()
	Tracing(next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/transactions/sync", nil))

	if !called {
		t.Fatal("next handler was not called")
	}
	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
}
