package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUserFromHeader(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedUser   int64
	}{
		{name: "valid id", header: "42", expectedStatus: http.StatusOK, expectedUser: 42},
		{name: "missing header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "not a number", header: "abc", expectedStatus: http.StatusUnauthorized},
		{name: "zero", header: "0", expectedStatus: http.StatusUnauthorized},
		{name: "negative", header: "-7", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser int64
			var called bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotUser, _ = UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
			if tt.header != "" {
				req.Header.Set(UserHeader, tt.header)
			}
			rr := httptest.NewRecorder()

			UserFromHeader(next).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if called != (tt.expectedStatus == http.StatusOK) {
				t.Errorf("next called = %v", called)
			}
			if gotUser != tt.expectedUser {
				t.Errorf("user = %d, want %d", gotUser, tt.expectedUser)
			}
		})
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := UserIDFromContext(req.Context()); ok {
		t.Error("expected no user in empty context")
	}
}
