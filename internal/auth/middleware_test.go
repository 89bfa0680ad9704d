package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ci:evaluator|query_reader, k2:ops:admin")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Subject != "ci" {
		t.Fatalf("Subject = %q", identity.Subject)
	}
	if !identity.HasRole(RoleEvaluator) || identity.HasRole(RoleAdmin) {
		t.Fatalf("roles = %v", identity.Roles)
	}
	admin, _ := validator.Validate(context.Background(), "k2")
	if !admin.HasRole(RoleQueryReader) {
		t.Fatal("admin should satisfy every role")
	}
}

func TestStaticAPIKeyValidatorRejectsMalformedEntries(t *testing.T) {
	for _, entry := range []string{"invalid", "k1:ci:table_writer", "k1:ci:admin,k1:other:admin", "k1::admin"} {
		if _, err := NewStaticAPIKeyValidator(entry); err == nil {
			t.Fatalf("expected parse error for %q", entry)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ci:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ci:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	var seen Identity
	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if seen.Subject != "ci" {
		t.Fatalf("Subject = %q", seen.Subject)
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole(RoleEvaluator, next)

	cases := []struct {
		name     string
		identity *Identity
		want     int
	}{
		{"no identity", nil, http.StatusNoContent},
		{"missing role", &Identity{Subject: "u", Roles: []string{RoleQueryReader}}, http.StatusForbidden},
		{"has role", &Identity{Subject: "u", Roles: []string{RoleEvaluator}}, http.StatusNoContent},
		{"admin", &Identity{Subject: "u", Roles: []string{RoleAdmin}}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)
			if tc.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tc.identity))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}
