package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("super-secret-key", "ghost")

	token, err := v.Issue("user-123", "Ada", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("failed to verify token: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("expected user ID user-123, got %s", claims.UserID)
	}
	if claims.Name != "Ada" {
		t.Errorf("expected name Ada, got %s", claims.Name)
	}
}

func TestVerifyRejects(t *testing.T) {
	good := NewVerifier("secret1", "ghost")
	expired, _ := good.Issue("u1", "", -time.Minute)
	foreign, _ := NewVerifier("secret2", "ghost").Issue("u1", "", time.Hour)
	wrongIssuer, _ := NewVerifier("secret1", "other").Issue("u1", "", time.Hour)
	noSubject, _ := good.Issue("", "", time.Hour)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", expired, ErrExpiredToken},
		{"bad signature", foreign, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"no subject", noSubject, ErrInvalidToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"empty", "", ErrMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := good.Verify(tt.token); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRequireMiddleware(t *testing.T) {
	v := NewVerifier("secret", "")
	token, _ := v.Issue("alice", "", time.Hour)

	var seen string
	h := v.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "alice" {
		t.Fatalf("header auth: status %d user %q", rec.Code, seen)
	}

	seen = ""
	req = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "alice" {
		t.Fatalf("query auth failed: status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
