package jwt

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"supportchat/internal/app/user"
)

const testSecret = "test-secret"

var alice = user.User{ID: "u1", Username: "alice", Role: user.RoleEmployee}

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken(alice, KindAccess, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	payload, err := ParseToken(token, testSecret, KindAccess)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if payload.Username != "alice" || payload.Role != user.RoleEmployee || payload.Subject != "alice" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if id := payload.Identity(); !id.IsOperator() {
		t.Fatalf("identity = %+v", id)
	}

	exp, ok := PeekExpiry(token)
	if !ok || exp.Unix() != payload.ExpiresAt {
		t.Fatalf("PeekExpiry = %v, %v", exp, ok)
	}
}

func TestParseTokenRejects(t *testing.T) {
	access, _ := GenerateToken(alice, KindAccess, testSecret, time.Minute)
	expired, _ := GenerateToken(alice, KindAccess, testSecret, -time.Minute)

	if _, err := ParseToken(access, "other-secret", KindAccess); err == nil {
		t.Error("token signed with another secret accepted")
	}
	if _, err := ParseToken(expired, testSecret, KindAccess); err == nil {
		t.Error("expired token accepted")
	}
	if _, err := ParseToken(access, testSecret, KindRefresh); !errors.Is(err, ErrWrongTokenKind) {
		t.Errorf("access token accepted as refresh token: %v", err)
	}
	if _, err := ParseToken("garbage", testSecret, KindAccess); err == nil {
		t.Error("garbage accepted")
	}
}

func TestIdentityMiddleware(t *testing.T) {
	valid, _ := GenerateToken(alice, KindAccess, testSecret, time.Minute)

	var seen user.Identity
	h := IdentityMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdentityFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"no credential", "", http.StatusNoContent, ""},
		{"null credential", "Bearer null", http.StatusNoContent, ""},
		{"valid credential", "Bearer " + valid, http.StatusNoContent, "alice"},
		{"invalid credential", "Bearer nope", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = user.Identity{}
			r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusNoContent && seen.Username != tt.wantUser {
				t.Fatalf("identity = %+v", seen)
			}
		})
	}
}
