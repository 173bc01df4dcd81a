package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/crypto/bcrypt"

	"supportchat/internal/app/chat"
	"supportchat/internal/app/db"
	"supportchat/internal/configs"
	"supportchat/internal/pkg/auth/jwt"
	"supportchat/internal/pkg/errs"
	"supportchat/internal/pkg/resp"
)

type fakeUsers struct {
	mu         sync.Mutex
	users      map[string]db.User
	lastLogins int
}

func newFakeUsers(t *testing.T) *fakeUsers {
	t.Helper()

	f := &fakeUsers{users: map[string]db.User{}}
	f.add(t, "alice", "secret", "EMPLOYEE")
	f.add(t, "bob", "hunter2", "CLIENT")
	return f
}

func (f *fakeUsers) add(t *testing.T, username, password, role string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[username] = db.User{
		ID:           pgtype.UUID{Bytes: [16]byte{byte(len(f.users) + 1)}, Valid: true},
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	}
}

func (f *fakeUsers) remove(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, username)
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return db.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (f *fakeUsers) UpdateLastLogin(context.Context, pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLogins++
	return nil
}

var testConfig = &configs.AppConfig{
	Environment:      configs.EnvDevelopment,
	Port:             8080,
	JWTSecret:        "access-secret",
	JWTRefreshSecret: "refresh-secret",
	AccessTokenTTL:   time.Minute,
	RefreshTokenTTL:  time.Hour,
}

func newTestDeps(t *testing.T) (*AppDeps, *fakeUsers) {
	t.Helper()

	hub := chat.NewHub(chat.NewLocalBackplane())
	if err := hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(hub.Shutdown)

	users := newFakeUsers(t)
	return &AppDeps{Hub: hub, Config: testConfig, Users: users}, users
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) resp.Envelope {
	t.Helper()

	env, err := resp.DecodeEnvelope(w.Body, 1<<20)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if err := env.DecodeData(data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return env
}

func login(t *testing.T, h http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(LoginInput{Username: username, Password: password})
	r := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range w.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatal("no refresh cookie set")
	return nil
}

func TestLoginIssuesTokens(t *testing.T) {
	deps, users := newTestDeps(t)
	h := Router(deps)

	w := login(t, h, "alice", "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var out TokenResponse
	decode(t, w, &out)
	if out.Username != "alice" || out.Role != "EMPLOYEE" {
		t.Fatalf("response = %+v", out)
	}

	payload, err := jwt.ParseToken(out.Token, testConfig.JWTSecret, jwt.KindAccess)
	if err != nil || payload.Username != "alice" {
		t.Fatalf("access token: %+v %v", payload, err)
	}

	c := refreshCookie(t, w)
	if !c.HttpOnly || c.Path != RefreshCookiePath || c.MaxAge <= 0 {
		t.Fatalf("refresh cookie = %+v", c)
	}
	if _, err := jwt.ParseToken(c.Value, testConfig.JWTRefreshSecret, jwt.KindRefresh); err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if users.lastLogins != 1 {
		t.Fatalf("last login updates = %d", users.lastLogins)
	}
}

func TestLoginRejects(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := Router(deps)

	tests := []struct {
		name       string
		username   string
		password   string
		wantStatus int
		wantCode   int
	}{
		{"wrong password", "alice", "nope", http.StatusUnauthorized, errs.ErrInvalidCredentials},
		{"unknown user", "mallory", "secret", http.StatusUnauthorized, errs.ErrInvalidCredentials},
		{"missing password", "alice", "", http.StatusBadRequest, errs.ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := login(t, h, tt.username, tt.password)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if env := decode(t, w, nil); env.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", env.Code, tt.wantCode)
			}
		})
	}

	r := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("username=alice"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("form login status = %d", w.Code)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := Router(deps)

	for i := range LoginBurst {
		if w := login(t, h, "alice", "nope"); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i, w.Code)
		}
	}
	if w := login(t, h, "alice", "secret"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status after burst = %d", w.Code)
	}
}

func TestMe(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := Router(deps)

	var tokens TokenResponse
	decode(t, login(t, h, "bob", "hunter2"), &tokens)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		want       MeResponse
	}{
		{"guest", "", http.StatusOK, MeResponse{Authenticated: false, Username: "guest", Role: "GUEST"}},
		{"null bearer", "Bearer null", http.StatusOK, MeResponse{Authenticated: false, Username: "guest", Role: "GUEST"}},
		{"authenticated", "Bearer " + tokens.Token, http.StatusOK, MeResponse{Authenticated: true, Username: "bob", Role: "CLIENT"}},
		{"invalid token", "Bearer forged", http.StatusUnauthorized, MeResponse{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if env := decode(t, w, nil); env.Code != errs.ErrUnauthorized {
					t.Fatalf("code = %d", env.Code)
				}
				return
			}
			var got MeResponse
			decode(t, w, &got)
			if got != tt.want {
				t.Fatalf("me = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func refresh(h http.Handler, cookie *http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	if cookie != nil {
		r.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRefresh(t *testing.T) {
	deps, users := newTestDeps(t)
	h := Router(deps)

	lw := login(t, h, "alice", "secret")
	var first TokenResponse
	decode(t, lw, &first)
	cookie := refreshCookie(t, lw)

	w := refresh(h, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var out TokenResponse
	decode(t, w, &out)
	if out.Token == "" || out.Token == first.Token || out.Username != "alice" || out.Role != "EMPLOYEE" {
		t.Fatalf("refresh response = %+v", out)
	}
	if rotated := refreshCookie(t, w); rotated.Value == cookie.Value {
		t.Fatal("refresh cookie not rotated")
	}

	t.Run("missing cookie", func(t *testing.T) {
		w := refresh(h, nil)
		if env := decode(t, w, nil); w.Code != http.StatusUnauthorized || env.Code != errs.ErrRefreshTokenMissing {
			t.Fatalf("status %d code %d", w.Code, env.Code)
		}
		if c := refreshCookie(t, w); c.MaxAge >= 0 {
			t.Fatalf("cookie not cleared: %+v", c)
		}
	})

	t.Run("access token as refresh token", func(t *testing.T) {
		w := refresh(h, &http.Cookie{Name: RefreshCookieName, Value: first.Token})
		if env := decode(t, w, nil); w.Code != http.StatusUnauthorized || env.Code != errs.ErrRefreshTokenInvalid {
			t.Fatalf("status %d code %d", w.Code, env.Code)
		}
	})

	t.Run("deleted account", func(t *testing.T) {
		users.remove("alice")
		w := refresh(h, cookie)
		if env := decode(t, w, nil); w.Code != http.StatusUnauthorized || env.Code != errs.ErrRefreshTokenInvalid {
			t.Fatalf("status %d code %d", w.Code, env.Code)
		}
	})
}

func TestLogoutClearsRefreshCookie(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := Router(deps)

	r := httptest.NewRequest(http.MethodGet, "/api/logout", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if c := refreshCookie(t, w); c.MaxAge >= 0 || c.Value != "" || c.Path != RefreshCookiePath {
		t.Fatalf("cookie = %+v", c)
	}
}

func TestHealth(t *testing.T) {
	deps, _ := newTestDeps(t)
	w := httptest.NewRecorder()
	Router(deps).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var data map[string]any
	if env := decode(t, w, &data); w.Code != http.StatusOK || env.Code != 0 || data["status"] != "ok" {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestLoginStoreFailure(t *testing.T) {
	// A store failure other than not-found is a server error, not a credential error.
	deps, _ := newTestDeps(t)
	deps.Users = failingUsers{}
	h := Router(deps)

	w := login(t, h, "alice", "secret")
	if env := decode(t, w, nil); w.Code != http.StatusInternalServerError || env.Code != errs.ErrUnknown {
		t.Fatalf("status %d code %d", w.Code, env.Code)
	}
}

type failingUsers struct{}

func (failingUsers) GetUserByUsername(context.Context, string) (db.User, error) {
	return db.User{}, errors.New("connection reset")
}

func (failingUsers) UpdateLastLogin(context.Context, pgtype.UUID) error { return nil }
