package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitushen/netsweep/internal/models"
)

type fakeUsers map[string]string

func (f fakeUsers) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	if pw, ok := f[username]; ok && pw == password {
		return &models.User{ID: 7, Username: username}, nil
	}
	return nil, errors.New("invalid credentials")
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func loginCookies(t *testing.T, m *Manager) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	if err := m.Login(rec, req, "admin", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("login did not set a cookie")
	}
	return cookies
}

func TestLoginRejectsBadPassword(t *testing.T) {
	m := NewManager(fakeUsers{"admin": "secret"}, testKey)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	if err := m.Login(rec, req, "admin", "wrong"); err == nil {
		t.Fatalf("expected error for bad password")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("no cookie expected after failed login")
	}
}

func TestMiddlewarePassesUserThrough(t *testing.T) {
	m := NewManager(fakeUsers{"admin": "secret"}, testKey)
	cookies := loginCookies(t, m)

	var gotID int64
	var gotName string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = UserFromContext(r.Context())
		gotName = UsernameFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if gotID != 7 || gotName != "admin" {
		t.Fatalf("got user %d %q", gotID, gotName)
	}
}

func TestMiddlewareRejectsAnonymous(t *testing.T) {
	m := NewManager(fakeUsers{}, testKey)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Fatalf("page request: status %d location %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hosts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("api request: status %d", rec.Code)
	}
}

func TestLogoutExpiresCookie(t *testing.T) {
	m := NewManager(fakeUsers{"admin": "secret"}, testKey)
	cookies := loginCookies(t, m)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	if err := m.Logout(rec, req); err != nil {
		t.Fatalf("logout: %v", err)
	}
	out := rec.Result().Cookies()
	if len(out) == 0 || out[0].MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", out)
	}
}
