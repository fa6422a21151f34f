package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/sessiongate/internal/backend"
	"github.com/wolfeidau/sessiongate/internal/identity"
	"github.com/wolfeidau/sessiongate/internal/login"
	"github.com/wolfeidau/sessiongate/internal/session"
	"golang.org/x/net/publicsuffix"
)

var testSecret = []byte("test-secret-key-minimum-32-bytes-long")

type fixture struct {
	gateway        *httptest.Server
	client         *http.Client
	authorityCalls atomic.Int32
	revoked        atomic.Bool
	backendAuth    atomic.Value
	backendCookie  atomic.Value
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.authorityCalls.Add(1)
		if f.revoked.Load() || r.Header.Get("Authorization") != "Bearer abc" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","email":"a@b.com","firstName":"Ann"}`))
	}))
	t.Cleanup(authority.Close)

	todos := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.backendAuth.Store(r.Header.Get("Authorization"))
		f.backendCookie.Store(r.Header.Get("Cookie"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"title":"milk","path":"` + r.URL.Path + `"}]`))
	}))
	t.Cleanup(todos.Close)

	codec, err := session.NewCodec([][]byte{testSecret}, time.Hour)
	require.NoError(t, err)
	store, err := session.NewStore(codec, session.CookieOptions{})
	require.NoError(t, err)
	client, err := identity.NewClient(authority.URL, identity.WithTimeout(time.Second))
	require.NoError(t, err)
	gw, err := login.NewGateway(store, client, login.Config{LoginRedirect: "/dashboard", LogoutRedirect: "/"})
	require.NoError(t, err)
	proxy, err := backend.NewProxy(todos.URL, gw)
	require.NoError(t, err)

	handler, err := NewHandler(Config{
		Gateway:     gw,
		Logger:      zerolog.Nop(),
		Backend:     proxy,
		CORSOrigins: []string{"https://app.example.com"},
	})
	require.NoError(t, err)

	f.gateway = httptest.NewServer(handler)
	t.Cleanup(f.gateway.Close)

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(t, err)
	f.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return f
}

func (f *fixture) do(t *testing.T, method, path string, body url.Values) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = strings.NewReader(body.Encode())
	}
	req, err := http.NewRequest(method, f.gateway.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) user(t *testing.T) *identity.Identity {
	t.Helper()
	resp := f.do(t, http.MethodGet, "/auth/user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		User *identity.Identity `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.User
}

func (f *fixture) hasSessionCookie(t *testing.T) bool {
	t.Helper()
	u, err := url.Parse(f.gateway.URL)
	require.NoError(t, err)
	for _, c := range f.client.Jar.Cookies(u) {
		if c.Name == session.DefaultCookieName {
			return true
		}
	}
	return false
}

func TestGateway_EndToEnd(t *testing.T) {
	f := newFixture(t)

	// anonymous: no authority traffic, api is closed
	require.Nil(t, f.user(t))
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/todos", nil).StatusCode)
	require.Equal(t, int32(0), f.authorityCalls.Load())

	// login commits the token and redirects
	resp := f.do(t, http.MethodPost, "/auth/session", url.Values{"access_token": {"abc"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
	require.True(t, f.hasSessionCookie(t))
	require.Equal(t, int32(0), f.authorityCalls.Load())

	require.Equal(t, &identity.Identity{ID: "1", Email: "a@b.com", FirstName: "Ann"}, f.user(t))
	require.Equal(t, int32(1), f.authorityCalls.Load())

	// the backend sees the bearer token and never the session cookie
	resp = f.do(t, http.MethodGet, "/api/todos", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":1,"title":"milk","path":"/todos"}]`, string(body))
	require.Equal(t, "Bearer abc", f.backendAuth.Load())
	require.Empty(t, f.backendCookie.Load())

	// the authority revokes the token: the session is torn down
	f.revoked.Store(true)
	resp = f.do(t, http.MethodGet, "/auth/user", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/auth/user", resp.Header.Get("Location"))
	require.False(t, f.hasSessionCookie(t))

	calls := f.authorityCalls.Load()
	require.Nil(t, f.user(t))
	require.Equal(t, calls, f.authorityCalls.Load())
}

func TestGateway_Logout(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/auth/session", url.Values{"access_token": {"abc"}, "redirect_to": {"/todos"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/todos", resp.Header.Get("Location"))
	require.True(t, f.hasSessionCookie(t))

	for range 2 {
		resp = f.do(t, http.MethodPost, "/logout", url.Values{})
		require.Equal(t, http.StatusFound, resp.StatusCode)
		require.Equal(t, "/", resp.Header.Get("Location"))
		require.False(t, f.hasSessionCookie(t))
	}

	require.Nil(t, f.user(t))
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/todos", nil).StatusCode)
}

func TestGateway_CrossOriginPostRejected(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.gateway.URL+"/auth/session", strings.NewReader("access_token=abc"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Sec-Fetch-Site", "cross-site")

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.False(t, f.hasSessionCookie(t))
}

func TestGateway_CORSPreflight(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.gateway.URL+"/api/todos", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	require.Equal(t, int32(0), f.authorityCalls.Load())
}

func TestGateway_Healthz(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(Config{})
	require.Error(t, err)
}

func TestRouteName(t *testing.T) {
	require.Equal(t, "/api/*", routeName("/api/todos/1"))
	require.Equal(t, "/api/*", routeName("/api"))
	require.Equal(t, "/apis", routeName("/apis"))
	require.Equal(t, "/auth/user", routeName("/auth/user"))
}
