package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, clock *fakeClock, opts CookieOptions) *Store {
	t.Helper()
	store, err := NewStore(newTestCodec(t, clock), opts)
	require.NoError(t, err)
	return store
}

// headerWith returns request headers carrying the cookie as a browser would send it.
func headerWith(cookies ...*http.Cookie) http.Header {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req.Header
}

func TestNewStore_Defaults(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, CookieOptions{})

	require.Equal(t, DefaultCookieName, store.CookieName())

	d, err := store.Commit(Record{UserToken: "abc"})
	require.NoError(t, err)
	require.NotNil(t, d.Cookie)
	assert.Equal(t, "/", d.Cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, d.Cookie.SameSite)
	assert.True(t, d.Cookie.HttpOnly)
	assert.False(t, d.Cookie.Secure)

	_, err = NewStore(nil, CookieOptions{})
	require.Error(t, err)
}

func TestStore_CommitThenRead(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newTestStore(t, clock, CookieOptions{Name: "sid", Secure: true, Domain: "example.com"})

	d, err := store.Commit(Record{UserToken: "abc"})
	require.NoError(t, err)
	require.Zero(t, d.Status)
	require.False(t, d.Clears())

	c := d.Cookie
	require.NotNil(t, c)
	assert.Equal(t, "sid", c.Name)
	assert.NotEmpty(t, c.Value)
	assert.NotContains(t, c.Value, "userToken")
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, "example.com", c.Domain)
	assert.Equal(t, int(time.Hour.Seconds()), c.MaxAge)
	assert.Equal(t, clock.now.Add(time.Hour), c.Expires)

	rec := store.Read(headerWith(c))
	require.Equal(t, "abc", rec.UserToken)
}

func TestStore_CommitReplacesSession(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, CookieOptions{})

	first, err := store.Commit(Record{UserToken: "first"})
	require.NoError(t, err)
	second, err := store.Commit(Record{UserToken: "second"})
	require.NoError(t, err)

	require.Equal(t, first.Cookie.Name, second.Cookie.Name)
	require.Equal(t, "second", store.Read(headerWith(second.Cookie)).UserToken)
}

func TestStore_ReadRejects(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, CookieOptions{})

	valid, err := store.Commit(Record{UserToken: "abc"})
	require.NoError(t, err)

	otherStore, err := NewStore(newTestCodec(t, clock, otherSecret), CookieOptions{})
	require.NoError(t, err)
	foreign, err := otherStore.Commit(Record{UserToken: "abc"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "no header", header: http.Header{}},
		{name: "nil header", header: nil},
		{name: "other cookie", header: headerWith(&http.Cookie{Name: "theme", Value: "dark"})},
		{name: "empty value", header: headerWith(&http.Cookie{Name: DefaultCookieName, Value: ""})},
		{name: "garbage", header: headerWith(&http.Cookie{Name: DefaultCookieName, Value: "garbage"})},
		{name: "tampered", header: headerWith(&http.Cookie{Name: DefaultCookieName, Value: valid.Cookie.Value + "x"})},
		{name: "wrong secret", header: headerWith(foreign.Cookie)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := store.Read(tt.header)
			require.Equal(t, Record{}, rec)
			require.False(t, rec.HasToken())
		})
	}
}

func TestStore_ReadExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, CookieOptions{})

	d, err := store.Commit(Record{UserToken: "abc"})
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Hour)
	require.Equal(t, Record{}, store.Read(headerWith(d.Cookie)))
}

func TestStore_ReadAmongOtherCookies(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, CookieOptions{})

	d, err := store.Commit(Record{UserToken: "abc"})
	require.NoError(t, err)

	header := headerWith(&http.Cookie{Name: "theme", Value: "dark"}, d.Cookie, &http.Cookie{Name: "lang", Value: "en"})
	require.Equal(t, "abc", store.Read(header).UserToken)
}

func TestStore_ReadSkipsStaleDuplicate(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, CookieOptions{})

	stale, err := store.Commit(Record{UserToken: "old"})
	require.NoError(t, err)
	clock.now = clock.now.Add(2 * time.Hour)

	d, err := store.Commit(Record{UserToken: "abc"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "expired first", header: headerWith(stale.Cookie, d.Cookie)},
		{name: "garbage first", header: headerWith(&http.Cookie{Name: DefaultCookieName, Value: "garbage"}, d.Cookie)},
		{name: "valid first", header: headerWith(d.Cookie, &http.Cookie{Name: DefaultCookieName, Value: "garbage"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, "abc", store.Read(tt.header).UserToken)
		})
	}
}

func TestStore_CommitShortestTTLKeepsMaxAge(t *testing.T) {
	codec, err := NewCodec([][]byte{testSecret}, time.Second)
	require.NoError(t, err)
	store, err := NewStore(codec, CookieOptions{})
	require.NoError(t, err)

	d, err := store.Commit(Record{UserToken: "abc"})
	require.NoError(t, err)
	require.Equal(t, 1, d.Cookie.MaxAge)

	rec := httptest.NewRecorder()
	d.Apply(rec)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=1")
}

func TestStore_Destroy(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := newTestStore(t, clock, CookieOptions{Secure: true})

	d := store.Destroy()
	require.True(t, d.Clears())
	require.Zero(t, d.Status)

	c := d.Cookie
	assert.Equal(t, DefaultCookieName, c.Name)
	assert.Empty(t, c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Less(t, c.MaxAge, 0)
	assert.True(t, c.Expires.Equal(time.Unix(0, 0)))

	// idempotent: destroying twice yields the same directive
	require.Equal(t, d, store.Destroy())

	rec := httptest.NewRecorder()
	d.Apply(rec)
	setCookie := rec.Header().Get("Set-Cookie")
	assert.Contains(t, setCookie, DefaultCookieName+"=;")
	assert.Contains(t, setCookie, "Max-Age=0")
}
