package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, store Store) *httptest.Server {
	t.Helper()

	server, err := NewServer(WithStore(store))
	require.NoError(t, err)

	e := echo.New()
	server.MountRoutes(e)

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, rawURL string) (int, string) {
	t.Helper()

	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func pollJSON(t *testing.T, baseURL, token string) (int, Result) {
	t.Helper()

	resp, err := http.Get(baseURL + "/poll/" + url.PathEscape(token))
	require.NoError(t, err)
	defer resp.Body.Close()
	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return resp.StatusCode, result
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, NewMemoryStore(time.Minute))

	status, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"status":"ok"`)
}

func TestIndexServiceMetadata(t *testing.T) {
	ts := newTestServer(t, NewMemoryStore(time.Minute))

	status, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, ServiceName)
	assert.Contains(t, body, Version)
}

func TestCallbackRegistrationPing(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ts := newTestServer(t, store)

	status, body := get(t, ts.URL+"/callback?session=abc123")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Session registered")

	result, err := store.Peek("abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status)
}

func TestCallbackWithoutTokenRejected(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ts := newTestServer(t, store)

	status, _ := get(t, ts.URL+"/callback?code=XYZ")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 0, store.Len())
}

func TestCallbackCannotPreSeedSession(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ts := newTestServer(t, store)

	status, body := get(t, ts.URL+"/callback?session=unknown&code=XYZ")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "expired or not found")
	assert.Equal(t, 0, store.Len())
}

func TestPollEndToEnd(t *testing.T) {
	ts := newTestServer(t, NewMemoryStore(time.Minute))

	// Local app opens the session.
	status, _ := get(t, ts.URL+"/callback?session=abc123")
	require.Equal(t, http.StatusOK, status)

	status, result := pollJSON(t, ts.URL, "abc123")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, StatusPending, result.Status)

	// Provider redirect arrives.
	status, body := get(t, ts.URL+"/callback?session=abc123&code=XYZ")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authentication successful")

	status, result = pollJSON(t, ts.URL, "abc123")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, StatusComplete, result.Status)
	assert.Equal(t, "XYZ", result.Code)

	// Forget-after-use: the same poll now reports the session gone.
	status, result = pollJSON(t, ts.URL, "abc123")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, StatusNotFound, result.Status)
}

func TestCallbackProviderError(t *testing.T) {
	ts := newTestServer(t, NewMemoryStore(time.Minute))

	get(t, ts.URL+"/callback?session=abc123")

	status, body := get(t, ts.URL+"/callback?session=abc123&error=access_denied&error_description=User+denied+access")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "User denied access")

	status, result := pollJSON(t, ts.URL, "abc123")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "User denied access", result.ErrorDescription)
}

func TestDuplicateCallbackIsSuccessShaped(t *testing.T) {
	ts := newTestServer(t, NewMemoryStore(time.Minute))

	get(t, ts.URL+"/callback?session=abc123")
	status, _ := get(t, ts.URL+"/callback?session=abc123&code=first")
	require.Equal(t, http.StatusOK, status)

	// The replayed callback gets the same success page and mutates nothing.
	status, body := get(t, ts.URL+"/callback?session=abc123&code=second")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authentication successful")

	_, result := pollJSON(t, ts.URL, "abc123")
	assert.Equal(t, "first", result.Code)
}

func TestPollExpiredSessionIsGone(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(5*time.Minute, WithClock(clock.Now))
	ts := newTestServer(t, store)

	store.Register("s1")
	clock.Advance(5*time.Minute + time.Second)

	status, result := pollJSON(t, ts.URL, "s1")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, StatusNotFound, result.Status)
}

func TestPollOverlongTokenIsNotFound(t *testing.T) {
	ts := newTestServer(t, NewMemoryStore(time.Minute))

	status, result := pollJSON(t, ts.URL, strings.Repeat("x", maxTokenLength+1))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, StatusNotFound, result.Status)
}
