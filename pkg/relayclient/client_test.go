package relayclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthrelay/oauthrelay/pkg/relay"
	"github.com/oauthrelay/oauthrelay/pkg/relayclient"
)

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	server, err := relay.NewServer(relay.WithSessionTTL(time.Minute))
	require.NoError(t, err)

	e := echo.New()
	server.MountRoutes(e)

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts
}

func TestNewSessionToken(t *testing.T) {
	first := relayclient.NewSessionToken()
	second := relayclient.NewSessionToken()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestCallbackURL(t *testing.T) {
	client := relayclient.New("https://relay.example.com/")

	assert.Equal(t,
		"https://relay.example.com/callback?session=my+token",
		client.CallbackURL("my token"))
}

func TestRegisterAndPoll(t *testing.T) {
	ts := newRelayServer(t)
	client := relayclient.New(ts.URL)
	ctx := context.Background()
	token := relayclient.NewSessionToken()

	require.NoError(t, client.Register(ctx, token))

	result, err := client.Poll(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusPending, result.Status)

	_, err = http.Get(client.CallbackURL(token) + "&code=XYZ")
	require.NoError(t, err)

	result, err = client.Poll(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusComplete, result.Status)
	assert.Equal(t, "XYZ", result.Code)

	result, err = client.Poll(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusNotFound, result.Status)
}

func TestWaitReceivesPushedResult(t *testing.T) {
	ts := newRelayServer(t)
	client := relayclient.New(ts.URL)
	token := relayclient.NewSessionToken()

	go func() {
		// Simulated provider redirect shortly after the client starts
		// waiting.
		time.Sleep(100 * time.Millisecond)
		http.Get(client.CallbackURL(token) + "&code=pushed-code")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Wait(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusComplete, result.Status)
	assert.Equal(t, "pushed-code", result.Code)
}

func TestWaitFallsBackToPolling(t *testing.T) {
	// A plain mux without the websocket route forces the fallback path.
	store := relay.NewMemoryStore(time.Minute)
	server, err := relay.NewServer(relay.WithStore(store))
	require.NoError(t, err)

	e := echo.New()
	server.MountRoutes(e)
	mux := http.NewServeMux()
	mux.Handle("/callback", e)
	mux.Handle("/poll/", e)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	client := relayclient.New(ts.URL, relayclient.WithPollInterval(20*time.Millisecond))
	token := relayclient.NewSessionToken()

	go func() {
		time.Sleep(100 * time.Millisecond)
		http.Get(client.CallbackURL(token) + "&code=polled-code")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Wait(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusComplete, result.Status)
	assert.Equal(t, "polled-code", result.Code)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	ts := newRelayServer(t)
	client := relayclient.New(ts.URL)
	token := relayclient.NewSessionToken()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := client.Wait(ctx, token)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
