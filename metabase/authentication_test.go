package metabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionServer(t *testing.T, slowAttempts int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)

		var body createSessionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if n <= slowAttempts {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
		}

		_ = json.NewEncoder(w).Encode(session{Id: "session-id"})
	})
	mux.HandleFunc("GET /api/user/current", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Metabase-Session") != "session-id" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id": 1}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, &attempts
}

func TestMakeAuthenticatedClientWithUsernameAndPassword(t *testing.T) {
	server, attempts := newSessionServer(t, 0)

	client, err := MakeAuthenticatedClientWithUsernameAndPassword(context.Background(), server.URL, "admin@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, int32(1), attempts.Load())

	resp, err := client.Get(context.Background(), "/api/user/current")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
}

func TestMakeAuthenticatedClientRetriesAfterTimeout(t *testing.T) {
	previous := sessionTimeouts
	sessionTimeouts = []time.Duration{50 * time.Millisecond, 5 * time.Second}
	t.Cleanup(func() { sessionTimeouts = previous })

	server, attempts := newSessionServer(t, 1)

	_, err := MakeAuthenticatedClientWithUsernameAndPassword(context.Background(), server.URL, "admin@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestMakeAuthenticatedClientFailsOnBadCredentials(t *testing.T) {
	server, attempts := newSessionServer(t, 0)

	_, err := MakeAuthenticatedClientWithUsernameAndPassword(context.Background(), server.URL, "admin@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "authentication failures other than timeouts are not retried")
}

func TestMakeAuthenticatedClientWithApiKey(t *testing.T) {
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	client, err := MakeAuthenticatedClientWithApiKey(context.Background(), server.URL, "mb_key")
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/api/card")
	require.NoError(t, err)
	assert.Equal(t, "mb_key", header)
}

func TestMakeAuthenticatedClientLeavesOptionsUntouched(t *testing.T) {
	server, _ := newSessionServer(t, 0)

	opts := make([]ClientOption, 1, 2)
	opts[0] = WithLogger(nil)

	_, err := MakeAuthenticatedClientWithUsernameAndPassword(context.Background(), server.URL, "admin@example.com", "secret", opts...)
	require.NoError(t, err)
	assert.Nil(t, opts[:2][1])

	_, err = MakeAuthenticatedClientWithApiKey(context.Background(), server.URL, "mb_key", opts...)
	require.NoError(t, err)
	assert.Nil(t, opts[:2][1])
}
