package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/realtime-gateway/internal/realtime"
)

// echoUpstream accepts a websocket, checks auth, echoes one message and then
// closes normally.
func echoUpstream(t *testing.T, gotAuth *atomic.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("accept: %v", err)
			return
		}
		ctx := r.Context()
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		_ = c.Write(ctx, typ, data)
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	}
}

func TestWSDialer_RoundTripAndRemoteClose(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(echoUpstream(t, &gotAuth))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := &realtime.WSDialer{URL: srv.URL, APIKey: "sk-test-key-123456", MaxRetries: 1}
	conn, err := d.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close("done")

	assert.Equal(t, "Bearer sk-test-key-123456", gotAuth.Load())

	require.NoError(t, conn.Write(ctx, []byte(`{"type":"response.create"}`)))
	data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "response.create", realtime.EventType(data))

	_, err = conn.Read(ctx)
	assert.ErrorIs(t, err, realtime.ErrRemoteClosed)
}

func TestWSDialer_AuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := &realtime.WSDialer{URL: srv.URL, APIKey: "bad", InitialInterval: time.Millisecond, MaxRetries: 5}
	_, err := d.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWSDialer_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var gotAuth atomic.Value
	echo := echoUpstream(t, &gotAuth)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		echo(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := &realtime.WSDialer{
		URL:             srv.URL,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      5,
	}
	conn, err := d.Dial(ctx)
	require.NoError(t, err)
	_ = conn.Close("done")
	assert.Equal(t, int32(3), calls.Load())
}
