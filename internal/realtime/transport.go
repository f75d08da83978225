package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/compresr/realtime-gateway/internal/utils"
)

// ErrRemoteClosed is returned by Conn.Read when the upstream closed the
// connection with a close frame.
var ErrRemoteClosed = errors.New("connection closed by upstream")

// Conn is one established bidirectional event stream.
// Read is called from a single goroutine; Write may be called concurrently.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Dialer opens a Conn to the upstream service.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// =============================================================================
// WEBSOCKET TRANSPORT
// =============================================================================

// DefaultReadLimit bounds a single inbound message; audio deltas are a few
// hundred KB at most.
const DefaultReadLimit = 8 << 20

// WSDialer dials the upstream over websocket with bearer auth.
// Transient failures (network errors, 5xx, 429) are retried with exponential
// backoff until the context expires; authentication and other 4xx failures
// are returned immediately.
type WSDialer struct {
	URL       string
	APIKey    string
	Header    http.Header // extra headers, e.g. OpenAI-Beta
	ReadLimit int64

	// Retry tuning. Zero values use the backoff defaults bounded by ctx.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	if d.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.APIKey)
	}

	url := toWebSocketURL(d.URL)
	var conn *websocket.Conn
	op := func() error {
		c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && !retryableStatus(resp.StatusCode) {
				return backoff.Permanent(fmt.Errorf("upstream rejected handshake: %s: %w", resp.Status, err))
			}
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if d.InitialInterval > 0 {
		b.InitialInterval = d.InitialInterval
	}
	if d.MaxInterval > 0 {
		b.MaxInterval = d.MaxInterval
	}
	b.MaxElapsedTime = 0 // bounded by ctx
	var policy backoff.BackOff = b
	if d.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(b, d.MaxRetries)
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("url", url).Str("api_key", utils.MaskKey(d.APIKey)).Dur("retry_in", wait).Msg("realtime: dial failed, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &wsConn{conn: conn}, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, fmt.Errorf("%w: status %d", ErrRemoteClosed, status)
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// toWebSocketURL converts an HTTP(S) URL to a WS(S) URL.
func toWebSocketURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	if strings.HasPrefix(httpURL, "http://") {
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}
