// Package gateway - events.go streams a session's events over a websocket.
//
// DESIGN: GET /api/sessions/{id}/events upgrades to a websocket fed by a Hub
// subscription. The same socket carries client input:
//
//   - binary frames: PCM16 audio, handed to Manager.FeedAudio
//   - text frames:   JSON commands {"type": "text"|"audio_start"|"audio_stop"|"end"}
//
// The socket is closed normally after session_ended.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/realtime-gateway/internal/config"
)

const eventWriteTimeout = 10 * time.Second

// Client command types.
const (
	CommandText       = "text"
	CommandAudioStart = "audio_start"
	CommandAudioStop  = "audio_stop"
	CommandEnd        = "end"
)

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !g.hub.Known(id) {
		if _, err := g.manager.GetSession(id); err != nil {
			g.writeError(w, err.Error(), statusFor(err))
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(g.cfg.Server.AllowedOrigins),
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("gateway: websocket upgrade failed")
		return
	}
	conn.SetReadLimit(config.MaxRequestBodySize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := g.hub.Subscribe(id)
	defer unsubscribe()

	log.Debug().Str("session_id", id).Msg("gateway: event stream opened")
	go g.readClient(ctx, cancel, conn, id)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "stream closed")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				log.Debug().Err(err).Str("session_id", id).Msg("gateway: event write failed")
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// readClient handles frames from the client until the socket or ctx closes.
func (g *Gateway) readClient(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, id string) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug().Err(err).Str("session_id", id).Msg("gateway: client read failed")
			}
			return
		}

		if typ == websocket.MessageBinary {
			if _, err := g.manager.FeedAudio(id, data); err != nil {
				g.replyError(ctx, conn, id, err)
			}
			continue
		}
		if err := g.runCommand(ctx, id, data); err != nil {
			g.replyError(ctx, conn, id, err)
		}
	}
}

func (g *Gateway) runCommand(ctx context.Context, id string, data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("invalid JSON command")
	}
	cmd := gjson.ParseBytes(data)
	switch typ := cmd.Get("type").String(); typ {
	case CommandText:
		return g.manager.SendText(ctx, id, cmd.Get("text").String())
	case CommandAudioStart:
		return g.manager.StartAudioCapture(id)
	case CommandAudioStop:
		return g.manager.StopAudioCapture(id)
	case CommandEnd:
		// The summary reaches the client as session_ended.
		_, err := g.manager.EndSession(context.WithoutCancel(ctx), id)
		return err
	default:
		return fmt.Errorf("unknown command type %q", typ)
	}
}

// replyError sends a client_error frame. Errors are per-command; the stream stays open.
func (g *Gateway) replyError(ctx context.Context, conn *websocket.Conn, id string, cause error) {
	msg, _ := sjson.SetBytes([]byte(`{"event":"client_error"}`), "session_id", id)
	msg, _ = sjson.SetBytes(msg, "message", cause.Error())
	msg, _ = sjson.SetBytes(msg, "status", statusFor(cause))

	wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, msg); err != nil {
		log.Debug().Err(err).Str("session_id", id).Msg("gateway: error reply failed")
	}
}
