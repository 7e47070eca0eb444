package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/speechblobs/internal/session"
)

const eventWriteTimeout = 5 * time.Second

var errSlowConsumer = errors.New("api: event subscriber too slow")

// handleEvents upgrades to a websocket and streams session events as JSON
// text messages. The stream opens with the current recorder, document and
// playback state so a client never has to poll first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Client messages are not part of the protocol; reading only watches for
	// the close handshake.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	events := make(chan session.Event, s.eventBuffer)
	unsubscribe := s.ctl.Subscribe(func(ev session.Event) {
		select {
		case events <- ev:
		default:
			cancel(errSlowConsumer)
		}
	})
	defer unsubscribe()

	s.metrics.EventSubscribers.Add(r.Context(), 1)
	defer s.metrics.EventSubscribers.Add(context.WithoutCancel(r.Context()), -1)

	for _, ev := range initialEvents(s.ctl) {
		if err := writeEvent(ctx, conn, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), errSlowConsumer) {
				slog.Warn("api: dropping slow event subscriber", "remote", r.RemoteAddr)
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				slog.Debug("api: event write failed", "err", err)
				return
			}
		}
	}
}

func initialEvents(ctl Controller) []session.Event {
	st := ctl.Status()
	doc := ctl.Document()
	playing := st.Playing
	return []session.Event{
		{Kind: session.EventRecorder, Recorder: &st.Recorder},
		{Kind: session.EventDocument, Document: &doc},
		{Kind: session.EventPlayback, Playing: &playing},
		{Kind: session.EventNotification, Notification: st.Notification},
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev session.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
