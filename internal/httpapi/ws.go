package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/salut/internal/protocol"
	"github.com/antoniostano/salut/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.tutor.Subscribe()
	defer unsubscribe()

	// Replies to client messages share the writer with pushed events.
	replies := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, events, replies)
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.reply(replies, errorEvent("invalid_client_message", "gateway", err))
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(messageTypeOf(parsed))).Inc()
		if err := s.dispatch(ctx, parsed); err != nil {
			s.reply(replies, errorEvent("request_failed", "session", err))
		}
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) dispatch(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case protocol.ClientControl:
		if m.Action == protocol.ActionStart {
			return s.tutor.Start(ctx)
		}
		return s.tutor.Stop(ctx)
	case protocol.ClientText:
		return s.tutor.SendText(ctx, m.Text)
	default:
		return protocol.ErrUnsupportedType
	}
}

func (s *Server) reply(replies chan<- any, msg any) {
	select {
	case replies <- msg:
	default:
		s.logger.Warn().Msg("websocket reply queue full; dropping message")
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, events <-chan session.Event, replies <-chan any) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	write := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug().Err(err).Msg("websocket write failed")
			cancel()
			return false
		}
		s.metrics.WSMessages.WithLabelValues("outbound", string(messageTypeOf(msg))).Inc()
		return true
	}

	if !write(stateEvent(s.tutor.Snapshot())) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				cancel()
				return
			}
		case msg := <-replies:
			if !write(msg) {
				return
			}
		case ev := <-events:
			msg, ok := wireMessage(ev)
			if !ok {
				continue
			}
			if !write(msg) {
				return
			}
		}
	}
}

func wireMessage(ev session.Event) (any, bool) {
	switch ev.Type {
	case session.EventState:
		return stateEvent(ev.Snapshot), true
	case session.EventViseme:
		return protocol.VisemeFrame{
			Type:   protocol.TypeVisemeFrame,
			Viseme: ev.Frame.Viseme.String(),
			Volume: ev.Frame.Volume,
			TSMs:   time.Now().UnixMilli(),
		}, true
	case session.EventTranscript:
		return protocol.TranscriptItem{
			Type:      protocol.TypeTranscriptItem,
			ID:        ev.Item.ID,
			Role:      string(ev.Item.Role),
			Text:      ev.Item.Text,
			Timestamp: ev.Item.Timestamp,
		}, true
	case session.EventError:
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: ev.Snapshot.SessionID,
			Code:      "session_error",
			Source:    "session",
			Detail:    ev.Error,
		}, true
	default:
		return nil, false
	}
}

func stateEvent(snap session.Snapshot) protocol.StateEvent {
	out := protocol.StateEvent{
		Type:       protocol.TypeStateEvent,
		SessionID:  snap.SessionID,
		State:      string(snap.State),
		Speaking:   snap.Speaking,
		RetryCount: snap.RetryCount,
		Retrying:   snap.Retrying,
		Error:      snap.Error,
	}
	if snap.StartedAt != nil {
		out.StartedAt = snap.StartedAt.UnixMilli()
	}
	return out
}

func errorEvent(code, source string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		Code:      code,
		Source:    source,
		Retryable: errors.Is(err, session.ErrNotConnected),
		Detail:    err.Error(),
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type
	case protocol.ClientText:
		return m.Type
	case protocol.StateEvent:
		return m.Type
	case protocol.VisemeFrame:
		return m.Type
	case protocol.TranscriptItem:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
