package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codecollab-server/collab"
	"codecollab-server/config"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

var errMissingPayload = errors.New("event payload is required")

type ackInvoker func(err error)

// socketConn exposes a socket.io socket as a collab.Conn.
type socketConn struct {
	socket *socketio.Socket
}

func (c *socketConn) ID() string { return string(c.socket.Id()) }

func (c *socketConn) Emit(event string, payload any) error {
	return c.socket.Emit(event, payload)
}

// SetupSocketIO serves the collaboration events for manager. The returned
// Sessions must be closed on shutdown before the manager.
func SetupSocketIO(manager *collab.Manager, cfg *config.Config) (*socketio.Server, *Sessions) {
	sessions := NewSessions()

	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(cfg.MaxHTTPBufferSize)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      corsOrigin(cfg.CORSOrigins),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		s, ok := sessions.open(manager, &socketConn{socket: socket}, cfg.PersistTimeout)
		if !ok {
			logrus.WithField("connection_id", string(socket.Id())).Debug("Rejecting connection during shutdown")
			socket.Disconnect(true)
			return
		}

		//nolint:errcheck
		socket.On(collab.EventJoinDocument, func(datas ...any) { s.dispatch(collab.EventJoinDocument, datas) })
		//nolint:errcheck
		socket.On(collab.EventCodeChange, func(datas ...any) { s.dispatch(collab.EventCodeChange, datas) })
		//nolint:errcheck
		socket.On(collab.EventCursor, func(datas ...any) { s.dispatch(collab.EventCursor, datas) })
		//nolint:errcheck
		socket.On(collab.EventLeaveDocument, func(datas ...any) { s.dispatch(collab.EventLeaveDocument, datas) })

		//nolint:errcheck
		socket.On("disconnect", func(datas ...any) {
			s.stop()
			socket.RemoveAllListeners("")
		})
	})

	return srv, sessions
}

func corsOrigin(origins []string) any {
	if len(origins) == 0 {
		return false
	}
	list := make([]any, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			return "*"
		}
		list = append(list, origin)
	}
	return list
}

// session binds one connection to the manager. Its events run one at a
// time in arrival order.
type session struct {
	manager *collab.Manager
	conn    collab.Conn
	queue   *eventQueue
	timeout time.Duration
}

func newSession(manager *collab.Manager, conn collab.Conn, timeout time.Duration) *session {
	return &session{
		manager: manager,
		conn:    conn,
		queue:   newEventQueue(),
		timeout: timeout,
	}
}

func (s *session) start() {
	s.manager.Connect(s.conn)
}

// stop runs the implicit leave after every event already queued.
func (s *session) stop() {
	s.queue.close(func() { s.manager.Disconnect(s.conn) })
}

func (s *session) dispatch(event string, datas []any) {
	ack, args := extractAck(datas)
	queued := s.queue.push(func() {
		err := s.handle(event, args)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"connection_id": s.conn.ID(),
				"event":         event,
			}).WithError(err).Debug("Event rejected")
		}
		if ack != nil {
			ack(err)
		}
	})
	if !queued {
		logrus.WithFields(logrus.Fields{
			"connection_id": s.conn.ID(),
			"event":         event,
		}).Debug("Dropping event after disconnect")
	}
}

func (s *session) handle(event string, args []any) error {
	switch event {
	case collab.EventJoinDocument:
		var req collab.JoinRequest
		if err := decodePayload(args, &req); err != nil {
			return err
		}
		ctx, cancel := s.context()
		defer cancel()
		return s.manager.Join(ctx, s.conn, req)

	case collab.EventCodeChange:
		var change collab.CodeChange
		if err := decodePayload(args, &change); err != nil {
			return err
		}
		return s.manager.EditContent(s.conn, change)

	case collab.EventCursor:
		var move collab.CursorMove
		if err := decodePayload(args, &move); err != nil {
			return err
		}
		return s.manager.MoveCursor(s.conn, move)

	case collab.EventLeaveDocument:
		var req collab.LeaveRequest
		if len(args) > 0 {
			req.DocumentID, _ = args[0].(string)
		}
		if req.DocumentID == "" {
			if err := decodePayload(args, &req); err != nil {
				return err
			}
		}
		s.manager.Leave(s.conn, req.DocumentID)
		return nil
	}
	return fmt.Errorf("unsupported event %q", event)
}

func (s *session) context() (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(context.Background(), s.timeout)
	}
	return context.WithCancel(context.Background())
}

// decodePayload maps the first event argument onto out. Clients send
// plain JSON objects, so numbers are accepted where strings are expected.
func decodePayload(args []any, out any) error {
	if len(args) == 0 || args[0] == nil {
		return errMissingPayload
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args[0]); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// extractAck splits a trailing acknowledgement callback from the event
// arguments.
func extractAck(datas []any) (ackInvoker, []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	switch fn := datas[len(datas)-1].(type) {
	case func([]any, error):
		return func(err error) { fn([]any{ackPayload(err)}, nil) }, datas[:len(datas)-1]
	case func(...any):
		return func(err error) { fn(ackPayload(err)) }, datas[:len(datas)-1]
	}
	return nil, datas
}

func ackPayload(err error) map[string]any {
	if err != nil {
		return map[string]any{"status": "error", "error": err.Error()}
	}
	return map[string]any{"status": "ok"}
}
