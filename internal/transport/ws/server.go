package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"slotkeeper.ai/internal/protocol"
	"slotkeeper.ai/internal/sim/runtime"
)

// Bridge is the part of the runtime a connection talks to.
type Bridge interface {
	Connect(ctx context.Context, name string, push func(protocol.PushMsg)) (*runtime.Session, protocol.WelcomeMsg, error)
	Submit(ctx context.Context, sessionID string, ev protocol.EventMsg) (protocol.ReplyMsg, error)
	Disconnect(sessionID string)
}

type Server struct {
	bridge Bridge
	log    *zap.Logger
	token  string

	droppedPushes atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once

	upgrader websocket.Upgrader
}

// NewServer serves game-server connections. A non-empty token must be presented in HELLO.
func NewServer(b Bridge, token string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		bridge: b,
		log:    logger,
		token:  token,
		done:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Close drops every open connection. The runtime sees each as a disconnect.
func (s *Server) Close() {
	s.doneOnce.Do(func() { close(s.done) })
}

// DroppedPushes counts PUSH frames discarded because a connection's queue was full.
func (s *Server) DroppedPushes() uint64 { return s.droppedPushes.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess, out := s.handshake(ctx, conn)
		if sess == nil {
			return
		}
		log := s.log.With(zap.String("session", sess.ID), zap.String("server", sess.Name))
		log.Info("bridge connected", zap.String("remote", r.RemoteAddr))

		// Writer goroutine; the only writer after the handshake.
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.done:
					closeWith(conn, websocket.CloseGoingAway, "shutting down")
					_ = conn.Close()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply, ok := s.serve(ctx, sess.ID, msg)
			if !ok {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		wg.Wait()
		s.bridge.Disconnect(sess.ID)
		log.Info("bridge disconnected")
	}
}

// serve turns one inbound frame into a reply. Frames that are not events are ignored.
func (s *Server) serve(ctx context.Context, sessionID string, msg []byte) (protocol.ReplyMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeEvent {
		return protocol.ReplyMsg{}, false
	}
	var ev protocol.EventMsg
	if err := json.Unmarshal(msg, &ev); err != nil {
		return badRequest("", "malformed EVENT: "+err.Error()), true
	}
	if ev.ProtocolVersion != protocol.Version {
		return badRequest(ev.ID, "bad protocol_version"), true
	}
	reply, err := s.bridge.Submit(ctx, sessionID, ev)
	if err != nil {
		return protocol.ReplyMsg{
			Type:            protocol.TypeReply,
			ProtocolVersion: protocol.Version,
			ReplyTo:         ev.ID,
			Code:            protocol.ErrBusy,
			Message:         err.Error(),
		}, true
	}
	return reply, true
}

func badRequest(replyTo, msg string) protocol.ReplyMsg {
	return protocol.ReplyMsg{
		Type:            protocol.TypeReply,
		ProtocolVersion: protocol.Version,
		ReplyTo:         replyTo,
		Code:            protocol.ErrProtoBadRequest,
		Message:         msg,
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*runtime.Session, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil, nil
	}
	if s.token != "" {
		got := ""
		if hello.Auth != nil {
			got = strings.TrimSpace(hello.Auth.Token)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.log.Warn("bridge rejected", zap.String("server", hello.ServerName), zap.String("code", protocol.ErrUnauthorized))
			closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrUnauthorized)
			return nil, nil
		}
	}
	if hello.ServerName == "" {
		hello.ServerName = "server"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 256
	}
	if maxQ > 4096 {
		maxQ = 4096
	}
	out := make(chan []byte, maxQ)

	push := func(m protocol.PushMsg) {
		b, err := json.Marshal(m)
		if err != nil {
			return
		}
		select {
		case out <- b:
		default:
			s.droppedPushes.Add(1)
			s.log.Warn("push dropped", zap.String("server", hello.ServerName), zap.Uint64("tick", m.Tick))
		}
	}

	sess, welcome, err := s.bridge.Connect(ctx, hello.ServerName, push)
	if err != nil {
		closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return nil, nil
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.bridge.Disconnect(sess.ID)
		return nil, nil
	}
	return sess, out
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
