package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"slotkeeper.ai/internal/protocol"
	"slotkeeper.ai/internal/sim/runtime"
)

type fakeBridge struct {
	mu          sync.Mutex
	push        func(protocol.PushMsg)
	events      []protocol.EventMsg
	disconnects []string
}

func (b *fakeBridge) Connect(_ context.Context, name string, push func(protocol.PushMsg)) (*runtime.Session, protocol.WelcomeMsg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.push = push
	s := &runtime.Session{ID: "S0001", Name: name, Push: push}
	return s, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.ID,
		TickRateHz:      20,
		Policies:        []protocol.PolicyRef{{ID: "menu", Slot: 8}},
	}, nil
}

func (b *fakeBridge) Submit(_ context.Context, sessionID string, ev protocol.EventMsg) (protocol.ReplyMsg, error) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	push := b.push
	b.mu.Unlock()
	push(protocol.PushMsg{
		Type:            protocol.TypePush,
		ProtocolVersion: protocol.Version,
		Tick:            7,
		Effects:         []protocol.Effect{{Kind: protocol.EffectMessage, Text: "hi " + sessionID}},
	})
	return protocol.ReplyMsg{
		Type:            protocol.TypeReply,
		ProtocolVersion: protocol.Version,
		ReplyTo:         ev.ID,
		Accepted:        true,
		Veto:            true,
		ServerTick:      7,
	}, nil
}

func (b *fakeBridge) Disconnect(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects = append(b.disconnects, sessionID)
}

func (b *fakeBridge) disconnected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.disconnects...)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func hello(token string) protocol.HelloMsg {
	h := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ServerName:      "lobby",
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if token != "" {
		h.Auth = &protocol.HelloAuth{Token: token}
	}
	return h
}

func readType(t *testing.T, conn *websocket.Conn, v any) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	base, err := protocol.DecodeBase(msg)
	require.NoError(t, err)
	if v != nil {
		require.NoError(t, json.Unmarshal(msg, v))
	}
	return base.Type
}

func TestServer_HandshakeEventReply(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBridge{}
	s := NewServer(b, "s3cret", nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(hello("s3cret")))

	var welcome protocol.WelcomeMsg
	require.Equal(t, protocol.TypeWelcome, readType(t, conn, &welcome))
	assert.Equal(t, "S0001", welcome.SessionID)

	require.NoError(t, conn.WriteJSON(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		ID:              "e1",
		Kind:            protocol.KindOp,
	}))

	var push protocol.PushMsg
	require.Equal(t, protocol.TypePush, readType(t, conn, &push))
	require.Len(t, push.Effects, 1)
	assert.Equal(t, "hi S0001", push.Effects[0].Text)

	var reply protocol.ReplyMsg
	require.Equal(t, protocol.TypeReply, readType(t, conn, &reply))
	assert.Equal(t, "e1", reply.ReplyTo)
	assert.True(t, reply.Veto)

	// A stale protocol version is answered without reaching the bridge.
	require.NoError(t, conn.WriteJSON(protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: "0.1", ID: "e2"}))
	require.Equal(t, protocol.TypeReply, readType(t, conn, &reply))
	assert.Equal(t, protocol.ErrProtoBadRequest, reply.Code)
	assert.Equal(t, "e2", reply.ReplyTo)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return len(b.disconnected()) == 1 }, 3*time.Second, 10*time.Millisecond)
	s.Close()
}

func TestServer_RejectsBadToken(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBridge{}
	s := NewServer(b, "s3cret", nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(hello("wrong")))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, protocol.ErrUnauthorized, ce.Text)
	assert.Empty(t, b.disconnected())
}

func TestServer_RequiresHelloFirst(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewServer(&fakeBridge{}, "", nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: protocol.Version}))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "expected HELLO", ce.Text)
}

func TestServer_CloseDropsConnections(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBridge{}
	s := NewServer(b, "", nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(hello("")))
	require.Equal(t, protocol.TypeWelcome, readType(t, conn, nil))

	s.Close()
	require.Eventually(t, func() bool { return len(b.disconnected()) == 1 }, 3*time.Second, 10*time.Millisecond)
}
