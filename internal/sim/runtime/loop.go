package runtime

import (
	"context"
	"errors"
	"time"

	"slotkeeper.ai/internal/protocol"
)

// ErrStopped is returned by the channel helpers once Run has exited.
var ErrStopped = errors.New("runtime stopped")

type request struct {
	session string
	ev      protocol.EventMsg
	resp    chan protocol.ReplyMsg
}

type connectReq struct {
	name string
	push func(protocol.PushMsg)
	resp chan connectResp
}

type connectResp struct {
	session *Session
	welcome protocol.WelcomeMsg
}

// Run owns all enforcement state until ctx is done or Stop is called.
func (r *Runtime) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(r.exited)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.connect:
			s, w := r.Attach(req.name, req.push)
			req.resp <- connectResp{session: s, welcome: w}
		case id := <-r.disconnect:
			r.Detach(id)
		case req := <-r.inbox:
			req.resp <- r.Handle(req.session, req.ev)
		case done := <-r.reloadReq:
			done <- r.Reload()
		case <-ticker.C:
			r.Step()
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (r *Runtime) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Connect registers a session with a running loop. push is called from the loop goroutine
// and must not block.
func (r *Runtime) Connect(ctx context.Context, name string, push func(protocol.PushMsg)) (*Session, protocol.WelcomeMsg, error) {
	req := connectReq{name: name, push: push, resp: make(chan connectResp, 1)}
	select {
	case r.connect <- req:
	case <-r.exited:
		return nil, protocol.WelcomeMsg{}, ErrStopped
	case <-ctx.Done():
		return nil, protocol.WelcomeMsg{}, ctx.Err()
	}
	select {
	case res := <-req.resp:
		return res.session, res.welcome, nil
	case <-r.exited:
		return nil, protocol.WelcomeMsg{}, ErrStopped
	case <-ctx.Done():
		return nil, protocol.WelcomeMsg{}, ctx.Err()
	}
}

// Submit hands an event to the loop and waits for its reply.
func (r *Runtime) Submit(ctx context.Context, sessionID string, ev protocol.EventMsg) (protocol.ReplyMsg, error) {
	select {
	case <-r.exited:
		return protocol.ReplyMsg{}, ErrStopped
	default:
	}
	req := request{session: sessionID, ev: ev, resp: make(chan protocol.ReplyMsg, 1)}
	select {
	case r.inbox <- req:
	case <-r.exited:
		return protocol.ReplyMsg{}, ErrStopped
	case <-ctx.Done():
		return protocol.ReplyMsg{}, ctx.Err()
	}
	select {
	case reply := <-req.resp:
		return reply, nil
	case <-r.exited:
		return protocol.ReplyMsg{}, ErrStopped
	case <-ctx.Done():
		return protocol.ReplyMsg{}, ctx.Err()
	}
}

// Disconnect detaches a session. It returns immediately once the loop has exited.
func (r *Runtime) Disconnect(sessionID string) {
	select {
	case r.disconnect <- sessionID:
	case <-r.exited:
	}
}

// RequestReload asks the loop to reload and waits for the result.
func (r *Runtime) RequestReload(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case r.reloadReq <- done:
	case <-r.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-r.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
