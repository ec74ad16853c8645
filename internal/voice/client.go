package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/auth"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/metrics"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/ratelimit"
)

const (
	wsWriteWait = 1 * time.Second

	// sendQueueLen bounds the outbound queue per connection. A client that
	// falls this far behind is torn down rather than allowed to stall fanout.
	sendQueueLen = 64
)

// clientLimits is the per-connection hardening applied by the read loop.
type clientLimits struct {
	AuthTimeout       time.Duration
	IdleTimeout       time.Duration
	PingInterval      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond int
}

// client owns one WebSocket connection: a read loop feeding the hub and a
// write loop draining the send queue. All outbound traffic goes through Send
// so only the write loop touches the socket for data frames.
type client struct {
	id     ConnID
	hub    *Hub
	conn   *websocket.Conn
	log    *slog.Logger
	limits clientLimits

	verifier      auth.Verifier
	authMode      auth.Mode
	authenticated bool

	limiter *ratelimit.TokenBucket

	send chan Message

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id ConnID, hub *Hub, conn *websocket.Conn, log *slog.Logger, limits clientLimits, verifier auth.Verifier, mode auth.Mode, authenticated bool) *client {
	var limiter *ratelimit.TokenBucket
	if limits.MessagesPerSecond > 0 {
		limiter = ratelimit.NewTokenBucket(nil, int64(limits.MessagesPerSecond), int64(limits.MessagesPerSecond))
	}
	return &client{
		id:            id,
		hub:           hub,
		conn:          conn,
		log:           log.With("conn", id),
		limits:        limits,
		verifier:      verifier,
		authMode:      mode,
		authenticated: authenticated,
		limiter:       limiter,
		send:          make(chan Message, sendQueueLen),
		done:          make(chan struct{}),
	}
}

// Send enqueues an outbound message. If the queue is full the connection is
// closed: dropping room events would leave the client with a stale view, so
// it must reconnect instead.
func (c *client) Send(msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn("send queue full, closing connection")
		c.Close()
	}
}

// Close tears the connection down. Safe to call from any goroutine, any
// number of times.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.Close()
}

// run drives both pumps and blocks until the connection is gone. Disconnect
// cleanup happens exactly once, after the read loop exits.
func (c *client) run(ctx context.Context) {
	go c.writeLoop()
	c.readLoop(ctx)
	c.Close()
	c.hub.HandleDisconnect(c.id)
}

func (c *client) readLoop(ctx context.Context) {
	if c.limits.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.limits.MaxMessageBytes)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.resetReadDeadline()
	})
	if err := c.resetReadDeadline(); err != nil {
		return
	}

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !c.authenticated && isTimeout(err) {
				c.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if c.limiter != nil && !c.limiter.Allow(1) {
			c.hub.metrics.Inc(metrics.DropReasonRateLimited)
			c.log.Warn("message rate limit exceeded")
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := ParseMessage(raw)
		if err != nil {
			c.log.Warn("dropping malformed frame", "err", err)
			c.Send(NewMessage(EventVoiceError, VoiceError{Message: MsgInternalError}))
			continue
		}

		if !c.authenticated {
			if !c.handleAuth(msg) {
				return
			}
			continue
		}
		if msg.Event == EventAuth {
			// Already authenticated; nothing to do.
			continue
		}

		c.hub.Dispatch(ctx, c.id, msg)
	}
}

// handleAuth consumes the first frame of an unauthenticated connection. Only
// an auth event is acceptable; anything else closes the socket. Returns false
// when the connection must be torn down.
func (c *client) handleAuth(msg Message) bool {
	if msg.Event != EventAuth {
		c.closeWith(websocket.ClosePolicyViolation, "authentication required")
		return false
	}
	var req AuthRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.closeWith(websocket.CloseUnsupportedData, "invalid auth message")
		return false
	}
	cred := req.Token
	if c.authMode == auth.ModeAPIKey {
		cred = req.APIKey
	}
	if cred == "" {
		c.hub.metrics.Inc(metrics.AuthFailure)
		c.closeWith(websocket.ClosePolicyViolation, "missing credentials")
		return false
	}
	if _, err := c.verifier.Verify(cred); err != nil {
		c.hub.metrics.Inc(metrics.AuthFailure)
		c.closeWith(websocket.ClosePolicyViolation, "invalid credentials")
		return false
	}
	c.authenticated = true
	if err := c.resetReadDeadline(); err != nil {
		return false
	}
	c.Send(NewMessage(EventConnected, ConnectedPayload{SocketID: string(c.id)}))
	return true
}

// resetReadDeadline applies the idle timeout, or the shorter auth timeout
// while the connection is still unauthenticated.
func (c *client) resetReadDeadline() error {
	d := c.limits.IdleTimeout
	if !c.authenticated {
		d = c.limits.AuthTimeout
	}
	if d <= 0 {
		return c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.SetReadDeadline(time.Now().Add(d))
}

func (c *client) writeLoop() {
	var ticker *time.Ticker
	var pings <-chan time.Time
	if c.limits.PingInterval > 0 {
		ticker = time.NewTicker(c.limits.PingInterval)
		pings = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.Close()
				return
			}
		case <-pings:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
