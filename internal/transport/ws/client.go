package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"courier.ai/internal/planning"
	"courier.ai/internal/protocol"
)

const (
	DefaultAckTimeout = 5 * time.Second
	readTimeout       = 60 * time.Second
	writeTimeout      = 5 * time.Second
	outQueue          = 64
	sensingQueue      = 64
	relayQueue        = 256
)

// ActionError is a game-server rejection (or a missing ack).
type ActionError struct {
	Op   string
	Code string
}

func (e *ActionError) Error() string { return fmt.Sprintf("%s rejected: %s", e.Op, e.Code) }

// Code extracts the game error code from err, or "" if err is not a
// rejection.
func Code(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Client is one agent's connection to the game server. It is an
// execution.Actuator, the sensor stream, and a bus.GameTransport.
type Client struct {
	conn *websocket.Conn
	log  *log.Logger

	// AckTimeout bounds how long an action waits for its ack.
	AckTimeout time.Duration

	out     chan []byte
	sensing chan protocol.Sensed
	relayed chan protocol.RelayMsg

	mu      sync.Mutex
	pending map[string]chan protocol.AckMsg
	err     error

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Dial connects to the game server, authenticating with token.
func Dial(ctx context.Context, url, token string, logger *log.Logger) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("x-token", token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newClient(conn, logger), nil
}

func newClient(conn *websocket.Conn, logger *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:       conn,
		log:        logger,
		AckTimeout: DefaultAckTimeout,
		out:        make(chan []byte, outQueue),
		sensing:    make(chan protocol.Sensed, sensingQueue),
		relayed:    make(chan protocol.RelayMsg, relayQueue),
		pending:    map[string]chan protocol.AckMsg{},
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.relayed)
	defer close(c.sensing)
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if !c.route(base.Type, msg) {
			return
		}
	}
}

// route dispatches one frame. It returns false once the client is closing.
func (c *Client) route(typ string, msg []byte) bool {
	var s protocol.Sensed
	switch typ {
	case protocol.TypeMap:
		var m protocol.MapMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.logf("bad map frame: %v", err)
			return true
		}
		s = protocol.Sensed{Type: typ, Map: &m}
	case protocol.TypeYou:
		var m protocol.YouMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return true
		}
		s = protocol.Sensed{Type: typ, You: &m.AgentInfo}
	case protocol.TypeAgentsSensing:
		var m protocol.AgentsSensingMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return true
		}
		s = protocol.Sensed{Type: typ, Agents: m.Agents}
	case protocol.TypeParcelsSensing:
		var m protocol.ParcelsSensingMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return true
		}
		s = protocol.Sensed{Type: typ, Parcels: m.Parcels}
	case protocol.TypeMsg:
		var m protocol.RelayMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return true
		}
		select {
		case c.relayed <- m:
		default:
		}
		return true
	case protocol.TypeAck:
		var m protocol.AckMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return true
		}
		c.mu.Lock()
		ch, ok := c.pending[m.ReqID]
		delete(c.pending, m.ReqID)
		c.mu.Unlock()
		if ok {
			ch <- m
		}
		return true
	default:
		return true
	}
	if s.Type != protocol.TypeMap {
		// Perception is refreshed every tick; a stale frame can go.
		select {
		case c.sensing <- s:
		default:
		}
		return true
	}
	select {
	case c.sensing <- s:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
	_ = c.conn.Close()
}

func (c *Client) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}

func (c *Client) send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return c.closedErr()
	}
	select {
	case c.out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.closedErr()
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return errors.New("connection closed")
}

// request sends an action and waits for its ack.
func (c *Client) request(ctx context.Context, typ, direction string) (protocol.AckMsg, error) {
	id := uuid.NewString()
	ch := make(chan protocol.AckMsg, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.send(ctx, protocol.ActionReq{Type: typ, ReqID: id, Direction: direction}); err != nil {
		forget()
		return protocol.AckMsg{}, err
	}

	timeout := c.AckTimeout
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		if !ack.OK {
			code := ack.Code
			if code == "" {
				code = protocol.ErrInternal
			}
			return ack, &ActionError{Op: typ, Code: code}
		}
		return ack, nil
	case <-timer.C:
		forget()
		return protocol.AckMsg{}, &ActionError{Op: typ, Code: protocol.ErrStale}
	case <-ctx.Done():
		forget()
		return protocol.AckMsg{}, ctx.Err()
	case <-c.ctx.Done():
		forget()
		return protocol.AckMsg{}, c.closedErr()
	}
}

func (c *Client) Move(ctx context.Context, a planning.Action) error {
	if !a.IsMove() {
		return &ActionError{Op: protocol.TypeMove, Code: protocol.ErrBadRequest}
	}
	_, err := c.request(ctx, protocol.TypeMove, string(a))
	return err
}

func (c *Client) Pickup(ctx context.Context) ([]string, error) {
	ack, err := c.request(ctx, protocol.TypePickup, "")
	return ack.Parcels, err
}

func (c *Client) Putdown(ctx context.Context) ([]string, error) {
	ack, err := c.request(ctx, protocol.TypePutdown, "")
	return ack.Parcels, err
}

func (c *Client) Say(ctx context.Context, to string, msg json.RawMessage) error {
	return c.send(ctx, protocol.SayReq{Type: protocol.TypeSay, To: to, Msg: msg})
}

func (c *Client) Shout(ctx context.Context, msg json.RawMessage) error {
	return c.send(ctx, protocol.SayReq{Type: protocol.TypeShout, Msg: msg})
}

// Sensing yields perception frames in arrival order. It is closed when the
// connection ends.
func (c *Client) Sensing() <-chan protocol.Sensed { return c.sensing }

func (c *Client) Relayed() <-chan protocol.RelayMsg { return c.relayed }

func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.once.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.cancel()
		_ = c.conn.Close()
		<-c.done
	})
	return nil
}
