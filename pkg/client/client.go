// Package client talks to a PIAS service.
//
// Client speaks the framed messaging protocol over nanomsg sockets:
//   - Ping, CurrentSolution, SetEdgeLabels and RequestUpdate are request/reply.
//   - Subscribe streams new-solution notifications.
//
// Admin wraps the JSON admin HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/req"
	"go.nanomsg.org/mangos/v3/protocol/sub"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"

	"github.com/sanonone/pias/internal/protocol"
)

var (
	// ErrNoSolution is returned by CurrentSolution before any successful round.
	ErrNoSolution = errors.New("no solution available")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
)

// ServerError is an EXCEPTION reply.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server exception: " + e.Message
}

// MethodError is a DO_NOT_UNDERSTAND reply.
type MethodError struct {
	Method int64
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("server does not understand method %d", e.Method)
}

const subscribePoll = 100 * time.Millisecond

// Notification is one new-solution broadcast.
type Notification = protocol.Notification

// Triple is one (u, v, label) edge label.
type Triple = protocol.Triple

// Client holds one REQ socket per request endpoint, dialled on first use.
// Requests on the same endpoint are serialised; a transport error closes the
// socket so the next call dials again.
type Client struct {
	addrs   map[string]protocol.Addr
	timeout time.Duration

	mu      sync.Mutex
	sockets map[string]*endpointSocket
	closed  bool
}

type endpointSocket struct {
	mu   sync.Mutex
	sock mangos.Socket
}

// Dial returns a client for the service at base (unix:///path or
// tcp://host:port). Sockets are opened lazily.
func Dial(base string) (*Client, error) {
	addrs, err := protocol.Addresses(base)
	if err != nil {
		return nil, err
	}
	return &Client{
		addrs:   addrs,
		timeout: 10 * time.Second,
		sockets: make(map[string]*endpointSocket),
	}, nil
}

// SetTimeout bounds each request when ctx carries no deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close closes every open socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for name, es := range c.sockets {
		es.mu.Lock()
		if es.sock != nil {
			es.sock.Close()
			es.sock = nil
		}
		es.mu.Unlock()
		delete(c.sockets, name)
	}
	return nil
}

func (c *Client) endpoint(name string) (*endpointSocket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	es, ok := c.sockets[name]
	if !ok {
		es = &endpointSocket{}
		c.sockets[name] = es
	}
	return es, nil
}

func newReq() (mangos.Socket, error) { return req.NewSocket() }
func newSub() (mangos.Socket, error) { return sub.NewSocket() }

func (c *Client) dial(name string, newSocket func() (mangos.Socket, error)) (mangos.Socket, error) {
	addr := c.addrs[name]
	sock, err := newSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.Dial(addr.URL()); err != nil {
		sock.Close()
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return sock, nil
}

// request sends one message to an endpoint and reads its reply.
func (c *Client) request(ctx context.Context, name string, frames [][]byte) ([][]byte, error) {
	es, err := c.endpoint(name)
	if err != nil {
		return nil, err
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if es.sock == nil {
		sock, err := c.dial(name, newReq)
		if err != nil {
			return nil, err
		}
		es.sock = sock
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	reply, err := roundTrip(es.sock, frames, timeout)
	if err != nil {
		es.sock.Close()
		es.sock = nil
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s request: %w", name, err)
	}
	return reply, nil
}

func roundTrip(sock mangos.Socket, frames [][]byte, timeout time.Duration) ([][]byte, error) {
	if err := sock.SetOption(mangos.OptionSendDeadline, timeout); err != nil {
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, timeout); err != nil {
		return nil, err
	}
	body, err := protocol.EncodeMessage(frames)
	if err != nil {
		return nil, err
	}
	if err := sock.Send(body); err != nil {
		return nil, err
	}
	msg, err := sock.Recv()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeMessage(msg, 0)
}

// Ping checks that the service answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, protocol.EndpointPing, nil)
	return err
}

// CurrentSolution returns the latest successful segmentation, or
// ErrNoSolution.
func (c *Client) CurrentSolution(ctx context.Context) ([]uint64, error) {
	frames, err := c.request(ctx, protocol.EndpointCurrentSolution, nil)
	if err != nil {
		return nil, err
	}
	r, err := protocol.ParseReply(frames)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case protocol.SolutionSuccess:
		return protocol.ParseSegmentation(r.Body)
	case protocol.NoSolutionAvailable:
		return nil, ErrNoSolution
	default:
		return nil, fmt.Errorf("unexpected status %d", r.Status)
	}
}

// SetEdgeLabels sends labels and returns how many the service applied.
func (c *Client) SetEdgeLabels(ctx context.Context, triples []Triple) (int, error) {
	return c.setEdgeLabels(ctx, protocol.MethodEdgeList, triples)
}

func (c *Client) setEdgeLabels(ctx context.Context, method int64, triples []Triple) (int, error) {
	frames, err := c.request(ctx, protocol.EndpointSetEdgeLabels, [][]byte{
		protocol.EncodeInt64(method),
		protocol.EncodeTriples(triples),
	})
	if err != nil {
		return 0, err
	}
	r, err := protocol.ParseReply(frames)
	if err != nil {
		return 0, err
	}
	switch r.Status {
	case protocol.LabelsSuccess:
		n, err := protocol.DecodeInt64(r.Body)
		return int(n), err
	case protocol.DoNotUnderstand:
		m, _ := protocol.DecodeInt64(r.Body)
		return 0, &MethodError{Method: m}
	case protocol.Exception:
		return 0, &ServerError{Message: string(r.Body)}
	default:
		return 0, fmt.Errorf("unexpected status %d", r.Status)
	}
}

// RequestUpdate queues a round and returns its solution id.
func (c *Client) RequestUpdate(ctx context.Context) (uint64, error) {
	frames, err := c.request(ctx, protocol.EndpointUpdateSolution, nil)
	if err != nil {
		return 0, err
	}
	r, err := protocol.ParseReply(frames)
	if err != nil {
		return 0, err
	}
	if r.Status != protocol.Acknowledged {
		return 0, fmt.Errorf("unexpected status %d", r.Status)
	}
	id, err := protocol.DecodeInt64(r.Body)
	return uint64(id), err
}

// Subscribe connects to the new-solution broadcast. The channel is closed
// when ctx is done or the socket fails. Notifications sent before the
// service registers the subscription are not delivered.
func (c *Client) Subscribe(ctx context.Context) (<-chan Notification, error) {
	sock, err := c.dial(protocol.EndpointNewSolution, newSub)
	if err != nil {
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte{}); err != nil {
		sock.Close()
		return nil, err
	}
	// The receive deadline is how often the loop checks ctx.
	if err := sock.SetOption(mangos.OptionRecvDeadline, subscribePoll); err != nil {
		sock.Close()
		return nil, err
	}

	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		defer sock.Close()

		for ctx.Err() == nil {
			msg, err := sock.Recv()
			if errors.Is(err, mangos.ErrRecvTimeout) {
				continue
			}
			if err != nil {
				return
			}
			frames, err := protocol.DecodeMessage(msg, 2)
			if err != nil {
				continue
			}
			note, err := protocol.ParseNotification(frames)
			if err != nil {
				continue
			}
			select {
			case out <- note:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
