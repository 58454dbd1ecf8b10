package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"

	"github.com/sanonone/pias/internal/protocol"
	"github.com/sanonone/pias/pkg/graph"
	"github.com/sanonone/pias/pkg/metrics"
	"github.com/sanonone/pias/pkg/workflow"
)

// Workflow is the part of the workflow the servers drive.
type Workflow interface {
	LatestState() *workflow.State
	LatestAttempt() *workflow.State
	RequestUpdateState() uint64
	RequestSetEdgeLabels(edges []graph.Edge, labels []int) (int, error)
	AddSolutionUpdateListener(fn workflow.SolutionListener)
	Round(id uint64) (workflow.RoundInfo, bool)
	Pending() int
	LastSolutionID() uint64
}

// MessagingOptions tunes the messaging endpoints.
type MessagingOptions struct {
	// PollInterval is the receive deadline of every serve loop and the
	// notifier's queue wait, so the loops notice Close. Default 100ms.
	PollInterval time.Duration
	// IOTimeout bounds sending one reply. Default 5s.
	IOTimeout time.Duration
	// MaxFrames bounds the frames of one request. Default 8.
	MaxFrames int
	// QueueSize is the notification queue capacity. Default 64.
	QueueSize int
	// PutTimeout is how long a completion waits for queue space before its
	// notification is dropped. Default 10ms.
	PutTimeout time.Duration
}

func (o *MessagingOptions) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 5 * time.Second
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.PutTimeout <= 0 {
		o.PutTimeout = 10 * time.Millisecond
	}
}

type handlerFunc func(frames [][]byte) [][]byte

// Messaging serves the four request/reply endpoints on REP sockets and the
// new-solution broadcast on a PUB socket.
type Messaging struct {
	wf   Workflow
	opts MessagingOptions

	addrs    map[string]protocol.Addr
	sockets  map[string]mangos.Socket
	notifier *Notifier

	stopping atomic.Bool
	wg       sync.WaitGroup
}

// NewMessaging binds every endpoint derived from base and registers the
// notifier as a solution listener. A bind failure closes whatever was bound.
func NewMessaging(wf Workflow, base string, opts MessagingOptions) (*Messaging, error) {
	opts.withDefaults()
	addrs, err := protocol.Addresses(base)
	if err != nil {
		return nil, err
	}

	m := &Messaging{
		wf:      wf,
		opts:    opts,
		addrs:   addrs,
		sockets: make(map[string]mangos.Socket, len(addrs)),
	}
	for _, name := range protocol.Endpoints {
		sock, err := m.listen(name, addrs[name])
		if err != nil {
			m.closeSockets()
			return nil, fmt.Errorf("binding %s endpoint: %w", name, err)
		}
		m.sockets[name] = sock
	}

	m.notifier = newNotifier(m.sockets[protocol.EndpointNewSolution], opts)
	wf.AddSolutionUpdateListener(func(id uint64, outcome workflow.Outcome, _ *workflow.State) {
		m.notifier.Publish(protocol.Notification{SolutionID: id, Outcome: int64(outcome)})
	})
	return m, nil
}

func (m *Messaging) listen(name string, addr protocol.Addr) (mangos.Socket, error) {
	if name == protocol.EndpointNewSolution {
		sock, err := pub.NewSocket()
		if err != nil {
			return nil, err
		}
		if err := bind(sock, addr); err != nil {
			return nil, err
		}
		return sock, nil
	}

	sock, err := rep.NewSocket()
	if err != nil {
		return nil, err
	}
	// The receive deadline is the poll interval of the serve loop.
	if err := sock.SetOption(mangos.OptionRecvDeadline, m.opts.PollInterval); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionSendDeadline, m.opts.IOTimeout); err != nil {
		sock.Close()
		return nil, err
	}
	if err := bind(sock, addr); err != nil {
		return nil, err
	}
	return sock, nil
}

// bind listens on addr and closes sock on failure.
func bind(sock mangos.Socket, addr protocol.Addr) error {
	if addr.Network == "unix" {
		// A socket file left by a previous run blocks the bind.
		if fi, err := os.Stat(addr.Address); err == nil && fi.Mode()&os.ModeSocket != 0 {
			os.Remove(addr.Address)
		}
	}
	if err := sock.Listen(addr.URL()); err != nil {
		sock.Close()
		return err
	}
	return nil
}

// Addr returns the transport URL of an endpoint, or "" for an unknown name.
func (m *Messaging) Addr(endpoint string) string {
	if addr, ok := m.addrs[endpoint]; ok {
		return addr.URL()
	}
	return ""
}

// Notifier returns the new-solution broadcaster.
func (m *Messaging) Notifier() *Notifier {
	return m.notifier
}

// Start launches one serve loop per request endpoint and the notifier.
func (m *Messaging) Start() {
	handlers := map[string]handlerFunc{
		protocol.EndpointPing:            m.handlePing,
		protocol.EndpointCurrentSolution: m.handleCurrentSolution,
		protocol.EndpointSetEdgeLabels:   m.handleSetEdgeLabels,
		protocol.EndpointUpdateSolution:  m.handleUpdate,
	}
	for name, h := range handlers {
		m.wg.Add(1)
		go m.serve(name, m.sockets[name], h)
	}
	m.notifier.start(&m.stopping)
	slog.Info("Messaging endpoints listening", "ping", m.Addr(protocol.EndpointPing))
}

// Close stops every loop, waits for the goroutines and closes the sockets.
func (m *Messaging) Close() {
	if !m.stopping.CompareAndSwap(false, true) {
		return
	}
	m.wg.Wait()
	m.notifier.wait()
	m.closeSockets()
}

func (m *Messaging) closeSockets() {
	for _, sock := range m.sockets {
		sock.Close()
	}
}

// serve answers requests on one REP socket until Close. Every received
// request gets exactly one reply.
func (m *Messaging) serve(name string, sock mangos.Socket, h handlerFunc) {
	defer m.wg.Done()
	for !m.stopping.Load() {
		body, err := sock.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrRecvTimeout) {
				continue
			}
			if !m.stopping.Load() && !errors.Is(err, mangos.ErrClosed) {
				slog.Error("Receive failed", "endpoint", name, "error", err)
			}
			return
		}

		reply, err := protocol.EncodeMessage(m.handle(name, h, body))
		if err != nil {
			slog.Error("Encoding reply failed", "endpoint", name, "error", err)
			reply, _ = protocol.EncodeMessage(exception(err))
		}
		if err := sock.Send(reply); err != nil {
			slog.Debug("Reply failed", "endpoint", name, "error", err)
		}
	}
}

// handle decodes the request body for the endpoints that read it. Ping,
// current-solution and update-solution ignore the body, so a malformed one
// still gets their normal reply.
func (m *Messaging) handle(name string, h handlerFunc, body []byte) [][]byte {
	if name != protocol.EndpointSetEdgeLabels {
		return m.invoke(name, h, nil)
	}
	frames, err := protocol.DecodeMessage(body, m.opts.MaxFrames)
	if err != nil {
		slog.Warn("Malformed request", "endpoint", name, "error", err)
		metrics.RequestsTotal.WithLabelValues(name, "exception").Inc()
		return exception(fmt.Errorf("malformed request: %w", err))
	}
	return m.invoke(name, h, frames)
}

// invoke runs h and turns a panic into an EXCEPTION reply.
func (m *Messaging) invoke(name string, h handlerFunc, frames [][]byte) (reply [][]byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in messaging handler",
				"endpoint", name,
				"error", r,
				"stack", string(debug.Stack()),
			)
			reply = exception(fmt.Errorf("internal error: %v", r))
			metrics.RequestsTotal.WithLabelValues(name, "exception").Inc()
		}
	}()
	return h(frames)
}

func exception(err error) [][]byte {
	return protocol.Reply{Status: protocol.Exception, Body: []byte(err.Error())}.Frames()
}

func (m *Messaging) handlePing(_ [][]byte) [][]byte {
	metrics.RequestsTotal.WithLabelValues(protocol.EndpointPing, "ok").Inc()
	return [][]byte{{}}
}

func (m *Messaging) handleCurrentSolution(_ [][]byte) [][]byte {
	state := m.wf.LatestState()
	if !state.HasSegmentation() {
		metrics.RequestsTotal.WithLabelValues(protocol.EndpointCurrentSolution, "no_solution").Inc()
		return protocol.Reply{Status: protocol.NoSolutionAvailable}.Frames()
	}
	metrics.RequestsTotal.WithLabelValues(protocol.EndpointCurrentSolution, "success").Inc()
	return protocol.Reply{
		Status: protocol.SolutionSuccess,
		Body:   protocol.DumpSegmentation(state.Segmentation),
	}.Frames()
}

func (m *Messaging) handleSetEdgeLabels(frames [][]byte) [][]byte {
	const endpoint = protocol.EndpointSetEdgeLabels
	fail := func(err error) [][]byte {
		metrics.RequestsTotal.WithLabelValues(endpoint, "exception").Inc()
		slog.Warn("SetEdgeLabels rejected", "error", err)
		return exception(err)
	}

	if len(frames) != 2 {
		return fail(fmt.Errorf("%w: got %d, want 2", protocol.ErrFrameCount, len(frames)))
	}
	method, err := protocol.DecodeInt64(frames[0])
	if err != nil {
		return fail(fmt.Errorf("method: %w", err))
	}
	if method != protocol.MethodEdgeList {
		metrics.RequestsTotal.WithLabelValues(endpoint, "do_not_understand").Inc()
		return protocol.Reply{Status: protocol.DoNotUnderstand, Body: protocol.EncodeInt64(method)}.Frames()
	}
	triples, err := protocol.DecodeTriples(frames[1])
	if err != nil {
		return fail(err)
	}
	edges, labels, err := protocol.Split(triples)
	if err != nil {
		return fail(err)
	}
	applied, err := m.wf.RequestSetEdgeLabels(edges, labels)
	if err != nil {
		return fail(err)
	}

	metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	return protocol.Reply{Status: protocol.LabelsSuccess, Body: protocol.EncodeInt64(int64(applied))}.Frames()
}

func (m *Messaging) handleUpdate(_ [][]byte) [][]byte {
	id := m.wf.RequestUpdateState()
	metrics.RequestsTotal.WithLabelValues(protocol.EndpointUpdateSolution, "acknowledged").Inc()
	return protocol.Reply{Status: protocol.Acknowledged, Body: protocol.EncodeInt64(int64(id))}.Frames()
}
