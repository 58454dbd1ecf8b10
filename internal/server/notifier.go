package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.nanomsg.org/mangos/v3"

	"github.com/sanonone/pias/internal/protocol"
	"github.com/sanonone/pias/pkg/metrics"
)

// Notifier broadcasts new-solution notifications on a PUB socket. Delivery is
// fire-and-forget: subscribers never acknowledge, late subscribers miss
// earlier notifications and a full queue drops the newest notification
// instead of blocking the publisher.
type Notifier struct {
	sock mangos.Socket
	opts MessagingOptions

	queue chan protocol.Notification
	subs  atomic.Int64

	stopping *atomic.Bool
	wg       sync.WaitGroup
}

func newNotifier(sock mangos.Socket, opts MessagingOptions) *Notifier {
	n := &Notifier{
		sock:  sock,
		opts:  opts,
		queue: make(chan protocol.Notification, opts.QueueSize),
	}
	if sock != nil {
		sock.SetPipeEventHook(n.pipeEvent)
	}
	return n
}

func (n *Notifier) pipeEvent(ev mangos.PipeEvent, p mangos.Pipe) {
	switch ev {
	case mangos.PipeEventAttached:
		metrics.Subscribers.Set(float64(n.subs.Add(1)))
		slog.Debug("Subscriber connected", "pipe", p.ID())
	case mangos.PipeEventDetached:
		metrics.Subscribers.Set(float64(n.subs.Add(-1)))
		slog.Debug("Subscriber disconnected", "pipe", p.ID())
	}
}

func (n *Notifier) start(stopping *atomic.Bool) {
	n.stopping = stopping
	n.wg.Add(1)
	go n.drainLoop()
}

func (n *Notifier) wait() {
	n.wg.Wait()
}

// Publish queues a notification, waiting at most the put timeout for space.
// It reports whether the notification was queued.
func (n *Notifier) Publish(note protocol.Notification) bool {
	select {
	case n.queue <- note:
		return true
	default:
	}

	timer := time.NewTimer(n.opts.PutTimeout)
	defer timer.Stop()
	select {
	case n.queue <- note:
		return true
	case <-timer.C:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		slog.Warn("Notification queue full, dropping notification",
			"solution_id", note.SolutionID,
			"outcome", note.Outcome,
		)
		return false
	}
}

// Subscribers returns the number of connected subscribers.
func (n *Notifier) Subscribers() int {
	return int(n.subs.Load())
}

func (n *Notifier) drainLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.PollInterval)
	defer ticker.Stop()

	for !n.stopping.Load() {
		select {
		case note := <-n.queue:
			n.broadcast(note)
		case <-ticker.C:
		}
	}
}

// broadcast hands one notification to the PUB socket, which drops it for any
// subscriber whose queue is full.
func (n *Notifier) broadcast(note protocol.Notification) {
	msg, err := protocol.EncodeMessage(note.Frames())
	if err != nil {
		slog.Error("Encoding notification failed", "error", err)
		return
	}
	if err := n.sock.Send(msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		slog.Warn("Broadcasting notification failed", "solution_id", note.SolutionID, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}
