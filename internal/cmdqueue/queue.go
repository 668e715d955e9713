// Package cmdqueue implements the Command Queue and worker pool of
// spec.md §4.5: a FIFO of proxy-PDU and shutdown commands drained by a
// fixed pool of workers, generalized from bgpfix-bgpipe's core.StageBase
// single-stage lifecycle (atomics + context.CancelCauseFunc) to N worker
// goroutines draining one shared queue.
package cmdqueue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Kind distinguishes the two command kinds named in spec.md §4.5.
type Kind int

const (
	ProxyPDU Kind = iota
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case ProxyPDU:
		return "ProxyPDU"
	case Shutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is one queue item: `(kind, client, payload, update_id_hint)`,
// spec.md §4.5. Payload is an opaque decoded PDU; the command handler
// type-switches it.
type Command struct {
	Kind          Kind
	ClientSlot    uint16
	Payload       any
	UpdateIDHint  uint32
	HasUpdateHint bool
}

// Handler processes one Command. It runs on a worker goroutine; it must not
// block indefinitely, since a blocked worker reduces pool capacity for the
// remainder of the items behind it in the FIFO.
type Handler func(ctx context.Context, cmd Command)

// Queue is a FIFO of Command items drained by a fixed worker pool. Items
// are never reordered: the channel preserves submission order, and with
// the spec's default of one worker, processing is fully serialized too.
// Raising Workers keeps FIFO pop order but allows items to be in flight
// concurrently — spec.md §4.5 requires the former, not the latter.
type Queue struct {
	log     zerolog.Logger
	ch      chan Command
	handler Handler
	workers int
}

// New returns a Queue with the given buffer capacity and worker count
// (spec.md §4.5's "fixed worker pool (default 1)"); handler processes
// every popped Command.
func New(log zerolog.Logger, capacity, workers int, handler Handler) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		log:     log.With().Str("component", "cmd_queue").Logger(),
		ch:      make(chan Command, capacity),
		handler: handler,
		workers: workers,
	}
}

// Submit enqueues cmd, blocking only if the buffer is full or ctx ends
// first.
func (q *Queue) Submit(ctx context.Context, cmd Command) error {
	select {
	case q.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// in-flight command has finished, mirroring core.StageBase's done-channel
// shutdown discipline via errgroup instead of a bare WaitGroup.
func (q *Queue) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		workerID := i
		g.Go(func() error {
			q.worker(gctx, workerID)
			return nil
		})
	}
	<-ctx.Done()
	return g.Wait()
}

func (q *Queue) worker(ctx context.Context, id int) {
	log := q.log.With().Int("worker", id).Logger()
	for {
		select {
		case cmd := <-q.ch:
			q.handler(ctx, cmd)
		case <-ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		}
	}
}

// Len reports the number of commands currently buffered, for metrics.
func (q *Queue) Len() int {
	return len(q.ch)
}
