package pipeserver

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/winmux/winmux/internal/proto"
	"github.com/winmux/winmux/internal/session"
)

// outboundQueue is the per-connection multi-producer/single-consumer,
// unbounded outbound event queue (§5 "Shared resources and locks"). It is
// unbounded by explicit design, not oversight: listener callbacks run inside
// a session's hot read loop, and a bounded queue would force a
// drop-or-block policy onto every attached client (§9 "Unbounded outbound
// queue").
type outboundQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []proto.Event
	closed bool
}

func newOutboundQueue() *outboundQueue {
	q := &outboundQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// tryEnqueue appends e and reports whether it was accepted. Enqueues after
// close are rejected rather than blocking or panicking, matching §3's
// ClientConnection invariant ("after dispose, no further enqueues succeed").
func (q *outboundQueue) tryEnqueue(e proto.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, e)
	q.cond.Signal()
	return true
}

// dequeue blocks until an item is available or the queue is closed and
// drained, in which case ok is false.
func (q *outboundQueue) dequeue() (e proto.Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return proto.Event{}, false
	}
	e, q.items = q.items[0], q.items[1:]
	return e, true
}

func (q *outboundQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// outputSink adapts a session's byte-chunk fan-out onto one connection's
// outbound queue as framed Output events (§9 "Listener callbacks as a
// capability").
type outputSink struct {
	queue     *outboundQueue
	sessionID string
}

func (o *outputSink) Output(data []byte) {
	o.queue.tryEnqueue(proto.Output(o.sessionID, data))
}

// attachment records one session this connection is currently listening to,
// so Detach can target exactly that subscription (§4.5 Dispatcher "Detach",
// recommended resolution of the source's ignored sessionId).
type attachment struct {
	sink    *outputSink
	session *session.Session
}

// clientConnection is the per-connection reader/dispatcher/writer trio of
// §4.5, bound to one accepted pipe stream.
type clientConnection struct {
	conn     net.Conn
	registry *session.Registry
	queue    *outboundQueue

	mu          sync.Mutex
	attachments map[string]attachment

	disposeOnce sync.Once
}

func newConnection(conn net.Conn, registry *session.Registry) *clientConnection {
	return &clientConnection{
		conn:        conn,
		registry:    registry,
		queue:       newOutboundQueue(),
		attachments: make(map[string]attachment),
	}
}

// serve runs the reader and writer concurrently. Disposal is triggered by
// whichever of the two exits first (reader EndOfStream/framing error, or a
// writer I/O error) — closing the pipe then unblocks whichever side was
// still in a suspended read/write (§4.5 "Connection disposal").
func (c *clientConnection) serve() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.writeLoop()
		c.dispose()
	}()

	go func() {
		defer wg.Done()
		c.readLoop()
		c.dispose()
	}()

	wg.Wait()
}

// readLoop decodes framed requests until a clean EndOfStream, a framing
// error, or cancellation; all three simply end the loop (§4.5 "Reader").
func (c *clientConnection) readLoop() {
	for {
		var req proto.Request
		if err := proto.ReadFrame(c.conn, &req); err != nil {
			if !errors.Is(err, proto.ErrEndOfStream) {
				log.Printf("pipeserver: framing error, closing connection: %v", err)
			}
			return
		}
		c.dispatch(req)
	}
}

// writeLoop drains the outbound queue and writes each event framed to the
// pipe. One writer per connection serializes writes by construction, so
// frames never interleave (§4.5 "Writer").
func (c *clientConnection) writeLoop() {
	for {
		evt, ok := c.queue.dequeue()
		if !ok {
			return
		}
		if err := proto.WriteFrame(c.conn, evt); err != nil {
			return
		}
	}
}

// dispatch matches one decoded request to its handler (§4.5 "Dispatcher").
func (c *clientConnection) dispatch(req proto.Request) {
	switch req.Type {
	case proto.ReqPing:
		c.queue.tryEnqueue(proto.Pong(time.Now()))

	case proto.ReqList:
		summaries := toWireSummaries(c.registry.List())
		c.queue.tryEnqueue(proto.Sessions(summaries))

	case proto.ReqCreateSession:
		c.handleCreateSession(req)

	case proto.ReqAttach:
		c.handleAttach(req)

	case proto.ReqInput:
		c.handleInput(req)

	case proto.ReqResize:
		c.handleResize(req)

	case proto.ReqKill:
		c.handleKill(req)

	case proto.ReqDetach:
		c.handleDetach(req)

	default:
		c.queue.tryEnqueue(proto.Error("", proto.CodeUnimplemented, req.Type+" not implemented"))
	}
}

func (c *clientConnection) handleCreateSession(req proto.Request) {
	s, err := c.registry.Create(session.CreateOptions{
		Name:  req.Name,
		Shell: req.Shell,
		Cwd:   req.Cwd,
		Env:   req.Env,
		Cols:  req.Cols,
		Rows:  req.Rows,
	})
	if err != nil {
		// §7 "PTY / spawn failure on CreateSession": this implementation's
		// chosen, consistent policy is to report an Error event rather than
		// drop the connection.
		c.queue.tryEnqueue(proto.Error("", "CREATE_FAILED", err.Error()))
		return
	}
	c.queue.tryEnqueue(proto.Created(s.ID))
}

func (c *clientConnection) handleAttach(req proto.Request) {
	s := c.registry.Get(req.IDOrName)
	if s == nil {
		c.queue.tryEnqueue(proto.Error("", proto.CodeNotFound, "Session not found"))
		return
	}

	sink := &outputSink{queue: c.queue, sessionID: s.ID}

	// register-then-enqueue-Attached: AddListener's synchronous warm-replay
	// (if any) reaches the outbound queue before the Attached event below,
	// so a client reconnecting to a busy session sees Attached only after
	// it is guaranteed not to miss the replayed tail (§4.5 dispatcher note).
	s.AddListener(sink)

	c.mu.Lock()
	c.attachments[s.ID] = attachment{sink: sink, session: s}
	c.mu.Unlock()

	c.queue.tryEnqueue(proto.Attached(s.ID))
}

func (c *clientConnection) handleInput(req proto.Request) {
	s := c.registry.Get(req.SessionID)
	if s == nil {
		c.queue.tryEnqueue(proto.Error("", proto.CodeNotFound, "Session not found"))
		return
	}
	data, err := req.InputData()
	if err != nil {
		c.queue.tryEnqueue(proto.Error("", "BAD_REQUEST", "invalid input data: "+err.Error()))
		return
	}
	s.WriteInput(data)
}

func (c *clientConnection) handleResize(req proto.Request) {
	s := c.registry.Get(req.SessionID)
	if s == nil {
		c.queue.tryEnqueue(proto.Error("", proto.CodeNotFound, "Session not found"))
		return
	}
	s.Resize(req.Cols, req.Rows)
}

func (c *clientConnection) handleKill(req proto.Request) {
	s := c.registry.Get(req.SessionID)
	if s == nil {
		c.queue.tryEnqueue(proto.Error("", proto.CodeNotFound, "Session not found"))
		return
	}
	s.Kill()
	// §9 open question: give Kill a feedback path instead of swallowing it
	// entirely; an Ack confirms the request reached a real session without
	// implying the process has actually exited yet.
	c.queue.tryEnqueue(proto.Ack(""))
}

func (c *clientConnection) handleDetach(req proto.Request) {
	c.mu.Lock()
	a, ok := c.attachments[req.SessionID]
	if ok {
		delete(c.attachments, req.SessionID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	// §9 open question, resolved: un-register exactly this connection's
	// listener for that session rather than ignoring sessionId outright.
	a.session.RemoveListener(a.sink)
}

// dispose runs every attachment's listener-removal hook exactly once,
// closes the pipe, and marks the outbound queue complete (§3
// ClientConnection invariant, §8 law 8 "Idempotent disposal").
func (c *clientConnection) dispose() {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		attachments := c.attachments
		c.attachments = make(map[string]attachment)
		c.mu.Unlock()

		for _, a := range attachments {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("pipeserver: disposal hook panic: %v", r)
					}
				}()
				a.session.RemoveListener(a.sink)
			}()
		}

		c.queue.close()
		c.conn.Close()
	})
}

func toWireSummaries(summaries []session.Summary) []proto.SessionSummary {
	out := make([]proto.SessionSummary, len(summaries))
	for i, s := range summaries {
		out[i] = proto.SessionSummary{
			ID:           s.ID,
			Name:         s.Name,
			State:        string(s.State),
			Cols:         s.Cols,
			Rows:         s.Rows,
			Shell:        s.Shell,
			Cwd:          s.Cwd,
			PID:          s.PID,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
		}
	}
	return out
}
