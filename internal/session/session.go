// Package session implements the Session Core (§4.4): the state machine
// binding one child process to one host-owned pseudoconsole, its output
// ring buffer, and its listener fan-out set, plus the process-wide registry
// that owns the id/name -> Session maps (§4.6).
package session

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/winmux/winmux/internal/ptyadapter"
	"github.com/winmux/winmux/internal/winenv"
)

// State is one of the two states in §4.4's state machine. There is no
// transition back from Exited.
type State string

const (
	StateRunning State = "Running"
	StateExited  State = "Exited"
)

const (
	ringBufferCapacity = 1 << 20 // 1 MiB, §4.4 "Ring buffer"
	readChunkSize      = 8 << 10 // 8 KiB, §4.4 "Read loop"

	defaultCols = 120
	defaultRows = 30
)

// Sink is the abstract capability a listener registers to receive output
// chunks (§9 "Listener callbacks as a capability"). Implementations are
// compared by identity (interface equality), so callers must register and
// remove the same concrete value — typically a pointer — each time.
type Sink interface {
	Output(data []byte)
}

// ptyHandle is the subset of *ptyadapter.PTY the session depends on. It
// exists so the state machine can be unit-tested without a real
// pseudoconsole (§9, "unit-test the fan-out without spawning a process").
type ptyHandle interface {
	Spawn(commandLine, cwd string, env []string) (int, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
	Kill()
	Wait() (int, error)
}

// newPTY is a package-level factory so tests can substitute a fake
// pseudoconsole. Production code never overrides it.
var newPTY = func(cols, rows int) (ptyHandle, error) {
	return ptyadapter.Open(cols, rows)
}

// Defaults carries the configured fallbacks applied when a CreateOptions
// field is left unset (§4.4 "Create").
type Defaults struct {
	Shell string
	Cwd   string
}

// CreateOptions carries the client-supplied, possibly-partial fields of a
// CreateSession request (§4.2).
type CreateOptions struct {
	Name  string
	Shell string
	Cwd   string
	Env   map[string]string
	Cols  int
	Rows  int
}

// Summary is an externally-visible, flat snapshot of a session (§3
// "SessionSummary").
type Summary struct {
	ID           string
	Name         string
	State        State
	Cols         int
	Rows         int
	Shell        string
	Cwd          string
	PID          int
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Session is the tuple of one pseudoconsole, one child process, its I/O
// handles, its output ring buffer, and its listener set (§3 "Session").
type Session struct {
	ID    string
	Name  string
	Shell string
	Cwd   string
	Env   map[string]string

	mu           sync.Mutex
	cols, rows   int
	state        State
	pid          int
	createdAt    time.Time
	lastActiveAt time.Time
	pty          ptyHandle // nil once Exited

	inputMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[Sink]struct{}
	ring        *ringBuffer

	exitCode int
	onExit   func(*Session, int) // registry hook: remove from id/name maps is NOT done here, see Registry
}

// create validates/defaults opts and starts the session's child process and
// background tasks, per §4.4 "Create". id is generated by the caller
// (normally the Registry) so it can reserve the map slot first.
func create(id string, opts CreateOptions, defaults Defaults) (*Session, error) {
	name := opts.Name
	if name == "" {
		name = id[:min(6, len(id))]
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	shell := opts.Shell
	if shell == "" {
		shell = defaults.Shell
	}
	shell = winenv.Expand(shell)

	cwd := opts.Cwd
	if cwd == "" {
		cwd = defaults.Cwd
	}
	cwd = winenv.Expand(cwd)

	s := &Session{
		ID:        id,
		Name:      name,
		Shell:     shell,
		Cwd:       cwd,
		Env:       opts.Env,
		cols:      cols,
		rows:      rows,
		state:     StateRunning,
		createdAt: time.Now(),
		listeners: make(map[Sink]struct{}),
		ring:      newRingBuffer(ringBufferCapacity),
	}
	s.lastActiveAt = s.createdAt

	pty, err := newPTY(cols, rows)
	if err != nil {
		return nil, fmt.Errorf("session %s: open pty: %w", id, err)
	}

	env := winenv.Overlay(name, opts.Env)
	pid, err := pty.Spawn(shell, cwd, env)
	if err != nil {
		pty.Close()
		return nil, fmt.Errorf("session %s: spawn %q: %w", id, shell, err)
	}

	s.pty = pty
	s.pid = pid

	go s.readLoop(pty)
	go s.waiter(pty)

	return s, nil
}

// NewID returns a new 128-bit random session identifier rendered as a
// compact hex string (§3, §8 scenario 3: "32 hex chars").
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// readLoop repeatedly drains PTY output and fans it out to listeners,
// per §4.4 "Read loop". It terminates on a zero-byte read.
func (s *Session) readLoop(pty ptyHandle) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			s.listenersMu.Lock()
			s.ring.Append(chunk)
			s.mu.Lock()
			s.lastActiveAt = time.Now()
			s.mu.Unlock()

			sinks := make([]Sink, 0, len(s.listeners))
			for sink := range s.listeners {
				sinks = append(sinks, sink)
			}
			s.listenersMu.Unlock()

			for _, sink := range sinks {
				invokeSink(sink, chunk)
			}
		}
		if err != nil {
			return
		}
		if n == 0 {
			return
		}
	}
}

// invokeSink calls a listener, swallowing any panic so one misbehaving
// subscriber cannot take down the read loop or its siblings (§7, "Listener
// callback exception").
func invokeSink(sink Sink, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session: listener panic: %v", r)
		}
	}()
	sink.Output(data)
}

// waiter blocks until the child exits, then performs the Running -> Exited
// transition and idempotent cleanup (§4.4 "Exit").
func (s *Session) waiter(pty ptyHandle) {
	code, err := pty.Wait()
	if err != nil {
		log.Printf("session %s: wait: %v", s.ID, err)
	}

	s.mu.Lock()
	s.state = StateExited
	s.exitCode = code
	s.pty = nil
	onExit := s.onExit
	s.mu.Unlock()

	pty.Close()

	if onExit != nil {
		onExit(s, code)
	}
}

// WriteInput writes data to the PTY input handle under the per-session
// input mutex and advances last-active-at (§4.4 "write_input"). It is a
// no-op once the session has exited.
func (s *Session) WriteInput(data []byte) {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()

	s.mu.Lock()
	pty := s.pty
	s.mu.Unlock()
	if pty == nil {
		return
	}

	if _, err := pty.Write(data); err != nil {
		log.Printf("session %s: write input: %v", s.ID, err)
		return
	}

	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// Resize stores the new dimensions and asks the PTY adapter to resize
// atomically; no listener notification happens (§4.4 "resize").
func (s *Session) Resize(cols, rows int) {
	if cols < 1 || rows < 1 {
		return
	}

	s.mu.Lock()
	pty := s.pty
	s.cols, s.rows = cols, rows
	s.mu.Unlock()

	if pty == nil {
		return
	}
	if err := pty.Resize(cols, rows); err != nil {
		log.Printf("session %s: resize: %v", s.ID, err)
	}
}

// AddListener atomically registers sink and, if the ring buffer is
// non-empty, replays its current tail to sink before returning — the
// "warm-attach replay" contract of §4.4/§8 law 6. If the session has
// already exited, the caller still gets the replay (ring buffer survives
// exit) but no further chunks will ever arrive.
//
// The replay must happen while listenersMu is still held: readLoop only
// ever appends to the ring buffer and snapshots the listener set under the
// same lock (§5 "the warm-attach snapshot is taken under the listener-set
// lock, which serialises with the next append"), so releasing the lock
// before invoking sink would let a chunk produced between the insert and
// the replay reach sink live, ahead of its own warm-attach tail.
func (s *Session) AddListener(sink Sink) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.listeners[sink] = struct{}{}
	replay := s.ring.Snapshot()
	if len(replay) > 0 {
		invokeSink(sink, replay)
	}
}

// RemoveListener unregisters sink by identity (§4.4 "remove_listener").
func (s *Session) RemoveListener(sink Sink) {
	s.listenersMu.Lock()
	delete(s.listeners, sink)
	s.listenersMu.Unlock()
}

// Kill best-effort terminates the child process (not its descendants); the
// actual state transition happens through the waiter (§4.4 "kill").
func (s *Session) Kill() {
	s.mu.Lock()
	pty := s.pty
	s.mu.Unlock()
	if pty == nil {
		return
	}
	pty.Kill()
}

// Summary returns a point-in-time snapshot of externally-visible fields
// (§4.4 "summary").
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:           s.ID,
		Name:         s.Name,
		State:        s.state,
		Cols:         s.cols,
		Rows:         s.rows,
		Shell:        s.Shell,
		Cwd:          s.Cwd,
		PID:          s.pid,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActiveAt,
	}
}
