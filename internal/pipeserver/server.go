// Package pipeserver implements the Pipe Server (§4.5): a single long-running
// acceptor on a well-known named pipe, handing each accepted connection off
// to a concurrent reader/dispatcher/writer trio wired into a session
// registry.
package pipeserver

import (
	"errors"
	"log"
	"net"
	"sync"

	"github.com/Microsoft/go-winio"

	"github.com/winmux/winmux/internal/session"
)

// PipeName is the well-known local pipe name the daemon listens on (§6).
const PipeName = `\\.\pipe\winmuxd`

// ownerOnlySDDL grants full control only to the pipe creator's owner SID and
// nothing to anyone else, the ACL restriction required by §4.5 "Access
// control" / §9 "Pipe access control".
const ownerOnlySDDL = "D:P(A;;GA;;;OW)"

// defaultBufferSize is used when New is given a non-positive bufferSize.
const defaultBufferSize = 4096

// Server is the acceptor loop described in §4.5. It owns no session state
// directly — all session lookups are delegated to Registry.
type Server struct {
	Registry *session.Registry

	mu         sync.Mutex
	listener   net.Listener
	wg         sync.WaitGroup
	closed     bool
	bufferSize int
}

// New constructs a Server bound to registry. It does not start listening
// until Run is called. bufferSize sets the named pipe's input/output buffer
// sizes (§6 "bufferSize"); a non-positive value falls back to
// defaultBufferSize.
func New(registry *session.Registry, bufferSize int) *Server {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Server{Registry: registry, bufferSize: bufferSize}
}

// Run opens the named pipe listener and accepts connections until Close is
// called or the listener otherwise fails. Each accepted connection is handed
// to a new connection handler goroutine; the platform pipe API caps
// simultaneous server instances, so go-winio transparently prepares a new
// listening instance per Accept (§4.5 "prepares another listening instance").
func (s *Server) Run() error {
	l, err := winio.ListenPipe(PipeName, &winio.PipeConfig{
		SecurityDescriptor: ownerOnlySDDL,
		MessageMode:        false,
		InputBufferSize:    int32(s.bufferSize),
		OutputBufferSize:   int32(s.bufferSize),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	log.Printf("pipeserver: listening on %s", PipeName)

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			log.Printf("pipeserver: accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newConnection(conn, s.Registry).serve()
		}()
	}
}

// Close cancels the acceptor: in-flight WaitForConnection unblocks and any
// partially prepared server handle is released (§4.5 "Cancellation of the
// acceptor"). It does not forcibly terminate in-flight connection handlers;
// those dispose on their own I/O errors once the pipe closes.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Close()
}
