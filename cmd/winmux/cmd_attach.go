package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/winmux/winmux/internal/proto"
)

const detachByte = 0x1D // Ctrl-]

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <idOrName>",
		Short: "Attach your terminal to a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doAttach(args[0])
		},
	}
}

// doAttach connects, sends Attach, and then bridges stdin/stdout to the
// session until the user detaches (Ctrl-]) or the daemon disconnects.
func doAttach(idOrName string) error {
	conn, err := dial()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()

	if err := proto.WriteFrame(conn, proto.Request{Type: proto.ReqAttach, IDOrName: idOrName}); err != nil {
		return err
	}
	// The daemon sends the warm-replay Output (if any) before Attached;
	// collect it so it can be shown once the terminal is set up.
	var attached proto.Event
	var replay []byte
	for {
		attached = proto.Event{}
		if err := proto.ReadFrame(conn, &attached); err != nil {
			return err
		}
		if attached.Type != proto.EvtOutput {
			break
		}
		if data, err := attached.OutputData(); err == nil {
			replay = append(replay, data...)
		}
	}
	if attached.Type == proto.EvtError {
		return fmt.Errorf("%s: %s", attached.ErrorCode(), attached.Message)
	}
	sessionID := attached.SessionID

	// proto.WriteFrame writes its header and payload as two separate
	// Write calls, so the stdin-forwarding goroutine and pollResize must
	// share this single serialized writer rather than call WriteFrame on
	// conn directly, or their frames can interleave on the wire.
	var writeMu sync.Mutex
	writeFrame := func(req proto.Request) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return proto.WriteFrame(conn, req)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("cannot set raw mode: %w", err)
	}
	restore := func() { term.Restore(fd, oldState) }
	defer restore()

	fmt.Fprintf(os.Stdout, "\r\nattached to %s (detach: Ctrl-])\r\n", sessionID)
	os.Stdout.Write(replay)

	done := make(chan struct{})
	closeDone := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	// Server → stdout.
	go func() {
		defer closeDone()
		for {
			var evt proto.Event
			if err := proto.ReadFrame(conn, &evt); err != nil {
				return
			}
			switch evt.Type {
			case proto.EvtOutput:
				data, err := evt.OutputData()
				if err == nil {
					os.Stdout.Write(data)
				}
			case proto.EvtExit:
				fmt.Fprintf(os.Stdout, "\r\n[session exited, code %d]\r\n", evt.ExitCode())
				return
			}
		}
	}()

	// stdin → server.
	go func() {
		defer closeDone()
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for i := 0; i < n; i++ {
					if buf[i] == detachByte {
						writeFrame(proto.Request{Type: proto.ReqDetach, SessionID: sessionID})
						return
					}
				}
				req := proto.Request{Type: proto.ReqInput, SessionID: sessionID}
				req.SetInputData(buf[:n])
				if werr := writeFrame(req); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Windows has no SIGWINCH; poll terminal size instead.
	go pollResize(fd, writeFrame, sessionID, done)

	<-done
	restore()
	fmt.Fprintf(os.Stdout, "\ndetached from %s\n", sessionID)
	return nil
}

func pollResize(fd int, writeFrame func(proto.Request) error, sessionID string, done <-chan struct{}) {
	lastCols, lastRows, _ := term.GetSize(fd)
	if lastCols > 0 && lastRows > 0 {
		writeFrame(proto.Request{Type: proto.ReqResize, SessionID: sessionID, Cols: lastCols, Rows: lastRows})
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cols, rows, err := term.GetSize(fd)
			if err != nil || (cols == lastCols && rows == lastRows) {
				continue
			}
			lastCols, lastRows = cols, rows
			writeFrame(proto.Request{Type: proto.ReqResize, SessionID: sessionID, Cols: cols, Rows: rows})
		}
	}
}
