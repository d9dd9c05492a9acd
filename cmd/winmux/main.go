// winmux is the CLI client for the winmuxd daemon.
//
// Usage:
//
//	winmux ping
//	winmux ls
//	winmux new [-n name] [-s shell] [-C cwd] [-c cols] [-r rows]
//	winmux attach <idOrName>
//	winmux kill <idOrName>
//	winmux resize <idOrName> <cols> <rows>
//	winmux watch
//
// winmux starts winmuxd automatically if it is not already running.
// Detach from an attached session with Ctrl-].
package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/spf13/cobra"

	"github.com/winmux/winmux/internal/proto"
)

const dialTimeout = 2 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "winmux",
		Short:         "Attach to and manage background WinMux terminal sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newPingCmd(),
		newLsCmd(),
		newNewCmd(),
		newAttachCmd(),
		newKillCmd(),
		newResizeCmd(),
		newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "winmux: %v\n", err)
		os.Exit(1)
	}
}

// dial connects to the daemon's named pipe, auto-spawning winmuxd first if
// it isn't already listening.
func dial() (net.Conn, error) {
	ensureDaemon()
	timeout := dialTimeout
	return winio.DialPipe(pipeserverName, &timeout)
}

// pipeserverName mirrors internal/pipeserver.PipeName without importing that
// package into the client binary.
const pipeserverName = `\\.\pipe\winmuxd`

// pingDaemon reports whether winmuxd is alive and responding.
func pingDaemon() bool {
	timeout := 500 * time.Millisecond
	conn, err := winio.DialPipe(pipeserverName, &timeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(500 * time.Millisecond))
	if err := proto.WriteFrame(conn, proto.Request{Type: proto.ReqPing}); err != nil {
		return false
	}
	var evt proto.Event
	if err := proto.ReadFrame(conn, &evt); err != nil {
		return false
	}
	return evt.Type == proto.EvtPong
}

// ensureDaemon auto-spawns winmuxd alongside the client binary if no daemon
// is currently listening, waiting briefly for it to come up.
func ensureDaemon() {
	if pingDaemon() {
		return
	}

	exe, _ := os.Executable()
	daemonBin := filepath.Join(filepath.Dir(exe), "winmuxd.exe")
	if _, err := os.Stat(daemonBin); err != nil {
		daemonBin = "winmuxd.exe"
	}

	cmd := exec.Command(daemonBin)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "winmux: could not start daemon: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if pingDaemon() {
			return
		}
	}

	fmt.Fprintln(os.Stderr, "winmux: daemon did not start in time")
	os.Exit(1)
}

// request sends req and returns the single event the daemon replies with.
func request(req proto.Request) (proto.Event, error) {
	conn, err := dial()
	if err != nil {
		return proto.Event{}, fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()

	if err := proto.WriteFrame(conn, req); err != nil {
		return proto.Event{}, err
	}
	var evt proto.Event
	if err := proto.ReadFrame(conn, &evt); err != nil {
		return proto.Event{}, err
	}
	if evt.Type == proto.EvtError {
		return evt, fmt.Errorf("%s: %s", evt.ErrorCode(), evt.Message)
	}
	return evt, nil
}
