// Package ptyadapter wraps the Windows pseudoconsole (ConPTY) facility:
// allocate a console of a given size, spawn a child process attached to it,
// resize it, and release it. This is the only platform-specific component
// in the core (§4.3); everything above it (internal/session) only ever sees
// the PTY type defined here.
package ptyadapter

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	procThreadAttributePseudoconsole = 0x00020016
	extendedStartupinfoPresent       = 0x00080000
)

var (
	modkernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procCreatePseudoConsole = modkernel32.NewProc("CreatePseudoConsole")
	procResizePseudoConsole = modkernel32.NewProc("ResizePseudoConsole")
	procClosePseudoConsole  = modkernel32.NewProc("ClosePseudoConsole")
)

// PTY owns one pseudoconsole, the caller-side ends of its two byte pipes,
// and the spawned child. It satisfies §3's invariant (ii)/(iii): while Pid
// != 0 the handles are valid, and Close releases all three exactly once.
type PTY struct {
	console windows.Handle // HPCON, opaque pseudoconsole handle
	input   windows.Handle // write end -> child stdin
	output  windows.Handle // read end <- child stdout/stderr
	process windows.Handle
	thread  windows.Handle

	Pid int

	closeOnce sync.Once
}

func coord(cols, rows int) uintptr {
	return uintptr(uint16(cols)) | (uintptr(uint16(rows)) << 16)
}

// Open creates a pseudoconsole of the requested size and the two pipes
// bound to it, per §4.3 "open_pty". It arranges handle inheritance so that
// only the ends destined for the child are ever passed to CreateProcess;
// the caller's copies of the PTY-side ends are closed here, as soon as the
// pseudoconsole has been created and before Spawn.
func Open(cols, rows int) (*PTY, error) {
	if cols < 1 || rows < 1 {
		return nil, fmt.Errorf("ptyadapter: cols and rows must be >= 1, got %dx%d", cols, rows)
	}

	var ptyInRead, ptyInWrite, ptyOutRead, ptyOutWrite windows.Handle
	if err := windows.CreatePipe(&ptyInRead, &ptyInWrite, nil, 0); err != nil {
		return nil, fmt.Errorf("ptyadapter: create input pipe: %w", err)
	}
	if err := windows.CreatePipe(&ptyOutRead, &ptyOutWrite, nil, 0); err != nil {
		windows.CloseHandle(ptyInRead)
		windows.CloseHandle(ptyInWrite)
		return nil, fmt.Errorf("ptyadapter: create output pipe: %w", err)
	}

	var hpc windows.Handle
	r1, _, _ := procCreatePseudoConsole.Call(
		coord(cols, rows),
		uintptr(ptyInRead),
		uintptr(ptyOutWrite),
		0,
		uintptr(unsafe.Pointer(&hpc)),
	)
	if r1 != 0 {
		windows.CloseHandle(ptyInRead)
		windows.CloseHandle(ptyInWrite)
		windows.CloseHandle(ptyOutRead)
		windows.CloseHandle(ptyOutWrite)
		return nil, fmt.Errorf("ptyadapter: CreatePseudoConsole failed: HRESULT 0x%08x", r1)
	}

	// The pseudoconsole has duplicated what it needs from the child-side
	// ends; our copies are no longer needed and must be closed so EOF
	// propagates correctly when the child exits.
	windows.CloseHandle(ptyInRead)
	windows.CloseHandle(ptyOutWrite)

	return &PTY{
		console: hpc,
		input:   ptyInWrite,
		output:  ptyOutRead,
	}, nil
}

// Spawn starts command attached to the pseudoconsole so the child's stdin,
// stdout and stderr are all wired to it, per §4.3 "spawn". cwd may be empty
// (inherit the daemon's working directory); env, if non-nil, replaces the
// child's environment block wholesale — internal/session builds that block
// explicitly (daemon environment + WMUX/WMUX_SESSION overlay) rather than
// mutating the daemon's own process environment, per the DESIGN NOTES
// correction to the source's global-mutation workaround.
func (p *PTY) Spawn(commandLine, cwd string, env []string) (int, error) {
	attrList, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return 0, fmt.Errorf("ptyadapter: NewProcThreadAttributeList: %w", err)
	}
	defer attrList.Delete()

	if err := attrList.Update(
		procThreadAttributePseudoconsole,
		unsafe.Pointer(&p.console),
		unsafe.Sizeof(p.console),
	); err != nil {
		return 0, fmt.Errorf("ptyadapter: update pseudoconsole attribute: %w", err)
	}

	si := &windows.StartupInfoEx{
		StartupInfo: windows.StartupInfo{
			Cb: uint32(unsafe.Sizeof(windows.StartupInfoEx{})),
		},
		ProcThreadAttributeList: attrList.List(),
	}

	cmdLine, err := windows.UTF16PtrFromString(commandLine)
	if err != nil {
		return 0, fmt.Errorf("ptyadapter: encode command line: %w", err)
	}

	var cwdPtr *uint16
	if cwd != "" {
		cwdPtr, err = windows.UTF16PtrFromString(cwd)
		if err != nil {
			return 0, fmt.Errorf("ptyadapter: encode working directory: %w", err)
		}
	}

	var envPtr *uint16
	if env != nil {
		envPtr, err = windows.UTF16PtrFromStringsAsBlock(env)
		if err != nil {
			return 0, fmt.Errorf("ptyadapter: encode environment block: %w", err)
		}
	}

	var pi windows.ProcessInformation
	err = windows.CreateProcess(
		nil, cmdLine, nil, nil, false,
		extendedStartupinfoPresent|windows.CREATE_UNICODE_ENVIRONMENT,
		envPtr, cwdPtr,
		&si.StartupInfo, &pi,
	)
	if err != nil {
		return 0, fmt.Errorf("ptyadapter: CreateProcess: %w", err)
	}
	windows.CloseHandle(pi.Thread)

	p.process = pi.Process
	p.thread = pi.Thread
	p.Pid = int(pi.ProcessId)
	return p.Pid, nil
}

// Read reads PTY output into buf. It blocks until at least one byte is
// available or the child's output pipe has closed; in the latter case the
// ReadFile error is returned as-is. The read loop in internal/session ends
// on either an error or a zero-byte read.
func (p *PTY) Read(buf []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(p.output, buf, &n, nil)
	if err != nil {
		return int(n), err
	}
	return int(n), nil
}

// Write writes stdin bytes into the PTY.
func (p *PTY) Write(buf []byte) (int, error) {
	var n uint32
	err := windows.WriteFile(p.input, buf, &n, nil)
	if err != nil {
		return int(n), err
	}
	return int(n), nil
}

// Resize updates the pseudoconsole's visible dimensions atomically
// (§4.3 "resize"). No listener notification happens here — that is
// internal/session's concern (§4.4).
func (p *PTY) Resize(cols, rows int) error {
	r1, _, err := procResizePseudoConsole.Call(uintptr(p.console), coord(cols, rows))
	if r1 != 0 {
		return fmt.Errorf("ptyadapter: ResizePseudoConsole: %w", err)
	}
	return nil
}

// Close releases the pseudoconsole and both byte handles exactly once
// (§3 invariant iii, §4.4 "Terminal cleanup... idempotent"). It does not
// wait for the child process to exit; internal/session's waiter owns that.
func (p *PTY) Close() error {
	p.closeOnce.Do(func() {
		procClosePseudoConsole.Call(uintptr(p.console))
		windows.CloseHandle(p.input)
		windows.CloseHandle(p.output)
		if p.process != 0 {
			windows.CloseHandle(p.process)
		}
	})
	return nil
}

// Kill best-effort terminates the child process with TerminateProcess.
// Processes the child itself started are not terminated. Errors are
// swallowed; the actual state transition happens through the session's
// waiter observing process exit.
func (p *PTY) Kill() {
	if p.process == 0 {
		return
	}
	windows.TerminateProcess(p.process, 1)
}

// Wait blocks until the child process exits and returns its exit code.
func (p *PTY) Wait() (int, error) {
	if p.process == 0 {
		return 0, fmt.Errorf("ptyadapter: process not started")
	}
	s, err := windows.WaitForSingleObject(p.process, windows.INFINITE)
	if err != nil {
		return 0, fmt.Errorf("ptyadapter: WaitForSingleObject: %w", err)
	}
	if s != windows.WAIT_OBJECT_0 {
		return 0, fmt.Errorf("ptyadapter: unexpected wait result %d", s)
	}
	var code uint32
	if err := windows.GetExitCodeProcess(p.process, &code); err != nil {
		return 0, fmt.Errorf("ptyadapter: GetExitCodeProcess: %w", err)
	}
	return int(code), nil
}
