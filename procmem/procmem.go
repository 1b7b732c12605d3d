// Package procmem locates a running process by executable name and gives
// read/write access to its memory.
package procmem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingwinkie/nr2003-memory-tool/logflags"
)

var (
	ErrProcessNotFound = errors.New("process not found")

	// ErrProcessGone is returned by every Handle operation once the target
	// has exited or its pid was reused.
	ErrProcessGone = errors.New("process has exited")

	ErrBaseNotFound = errors.New("module base not found")
	ErrShortRead    = errors.New("short read")
	ErrShortWrite   = errors.New("short write")
	ErrClosed       = errors.New("handle is closed")
	ErrReadOnly     = errors.New("handle opened read-only")
	ErrUnsupported  = errors.New("process memory access is not supported on this platform")
)

// AccessError reports that the OS refused memory access to a process.
type AccessError struct {
	Pid int
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot open process %d: %v", e.Pid, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// Process identifies a running process found by Find.
type Process struct {
	Pid  int
	Name string
	// Path is the executable path as reported by the OS, if known.
	Path string

	startTime uint64
}

// Find returns the first running process whose executable name matches
// name, ignoring case and any directory component.
func Find(name string) (*Process, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty process name", ErrProcessNotFound)
	}
	p, err := findProcess(name)
	if err != nil {
		return nil, err
	}
	logflags.ProcessLogger().Debugf("found %s pid %d (%s)", p.Name, p.Pid, p.Path)
	return p, nil
}

// Open acquires a handle to the process memory. write requests write
// access in addition to read access.
func (p *Process) Open(write bool) (*Handle, error) {
	h := &Handle{proc: *p, write: write}
	if err := h.open(); err != nil {
		return nil, err
	}
	logflags.ProcessLogger().Debugf("opened pid %d (write=%v)", p.Pid, write)
	return h, nil
}

// Handle is an open process. It is not safe for concurrent use.
type Handle struct {
	proc   Process
	write  bool
	base   uint64
	closed bool
	os     osHandle
}

// Pid returns the process id of the target.
func (h *Handle) Pid() int { return h.proc.Pid }

// Process returns the process the handle was opened on.
func (h *Handle) Process() Process { return h.proc }

func (h *Handle) check() error {
	if h.closed {
		return ErrClosed
	}
	if !h.alive() {
		return fmt.Errorf("%w: pid %d", ErrProcessGone, h.proc.Pid)
	}
	return nil
}

// ModuleBase returns the load address of the primary executable image.
// The value is resolved once and cached.
func (h *Handle) ModuleBase() (uint64, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	if h.base != 0 {
		return h.base, nil
	}
	base, err := h.moduleBase()
	if err != nil {
		return 0, err
	}
	logflags.ProcessLogger().Debugf("module base of pid %d is 0x%X", h.proc.Pid, base)
	h.base = base
	return base, nil
}

// ReadMemory reads len(buf) bytes at addr.
func (h *Handle) ReadMemory(buf []byte, addr uint64) (int, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := h.readMemory(buf, addr)
	if err == nil && n != len(buf) {
		err = ErrShortRead
	}
	return n, h.classify(err)
}

// WriteMemory writes data at addr.
func (h *Handle) WriteMemory(addr uint64, data []byte) (int, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	if !h.write {
		return 0, ErrReadOnly
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := h.writeMemory(addr, data)
	if err == nil && n != len(data) {
		err = ErrShortWrite
	}
	return n, h.classify(err)
}

// classify turns a failed transfer into ErrProcessGone when the target is
// no longer running.
func (h *Handle) classify(err error) error {
	if err != nil && !h.alive() {
		return fmt.Errorf("%w: pid %d", ErrProcessGone, h.proc.Pid)
	}
	return err
}

// Close releases the OS handle. Calling it more than once is harmless.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	logflags.ProcessLogger().Debugf("closing pid %d", h.proc.Pid)
	return h.close()
}

// matchName reports whether candidate, which may be a full Windows or Unix
// path, names the executable name.
func matchName(candidate, name string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	candidate, name = baseName(candidate), baseName(name)
	if strings.EqualFold(candidate, name) {
		return true
	}
	// allow "nr2003" to match "NR2003.exe" and the reverse
	trim := func(s string) string { return strings.TrimSuffix(strings.ToLower(s), ".exe") }
	return trim(candidate) == trim(name)
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `\/`); i >= 0 {
		return p[i+1:]
	}
	return p
}
