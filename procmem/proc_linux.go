package procmem

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/kingwinkie/nr2003-memory-tool/logflags"
)

var dosMagic = []byte("MZ")

// procRoot is the procfs mount point.
var procRoot = "/proc"

type osHandle struct {
	mem *os.File
}

// mapping is one line of /proc/<pid>/maps.
type mapping struct {
	start  uint64
	end    uint64
	rwx    string
	offset uint64
	path   string
}

var mapsRegex = regexp.MustCompile(`^([0-9a-f]+)-([0-9a-f]+)\s+([rwxps-]+)\s+([0-9a-f]+)\s+([0-9a-f]+:[0-9a-f]+)\s+(\d+)(?:\s+(.*))?$`)

func procPath(pid int, name string) string {
	return filepath.Join(procRoot, strconv.Itoa(pid), name)
}

func findProcess(name string) (*Process, error) {
	dirs, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("cannot list processes: %w", err)
	}
	var pids []int
	for _, d := range dirs {
		pid, err := strconv.Atoi(d.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	for _, pid := range pids {
		path, ok := processMatches(pid, name)
		if !ok {
			continue
		}
		start, err := startTime(pid)
		if err != nil {
			// exited while scanning
			continue
		}
		return &Process{Pid: pid, Name: name, Path: path, startTime: start}, nil
	}
	return nil, fmt.Errorf("%w: no running process named %s", ErrProcessNotFound, name)
}

// processMatches checks comm, argv[0] and the exe link. Wine processes
// carry the Windows image name in comm and argv[0] while exe points at the
// loader.
func processMatches(pid int, name string) (string, bool) {
	cmdline, _ := os.ReadFile(procPath(pid, "cmdline"))
	argv0 := string(bytes.SplitN(cmdline, []byte{0}, 2)[0])
	if matchName(argv0, name) {
		return argv0, true
	}
	if comm, err := os.ReadFile(procPath(pid, "comm")); err == nil && matchName(string(comm), name) {
		return strings.TrimSpace(string(comm)), true
	}
	if exe, err := os.Readlink(procPath(pid, "exe")); err == nil && matchName(exe, name) {
		return exe, true
	}
	return "", false
}

// startTime returns field 22 of /proc/<pid>/stat, used to tell a live
// process from a later one that reused its pid.
func startTime(pid int) (uint64, error) {
	data, err := os.ReadFile(procPath(pid, "stat"))
	if err != nil {
		return 0, err
	}
	// comm may contain spaces and parentheses; fields resume after the last ')'
	i := bytes.LastIndexByte(data, ')')
	if i < 0 {
		return 0, errors.New("malformed stat")
	}
	fields := strings.Fields(string(data[i+1:]))
	if len(fields) < 20 {
		return 0, errors.New("malformed stat")
	}
	if fields[0] == "Z" || fields[0] == "X" {
		return 0, errors.New("process is a zombie")
	}
	return strconv.ParseUint(fields[19], 10, 64)
}

func (h *Handle) alive() bool {
	if h.proc.Pid <= 0 {
		return false
	}
	st, err := startTime(h.proc.Pid)
	return err == nil && st == h.proc.startTime
}

func (h *Handle) open() error {
	flag := os.O_RDONLY
	if h.write {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(procPath(h.proc.Pid, "mem"), flag, 0)
	if err != nil {
		return &AccessError{Pid: h.proc.Pid, Err: formatErrno(err)}
	}
	h.os.mem = f
	if !h.alive() {
		f.Close()
		return &AccessError{Pid: h.proc.Pid, Err: ErrProcessGone}
	}
	return nil
}

func (h *Handle) close() error {
	if h.os.mem == nil {
		return nil
	}
	return h.os.mem.Close()
}

func (h *Handle) readMemory(buf []byte, addr uint64) (int, error) {
	n, err := unix.Pread(int(h.os.mem.Fd()), buf, int64(addr))
	if err != nil {
		return 0, fmt.Errorf("read 0x%X: %w", addr, formatErrno(err))
	}
	return n, nil
}

func (h *Handle) writeMemory(addr uint64, data []byte) (int, error) {
	n, err := unix.Pwrite(int(h.os.mem.Fd()), data, int64(addr))
	if err != nil {
		return 0, fmt.Errorf("write 0x%X: %w", addr, formatErrno(err))
	}
	return n, nil
}

// moduleBase returns the lowest mapping backed by the executable image.
func (h *Handle) moduleBase() (uint64, error) {
	maps, err := loadMaps(h.proc.Pid)
	if err != nil {
		return 0, err
	}
	var base uint64
	found := false
	for _, m := range maps {
		if !matchName(m.path, h.proc.Name) {
			continue
		}
		if !found || m.start < base {
			base, found = m.start, true
		}
	}
	if found {
		return base, nil
	}
	if base, ok := h.anonymousImage(maps); ok {
		logflags.ProcessLogger().Debugf("no file mapping of %s in pid %d, using MZ header at 0x%X", h.proc.Name, h.proc.Pid, base)
		return base, nil
	}
	return 0, fmt.Errorf("%w: no mapping of %s in pid %d", ErrBaseNotFound, h.proc.Name, h.proc.Pid)
}

// anonymousImage finds the lowest readable anonymous mapping that starts
// with a DOS header. Wine copies images whose sections are not page
// aligned into such mappings.
func (h *Handle) anonymousImage(maps []mapping) (uint64, bool) {
	var base uint64
	found := false
	magic := make([]byte, len(dosMagic))
	for _, m := range maps {
		if m.path != "" || !strings.HasPrefix(m.rwx, "r") {
			continue
		}
		if found && m.start >= base {
			continue
		}
		n, err := h.readMemory(magic, m.start)
		if err != nil || n != len(magic) || !bytes.Equal(magic, dosMagic) {
			continue
		}
		base, found = m.start, true
	}
	return base, found
}

func loadMaps(pid int) ([]mapping, error) {
	file, err := os.Open(procPath(pid, "maps"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var maps []mapping
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		match := mapsRegex.FindStringSubmatch(scanner.Text())
		if len(match) < 7 {
			continue
		}
		startAddr, _ := strconv.ParseUint(match[1], 16, 64)
		endAddr, _ := strconv.ParseUint(match[2], 16, 64)
		offset, _ := strconv.ParseUint(match[4], 16, 64)
		pathname := ""
		if len(match) > 7 && match[7] != "" {
			pathname = strings.TrimSpace(match[7])
		}
		maps = append(maps, mapping{
			start:  startAddr,
			end:    endAddr,
			rwx:    match[3],
			offset: offset,
			path:   pathname,
		})
	}
	return maps, scanner.Err()
}

func formatErrno(err error) error {
	switch {
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("process does not exist or exited: %w", err)
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("permission denied (check ptrace_scope or run as the same user): %w", err)
	case errors.Is(err, unix.EIO), errors.Is(err, unix.EFAULT):
		return fmt.Errorf("address not mapped: %w", err)
	}
	return err
}
