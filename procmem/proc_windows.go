package procmem

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// exit code reported by GetExitCodeProcess while a process runs
const stillActive = 259

type osHandle struct {
	process windows.Handle
}

func findProcess(name string) (*Process, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot list processes: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return nil, fmt.Errorf("cannot list processes: %w", err)
	}
	for {
		exe := windows.UTF16ToString(entry.ExeFile[:])
		if matchName(exe, name) {
			return &Process{Pid: int(entry.ProcessID), Name: exe, Path: exe}, nil
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: no running process named %s", ErrProcessNotFound, name)
}

func (h *Handle) open() error {
	access := uint32(windows.PROCESS_VM_READ | windows.PROCESS_QUERY_LIMITED_INFORMATION)
	if h.write {
		access |= windows.PROCESS_VM_WRITE | windows.PROCESS_VM_OPERATION
	}
	ph, err := windows.OpenProcess(access, false, uint32(h.proc.Pid))
	if err != nil {
		return &AccessError{Pid: h.proc.Pid, Err: err}
	}
	h.os.process = ph
	if !h.alive() {
		windows.CloseHandle(ph)
		return &AccessError{Pid: h.proc.Pid, Err: ErrProcessGone}
	}
	return nil
}

func (h *Handle) alive() bool {
	if h.os.process == 0 {
		return false
	}
	var code uint32
	if err := windows.GetExitCodeProcess(h.os.process, &code); err != nil {
		return false
	}
	return code == stillActive
}

func (h *Handle) close() error {
	if h.os.process == 0 {
		return nil
	}
	return windows.CloseHandle(h.os.process)
}

func (h *Handle) readMemory(buf []byte, addr uint64) (int, error) {
	var count uintptr
	err := windows.ReadProcessMemory(h.os.process, uintptr(addr), &buf[0], uintptr(len(buf)), &count)
	if err != nil {
		return int(count), fmt.Errorf("read 0x%X: %w", addr, err)
	}
	return int(count), nil
}

func (h *Handle) writeMemory(addr uint64, data []byte) (int, error) {
	var count uintptr
	err := windows.WriteProcessMemory(h.os.process, uintptr(addr), &data[0], uintptr(len(data)), &count)
	if err != nil {
		return int(count), fmt.Errorf("write 0x%X: %w", addr, err)
	}
	return int(count), nil
}

// moduleBase returns the base of the first module in a toolhelp module
// snapshot, which is always the process image.
func (h *Handle) moduleBase() (uint64, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(h.proc.Pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return 0, &AccessError{Pid: h.proc.Pid, Err: err}
		}
		return 0, fmt.Errorf("%w: %v", ErrBaseNotFound, err)
	}
	defer windows.CloseHandle(snapshot)

	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))
	if err := windows.Module32First(snapshot, &me); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBaseNotFound, err)
	}
	return uint64(me.ModBaseAddr), nil
}
