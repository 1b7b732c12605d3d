//go:build !linux && !windows

package procmem

type osHandle struct{}

func findProcess(name string) (*Process, error) {
	return nil, ErrUnsupported
}

func (h *Handle) open() error { return ErrUnsupported }
func (h *Handle) alive() bool { return false }
func (h *Handle) close() error { return nil }
func (h *Handle) readMemory(buf []byte, addr uint64) (int, error) { return 0, ErrUnsupported }
func (h *Handle) writeMemory(addr uint64, data []byte) (int, error) { return 0, ErrUnsupported }
func (h *Handle) moduleBase() (uint64, error) { return 0, ErrUnsupported }
