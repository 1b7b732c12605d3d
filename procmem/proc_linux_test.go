package procmem

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc builds a procfs-like tree under a temporary directory.
type fakeProc struct {
	t    *testing.T
	root string
}

func newFakeProc(t *testing.T) *fakeProc {
	t.Helper()
	root := t.TempDir()
	old := procRoot
	procRoot = root
	t.Cleanup(func() { procRoot = old })
	return &fakeProc{t: t, root: root}
}

func (f *fakeProc) write(pid int, name, content string) {
	f.t.Helper()
	dir := filepath.Join(f.root, strconv.Itoa(pid))
	require.NoError(f.t, os.MkdirAll(dir, 0o755))
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func (f *fakeProc) stat(pid int, comm string, start uint64) {
	fillers := strings.Repeat("0 ", 18)
	f.write(pid, "stat", fmt.Sprintf("%d (%s) S %s%d 0 0\n", pid, comm, fillers, start))
}

func (f *fakeProc) addProcess(pid int, comm, argv0 string, start uint64) {
	f.write(pid, "comm", comm+"\n")
	f.write(pid, "cmdline", argv0+"\x00-windowed\x00")
	f.stat(pid, comm, start)
	f.write(pid, "mem", "")
}

const wineMaps = `00010000-00110000 rw-p 00000000 00:00 0
00400000-00401000 r--p 00000000 08:01 1311 /home/u/.wine/drive_c/Papyrus/NR2003/NR2003.exe
00401000-006f0000 r-xp 00001000 08:01 1311 /home/u/.wine/drive_c/Papyrus/NR2003/NR2003.exe
006f0000-00800000 rw-p 002f0000 08:01 1311 /home/u/.wine/drive_c/Papyrus/NR2003/NR2003.exe
7bc00000-7bc10000 r-xp 00000000 08:01 2222 /usr/lib/wine/ntdll.so
`

func TestFindLinux(t *testing.T) {
	f := newFakeProc(t)
	f.addProcess(100, "bash", "/bin/bash", 10)
	f.addProcess(200, "NR2003.exe", `C:\Papyrus\NR2003\NR2003.exe`, 20)
	f.addProcess(300, "wineserver", "/usr/bin/wineserver", 30)

	p, err := Find("nr2003.exe")
	require.NoError(t, err)
	assert.Equal(t, 200, p.Pid)
	assert.Equal(t, `C:\Papyrus\NR2003\NR2003.exe`, p.Path)
	assert.Equal(t, uint64(20), p.startTime)

	_, err = Find("gpl.exe")
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestStartTimeCommWithSpaces(t *testing.T) {
	f := newFakeProc(t)
	f.stat(42, "weird ) name", 777)
	st, err := startTime(42)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), st)
}

func openFake(t *testing.T, write bool) (*fakeProc, *Handle) {
	f := newFakeProc(t)
	f.addProcess(200, "NR2003.exe", `C:\Papyrus\NR2003\NR2003.exe`, 20)
	f.write(200, "maps", wineMaps)

	p, err := Find("NR2003.exe")
	require.NoError(t, err)
	h, err := p.Open(write)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return f, h
}

func TestModuleBaseFromMaps(t *testing.T) {
	_, h := openFake(t, false)
	base, err := h.ModuleBase()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x400000), base)
}

func TestModuleBaseMissing(t *testing.T) {
	f, h := openFake(t, false)
	f.write(200, "maps", "7bc00000-7bc10000 r-xp 00000000 08:01 2222 /usr/lib/wine/ntdll.so\n")
	_, err := h.ModuleBase()
	assert.ErrorIs(t, err, ErrBaseNotFound)
}

const anonymousMaps = `00010000-00110000 rw-p 00000000 00:00 0
00200000-00201000 ---p 00000000 00:00 0
00400000-00401000 r--p 00000000 00:00 0
00401000-006f0000 r-xp 00000000 00:00 0
00900000-00901000 r--p 00000000 00:00 0
7bc00000-7bc10000 r-xp 00000000 08:01 2222 /usr/lib/wine/ntdll.so
`

func TestModuleBaseAnonymousImage(t *testing.T) {
	f, h := openFake(t, false)
	f.write(200, "maps", anonymousMaps)

	mem, err := os.OpenFile(filepath.Join(f.root, "200", "mem"), os.O_WRONLY, 0)
	require.NoError(t, err)
	for _, addr := range []int64{0x200000, 0x400000, 0x900000} {
		_, err = mem.WriteAt([]byte("MZ\x90\x00"), addr)
		require.NoError(t, err)
	}
	require.NoError(t, mem.Close())

	base, err := h.ModuleBase()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x400000), base)
}

func TestModuleBaseAnonymousWithoutHeader(t *testing.T) {
	f, h := openFake(t, false)
	f.write(200, "maps", anonymousMaps)
	_, err := h.ModuleBase()
	assert.ErrorIs(t, err, ErrBaseNotFound)
}

func TestReadWriteMemory(t *testing.T) {
	_, h := openFake(t, true)

	const addr = 0x6FE5D8
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, math.Float32bits(2600.5))
	n, err := h.WriteMemory(addr, data)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 4)
	n, err = h.ReadMemory(buf, addr)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, data, buf)

	// past the end of the backing file
	_, err = h.ReadMemory(buf, addr+0x1000)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReadOnlyHandle(t *testing.T) {
	_, h := openFake(t, false)
	_, err := h.WriteMemory(0x10, []byte{1})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestProcessGone(t *testing.T) {
	f, h := openFake(t, false)

	// pid reused by a newer process
	f.stat(200, "NR2003.exe", 21)
	_, err := h.ModuleBase()
	assert.ErrorIs(t, err, ErrProcessGone)
	_, err = h.ReadMemory(make([]byte, 4), 0x10)
	assert.ErrorIs(t, err, ErrProcessGone)

	require.NoError(t, os.Remove(filepath.Join(f.root, "200", "stat")))
	_, err = h.ReadMemory(make([]byte, 4), 0x10)
	assert.ErrorIs(t, err, ErrProcessGone)
}

func TestCloseIsIdempotent(t *testing.T) {
	_, h := openFake(t, false)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err := h.ReadMemory(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenDenied(t *testing.T) {
	f := newFakeProc(t)
	f.addProcess(200, "NR2003.exe", "NR2003.exe", 20)
	require.NoError(t, os.Remove(filepath.Join(f.root, "200", "mem")))

	p, err := Find("NR2003.exe")
	require.NoError(t, err)
	_, err = p.Open(false)
	var aerr *AccessError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 200, aerr.Pid)
}
