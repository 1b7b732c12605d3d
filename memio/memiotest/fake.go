// Package memiotest provides an in-memory process for tests.
package memiotest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/kingwinkie/nr2003-memory-tool/procmem"
)

var ErrUnmapped = errors.New("address not mapped")

// Write records one WriteMemory call.
type Write struct {
	Addr uint64
	Data []byte
}

type region struct {
	start uint64
	data  []byte
}

// Memory is a fake process address space made of mapped regions.
type Memory struct {
	Base   uint64
	Writes []Write
	// Gone makes every call fail with procmem.ErrProcessGone.
	Gone   bool
	Closed bool

	regions []*region
}

// New returns a fake with the given module base and no mapped memory.
func New(base uint64) *Memory {
	return &Memory{Base: base}
}

// Map adds a zeroed region of size bytes at addr.
func (m *Memory) Map(addr uint64, size int) *Memory {
	m.regions = append(m.regions, &region{start: addr, data: make([]byte, size)})
	return m
}

func (m *Memory) find(addr uint64, n int) ([]byte, error) {
	for _, r := range m.regions {
		if addr >= r.start && addr+uint64(n) <= r.start+uint64(len(r.data)) {
			off := addr - r.start
			return r.data[off : off+uint64(n)], nil
		}
	}
	return nil, fmt.Errorf("0x%X: %w", addr, ErrUnmapped)
}

// Poke stores data without recording a write.
func (m *Memory) Poke(addr uint64, data []byte) {
	b, err := m.find(addr, len(data))
	if err != nil {
		panic(err)
	}
	copy(b, data)
}

// PokeFloat32 stores a little-endian float32.
func (m *Memory) PokeFloat32(addr uint64, f float32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
	m.Poke(addr, b)
}

// PokeInt32 stores a little-endian int32.
func (m *Memory) PokeInt32(addr uint64, i int32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(i))
	m.Poke(addr, b)
}

// Peek returns a copy of n bytes at addr.
func (m *Memory) Peek(addr uint64, n int) []byte {
	b, err := m.find(addr, n)
	if err != nil {
		panic(err)
	}
	return append([]byte(nil), b...)
}

func (m *Memory) ModuleBase() (uint64, error) {
	if m.Gone {
		return 0, procmem.ErrProcessGone
	}
	return m.Base, nil
}

func (m *Memory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if m.Gone {
		return 0, procmem.ErrProcessGone
	}
	b, err := m.find(addr, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, b), nil
}

func (m *Memory) WriteMemory(addr uint64, data []byte) (int, error) {
	if m.Gone {
		return 0, procmem.ErrProcessGone
	}
	b, err := m.find(addr, len(data))
	if err != nil {
		return 0, err
	}
	m.Writes = append(m.Writes, Write{Addr: addr, Data: append([]byte(nil), data...)})
	return copy(b, data), nil
}

func (m *Memory) Close() error {
	m.Closed = true
	return nil
}
