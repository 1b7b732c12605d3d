// Package memio resolves catalog entries to runtime addresses and performs
// typed reads and writes through an open process.
package memio

import (
	"errors"
	"fmt"

	"github.com/kingwinkie/nr2003-memory-tool/addrtable"
	"github.com/kingwinkie/nr2003-memory-tool/codec"
	"github.com/kingwinkie/nr2003-memory-tool/logflags"
	"github.com/kingwinkie/nr2003-memory-tool/procmem"
)

// Memory is the part of an open process the accessor needs.
// *procmem.Handle implements it.
type Memory interface {
	ReadMemory(buf []byte, addr uint64) (int, error)
	WriteMemory(addr uint64, data []byte) (int, error)
	ModuleBase() (uint64, error)
}

// Catalog RVAs are one greater than the in-process offset.
const rvaAdjust = 1

// RuntimeAddress converts a catalog RVA to an absolute address.
func RuntimeAddress(base, rva uint64) uint64 {
	return base + rva - rvaAdjust
}

// RelativeAddress is the inverse of RuntimeAddress.
func RelativeAddress(base, runtime uint64) uint64 {
	return runtime - base + rvaAdjust
}

var ErrUnknownAddress = errors.New("address not in catalog")

// ReadError reports a failed read of one entry.
type ReadError struct {
	RVA     uint64
	Runtime uint64
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read 0x%08X (runtime 0x%08X): %v", e.RVA, e.Runtime, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a failed write of one address.
type WriteError struct {
	RVA     uint64
	Runtime uint64
	Value   string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q to 0x%08X (runtime 0x%08X): %v", e.Value, e.RVA, e.Runtime, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Resolved is an entry read from live memory.
type Resolved struct {
	Entry   addrtable.Entry
	Runtime uint64
	Value   codec.Value
}

// ReadResult is one item of a batch read. Err is nil on success.
type ReadResult struct {
	Resolved
	Err error
}

// Update is a request to write the text value to an RVA.
type Update struct {
	RVA   uint64
	Value string
}

// WriteResult is one item of a batch write. Err is nil on success.
type WriteResult struct {
	RVA     uint64
	Runtime uint64
	Value   string
	Err     error
}

// ReadOne reads and decodes a single entry.
func ReadOne(mem Memory, e addrtable.Entry) (Resolved, error) {
	base, err := mem.ModuleBase()
	if err != nil {
		return Resolved{Entry: e}, err
	}
	r := Resolved{Entry: e, Runtime: RuntimeAddress(base, e.RVA)}

	buf := make([]byte, e.Type.Size())
	if _, err := mem.ReadMemory(buf, r.Runtime); err != nil {
		return r, &ReadError{RVA: e.RVA, Runtime: r.Runtime, Err: err}
	}
	v, err := codec.Decode(buf, e.Type)
	if err != nil {
		return r, err
	}
	r.Value = v
	if logflags.Memory() {
		logflags.MemoryLogger().Debugf("read 0x%08X @ 0x%08X %s = %s", e.RVA, r.Runtime, e.Type, v)
	}
	return r, nil
}

// ReadRaw reads n undecoded bytes at the RVA.
func ReadRaw(mem Memory, rva uint64, n int) (uint64, []byte, error) {
	base, err := mem.ModuleBase()
	if err != nil {
		return 0, nil, err
	}
	runtime := RuntimeAddress(base, rva)
	buf := make([]byte, n)
	if _, err := mem.ReadMemory(buf, runtime); err != nil {
		if errors.Is(err, procmem.ErrProcessGone) {
			return runtime, nil, err
		}
		return runtime, nil, &ReadError{RVA: rva, Runtime: runtime, Err: err}
	}
	return runtime, buf, nil
}

// ReadBatch reads entries in order. A failing entry is recorded in its
// result and the batch continues. If the process has gone away the batch
// stops and the error is returned along with the results so far.
func ReadBatch(mem Memory, entries []addrtable.Entry) ([]ReadResult, error) {
	out := make([]ReadResult, 0, len(entries))
	for _, e := range entries {
		r, err := ReadOne(mem, e)
		if errors.Is(err, procmem.ErrProcessGone) {
			return out, err
		}
		out = append(out, ReadResult{Resolved: r, Err: err})
	}
	return out, nil
}

// WriteOne encodes text as typ and writes it at the RVA.
func WriteOne(mem Memory, rva uint64, text string, typ codec.Type) (uint64, error) {
	base, err := mem.ModuleBase()
	if err != nil {
		return 0, err
	}
	runtime := RuntimeAddress(base, rva)
	data, err := codec.EncodeText(text, typ)
	if err != nil {
		return runtime, &WriteError{RVA: rva, Runtime: runtime, Value: text, Err: err}
	}

	var old []byte
	if logflags.Memory() {
		old = make([]byte, len(data))
		if _, err := mem.ReadMemory(old, runtime); err != nil {
			old = nil
		}
	}
	if _, err := mem.WriteMemory(runtime, data); err != nil {
		if errors.Is(err, procmem.ErrProcessGone) {
			return runtime, err
		}
		return runtime, &WriteError{RVA: rva, Runtime: runtime, Value: text, Err: err}
	}
	if logflags.Memory() {
		logflags.MemoryLogger().Debugf("wrote 0x%08X @ 0x%08X %s: % x -> % x", rva, runtime, typ, old, data)
	}
	return runtime, nil
}

// WriteBatch applies updates in order, taking each address's type from the
// table. Addresses missing from the table fail with ErrUnknownAddress.
func WriteBatch(mem Memory, updates []Update, table *addrtable.Table) ([]WriteResult, error) {
	out := make([]WriteResult, 0, len(updates))
	for _, u := range updates {
		res := WriteResult{RVA: u.RVA, Value: u.Value}
		e, ok := table.Lookup(u.RVA)
		if !ok {
			res.Err = &WriteError{RVA: u.RVA, Value: u.Value, Err: ErrUnknownAddress}
			out = append(out, res)
			continue
		}
		runtime, err := WriteOne(mem, u.RVA, u.Value, e.Type)
		if errors.Is(err, procmem.ErrProcessGone) {
			return out, err
		}
		res.Runtime, res.Err = runtime, err
		out = append(out, res)
	}
	return out, nil
}
