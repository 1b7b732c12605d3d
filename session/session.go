// Package session ties the address table, the process handle and the
// memory accessor together for one run.
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/kingwinkie/nr2003-memory-tool/addrtable"
	"github.com/kingwinkie/nr2003-memory-tool/codec"
	"github.com/kingwinkie/nr2003-memory-tool/logflags"
	"github.com/kingwinkie/nr2003-memory-tool/memio"
	"github.com/kingwinkie/nr2003-memory-tool/procmem"
	"github.com/kingwinkie/nr2003-memory-tool/snapshot"
)

// State is the lifecycle position of a Session. States only move forward.
type State int

const (
	Init State = iota
	Attached
	BaseResolved
	Done
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Attached:
		return "attached"
	case BaseResolved:
		return "base-resolved"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrNotReady      = errors.New("session is not ready")
)

// Target is an open process.
type Target interface {
	memio.Memory
	Close() error
}

// AttachFunc finds the named process and opens it.
type AttachFunc func(process string, write bool) (Target, error)

// Attach is the default AttachFunc, backed by procmem.
func Attach(process string, write bool) (Target, error) {
	p, err := procmem.Find(process)
	if err != nil {
		return nil, err
	}
	h, err := p.Open(write)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Options configures a Session.
type Options struct {
	// Catalog is the address catalog path, used when Table is nil.
	Catalog string
	Table   *addrtable.Table
	// Process is the executable name of the target.
	Process string
	// Write opens the process with write access.
	Write bool
	// CaptureBaseline reads the whole table once the base is resolved and
	// reports those values as EXE_Value.
	CaptureBaseline bool
	// Attach defaults to the package level Attach.
	Attach AttachFunc
}

// Session owns the process handle for one run. It is not safe for
// concurrent use.
type Session struct {
	id       uuid.UUID
	opts     Options
	state    State
	table    *addrtable.Table
	target   Target
	base     uint64
	baseline map[int]string
	log      *logrus.Entry
}

// New returns a session in the Init state.
func New(opts Options) *Session {
	if opts.Attach == nil {
		opts.Attach = Attach
	}
	id := uuid.New()
	return &Session{
		id:    id,
		opts:  opts,
		state: Init,
		table: opts.Table,
		log:   logflags.SessionLogger().WithField("session", id.String()[:8]),
	}
}

// Open loads the catalog, attaches to the process and resolves the module
// base. On failure nothing is left open.
func Open(opts Options) (*Session, error) {
	s := New(opts)
	if err := s.Attach(); err != nil {
		return nil, err
	}
	if err := s.ResolveBase(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string { return s.id.String() }

func (s *Session) State() State { return s.state }

// Table returns the loaded address table, or nil before Attach.
func (s *Session) Table() *addrtable.Table { return s.table }

// Base returns the cached module base.
func (s *Session) Base() uint64 { return s.base }

// Pid returns the target pid when the target is a procmem handle.
func (s *Session) Pid() int {
	if h, ok := s.target.(*procmem.Handle); ok {
		return h.Pid()
	}
	return 0
}

func (s *Session) transition(to State) {
	s.log.Debugf("%s -> %s", s.state, to)
	s.state = to
}

// Attach loads the catalog if needed and opens the target process.
func (s *Session) Attach() error {
	switch s.state {
	case Done:
		return ErrSessionClosed
	case Init:
	default:
		return fmt.Errorf("%w: already %s", ErrNotReady, s.state)
	}
	if s.table == nil {
		t, err := addrtable.Load(s.opts.Catalog)
		if err != nil {
			return err
		}
		s.table = t
		s.log.Debugf("catalog %s: %d addresses", t.Source(), t.Len())
	}
	target, err := s.opts.Attach(s.opts.Process, s.opts.Write)
	if err != nil {
		return err
	}
	s.target = target
	s.transition(Attached)
	return nil
}

// ResolveBase caches the module base of the target.
func (s *Session) ResolveBase() error {
	switch s.state {
	case Done:
		return ErrSessionClosed
	case Attached:
	default:
		return fmt.Errorf("%w: %s", ErrNotReady, s.state)
	}
	base, err := s.target.ModuleBase()
	if err != nil {
		return err
	}
	s.base = base
	s.transition(BaseResolved)
	s.log.Debugf("module base 0x%X", base)

	if s.opts.CaptureBaseline {
		s.baseline = make(map[int]string, s.table.Len())
		res, err := memio.ReadBatch(s.target, s.table.Entries())
		if err != nil {
			return s.fatal(err)
		}
		for _, r := range res {
			if r.Err == nil {
				s.baseline[r.Entry.Index] = r.Value.String()
			}
		}
		s.log.Debugf("captured %d baseline values", len(s.baseline))
	}
	return nil
}

func (s *Session) ready() error {
	switch s.state {
	case BaseResolved:
		return nil
	case Done:
		return ErrSessionClosed
	}
	return fmt.Errorf("%w: %s", ErrNotReady, s.state)
}

// fatal closes the session when the target has gone away.
func (s *Session) fatal(err error) error {
	if errors.Is(err, procmem.ErrProcessGone) {
		s.log.WithError(err).Warn("target process gone, closing session")
		s.Close()
	}
	return err
}

func (s *Session) asLoaded(e addrtable.Entry) string {
	if v, ok := s.baseline[e.Index]; ok {
		return v
	}
	return e.ExeValue
}

func (s *Session) read(entries []addrtable.Entry) ([]snapshot.Record, error) {
	res, err := memio.ReadBatch(s.target, entries)
	if err != nil {
		return snapshot.FromResults(res, s.asLoaded), s.fatal(err)
	}
	failed := 0
	for _, r := range res {
		if r.Err != nil {
			failed++
			s.log.WithError(r.Err).Debugf("read 0x%08X failed", r.Entry.RVA)
		}
	}
	s.log.Debugf("read %d addresses, %d failed", len(res), failed)
	return snapshot.FromResults(res, s.asLoaded), nil
}

// Read reads every entry of a module grouping, or the whole table when
// module is empty. Per entry failures are reported in the records.
func (s *Session) Read(module string) ([]snapshot.Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries := s.table.Entries()
	if module != "" {
		entries = s.table.Filter(module)
	}
	return s.read(entries)
}

// Get reads every catalog entry at rva.
func (s *Session) Get(rva uint64) ([]snapshot.Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries := s.table.All(rva)
	if len(entries) == 0 {
		return nil, fmt.Errorf("0x%08X: %w", rva, memio.ErrUnknownAddress)
	}
	return s.read(entries)
}

// Bytes reads n raw bytes at rva.
func (s *Session) Bytes(rva uint64, n int) (uint64, []byte, error) {
	if err := s.ready(); err != nil {
		return 0, nil, err
	}
	runtime, b, err := memio.ReadRaw(s.target, rva, n)
	if err != nil {
		return runtime, nil, s.fatal(err)
	}
	return runtime, b, nil
}

// Set writes one value. typ overrides the catalog type; with codec.Invalid
// the catalog type is used, or Float32 for addresses not in the catalog.
func (s *Session) Set(rva uint64, text string, typ codec.Type) (memio.WriteResult, error) {
	res := memio.WriteResult{RVA: rva, Value: text}
	if err := s.ready(); err != nil {
		return res, err
	}
	if typ == codec.Invalid {
		typ = codec.Float32
		if e, ok := s.table.Lookup(rva); ok {
			typ = e.Type
		}
	}
	runtime, err := memio.WriteOne(s.target, rva, text, typ)
	res.Runtime, res.Err = runtime, err
	if err != nil {
		return res, s.fatal(err)
	}
	s.log.Debugf("set 0x%08X = %s (%s)", rva, text, typ)
	return res, nil
}

// Apply writes a batch of updates. Every update is attempted; the returned
// error combines the failures.
func (s *Session) Apply(updates []memio.Update) ([]memio.WriteResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	res, err := memio.WriteBatch(s.target, updates, s.table)
	if err != nil {
		return res, s.fatal(err)
	}
	var errs error
	for _, r := range res {
		errs = multierr.Append(errs, r.Err)
	}
	s.log.Debugf("applied %d updates, %d failed", len(res), len(multierr.Errors(errs)))
	return res, errs
}

// Close releases the process handle. Further operations fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	if s.state == Done {
		return nil
	}
	var err error
	if s.target != nil {
		err = s.target.Close()
	}
	s.transition(Done)
	return err
}
