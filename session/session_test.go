package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/kingwinkie/nr2003-memory-tool/addrtable"
	"github.com/kingwinkie/nr2003-memory-tool/codec"
	"github.com/kingwinkie/nr2003-memory-tool/memio"
	"github.com/kingwinkie/nr2003-memory-tool/memio/memiotest"
	"github.com/kingwinkie/nr2003-memory-tool/procmem"
	"github.com/kingwinkie/nr2003-memory-tool/snapshot"
)

const catalog = `RVA,Type,Label,Module,Original,EXE_Value
0x2EE5D9,Sing,Front spring rate,Chassis,2600.5,2500
0x7FFFF000,Sing,Unmapped,Chassis,0,0
0x2EE5E1,Sing,Track bar,Chassis,10,10
0x2EE5DD,Long,Gear count,Engine,5,5
`

func fixture(t *testing.T) (*memiotest.Memory, Options) {
	t.Helper()
	tab, err := addrtable.Parse(strings.NewReader(catalog), "test")
	require.NoError(t, err)

	m := memiotest.New(0x400000).Map(0x6EE000, 0x1000)
	m.PokeFloat32(0x6EE5D8, 2600.5)
	m.PokeInt32(0x6EE5DC, 5)
	m.PokeFloat32(0x6EE5E0, 10.25)

	opts := Options{
		Table:   tab,
		Process: "NR2003.exe",
		Write:   true,
		Attach: func(process string, write bool) (Target, error) {
			assert.Equal(t, "NR2003.exe", process)
			return m, nil
		},
	}
	return m, opts
}

func TestLifecycle(t *testing.T) {
	m, opts := fixture(t)
	s := New(opts)
	assert.Equal(t, Init, s.State())

	_, err := s.Read("")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.ResolveBase(), ErrNotReady)

	require.NoError(t, s.Attach())
	assert.Equal(t, Attached, s.State())
	assert.ErrorIs(t, s.Attach(), ErrNotReady)

	require.NoError(t, s.ResolveBase())
	assert.Equal(t, BaseResolved, s.State())
	assert.Equal(t, uint64(0x400000), s.Base())

	require.NoError(t, s.Close())
	assert.Equal(t, Done, s.State())
	assert.True(t, m.Closed)
	require.NoError(t, s.Close())

	_, err = s.Read("")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Set(0x2EE5D9, "1", codec.Invalid)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Apply(nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Attach(), ErrSessionClosed)
}

func TestReadAllAndFiltered(t *testing.T) {
	_, opts := fixture(t)
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	recs, err := s.Read("")
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.NoError(t, recs[0].Err)
	assert.Error(t, recs[1].Err)
	assert.NoError(t, recs[2].Err)
	assert.Equal(t, 2600.5, recs[0].Value.Float())
	// without a captured baseline the catalog's EXE_Value is reported
	assert.Equal(t, "2500", recs[0].AsLoaded)

	recs, err = s.Read("engine")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(5), recs[0].Value.Int())

	recs, err = s.Read("nonexistent")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCaptureBaseline(t *testing.T) {
	m, opts := fixture(t)
	opts.CaptureBaseline = true
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Set(0x2EE5D9, "3000", codec.Invalid)
	require.NoError(t, err)

	recs, err := s.Read("chassis")
	require.NoError(t, err)
	assert.Equal(t, "2600.5", recs[0].AsLoaded)
	assert.Equal(t, "3000", recs[0].Current())
	// unreadable during capture: fall back to the catalog
	assert.Equal(t, "0", recs[1].AsLoaded)
	assert.Len(t, m.Writes, 1)
}

func TestGet(t *testing.T) {
	_, opts := fixture(t)
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	recs, err := s.Get(0x2EE5E1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "10.25", recs[0].Current())

	_, err = s.Get(0x1234)
	assert.ErrorIs(t, err, memio.ErrUnknownAddress)
}

func TestBytes(t *testing.T) {
	m, opts := fixture(t)
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	rt, b, err := s.Bytes(0x2EE5D9, 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x6EE5D8), rt)
	assert.Equal(t, m.Peek(0x6EE5D8, 16), b)
}

func TestSet(t *testing.T) {
	m, opts := fixture(t)
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Set(0x2EE5D9, "3000.0", codec.Invalid)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x6EE5D8), res.Runtime)
	require.Len(t, m.Writes, 1)
	assert.Equal(t, uint64(0x6EE5D8), m.Writes[0].Addr)
	assert.Len(t, m.Writes[0].Data, 4)

	// table type is Long here
	_, err = s.Set(0x2EE5DD, "6.5", codec.Invalid)
	var cerr *codec.Error
	assert.ErrorAs(t, err, &cerr)

	// addresses outside the table default to a float
	_, err = s.Set(0x2EE5F1, "1.5", codec.Invalid)
	require.NoError(t, err)
	assert.Len(t, m.Writes[len(m.Writes)-1].Data, 4)

	_, err = s.Set(0x2EE5F1, "7", codec.Uint8)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, m.Writes[len(m.Writes)-1].Data)
}

func TestApply(t *testing.T) {
	_, opts := fixture(t)
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Apply([]memio.Update{
		{RVA: 0x2EE5D9, Value: "2700"},
		{RVA: 0x9999, Value: "1"},
		{RVA: 0x2EE5DD, Value: "x"},
	})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	require.Len(t, res, 3)
	assert.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, memio.ErrUnknownAddress)

	res, err = s.Apply([]memio.Update{{RVA: 0x2EE5E1, Value: "11"}})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestEditCycleThroughSnapshot(t *testing.T) {
	m, opts := fixture(t)
	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()

	before := m.Peek(0x6EE5D8, 12)
	recs, err := s.Read("")
	require.NoError(t, err)

	updates, err := snapshot.ParseUpdates(snapshot.Render(recs))
	require.NoError(t, err)
	assert.Len(t, updates, 3)
	_, err = s.Apply(updates)
	require.NoError(t, err)

	assert.Equal(t, before, m.Peek(0x6EE5D8, 12))
	again, err := s.Read("")
	require.NoError(t, err)
	assert.Equal(t, snapshot.Render(recs), snapshot.Render(again))
}

func TestProcessGoneClosesSession(t *testing.T) {
	m, opts := fixture(t)
	s, err := Open(opts)
	require.NoError(t, err)

	m.Gone = true
	_, err = s.Read("")
	assert.ErrorIs(t, err, procmem.ErrProcessGone)
	assert.Equal(t, Done, s.State())
	assert.True(t, m.Closed)

	_, err = s.Read("")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestOpenFailures(t *testing.T) {
	_, opts := fixture(t)

	notFound := opts
	notFound.Attach = func(string, bool) (Target, error) {
		return nil, procmem.ErrProcessNotFound
	}
	_, err := Open(notFound)
	assert.ErrorIs(t, err, procmem.ErrProcessNotFound)

	m := memiotest.New(0)
	m.Gone = true
	gone := opts
	gone.Attach = func(string, bool) (Target, error) { return m, nil }
	_, err = Open(gone)
	assert.ErrorIs(t, err, procmem.ErrProcessGone)
	assert.True(t, m.Closed)

	attached := false
	badCatalog := opts
	badCatalog.Table = nil
	badCatalog.Catalog = filepath.Join(t.TempDir(), "missing.csv")
	badCatalog.Attach = func(string, bool) (Target, error) {
		attached = true
		return nil, errors.New("unreachable")
	}
	_, err = Open(badCatalog)
	var lerr *addrtable.LoadError
	assert.ErrorAs(t, err, &lerr)
	assert.False(t, attached, "catalog errors must abort before touching the process")
}

func TestOpenLoadsCatalog(t *testing.T) {
	_, opts := fixture(t)
	path := filepath.Join(t.TempDir(), "addresses.csv")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))
	opts.Table = nil
	opts.Catalog = path

	s, err := Open(opts)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 4, s.Table().Len())
	assert.NotEmpty(t, s.ID())
}
