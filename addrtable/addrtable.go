// Package addrtable loads the catalog of known relative addresses.
package addrtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kingwinkie/nr2003-memory-tool/codec"
	"github.com/kingwinkie/nr2003-memory-tool/logflags"
)

// Catalog column names.
const (
	ColRVA      = "RVA"
	ColType     = "Type"
	ColLabel    = "Label"
	ColModule   = "Module"
	ColOriginal = "Original"
	ColExeValue = "EXE_Value"
)

var requiredColumns = []string{ColRVA, ColType, ColLabel, ColModule, ColOriginal}

// Entry is one catalog row.
type Entry struct {
	// Index is the position of the row in the catalog.
	Index  int
	RVA    uint64
	Type   codec.Type
	Label  string
	Module string
	// Reference is the baseline recorded when the catalog was written.
	Reference string
	// ExeValue is the optional value read from the executable image on disk.
	ExeValue string
}

// Table is the immutable, ordered set of catalog entries.
type Table struct {
	source  string
	entries []Entry
	byRVA   map[uint64][]int
	modules []string
}

// LoadError reports a catalog that could not be loaded.
type LoadError struct {
	Source string
	Line   int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("catalog %s line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("catalog %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads the catalog at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads a catalog from r. source names it in errors.
func Parse(r io.Reader, source string) (*Table, error) {
	log := logflags.CatalogLogger().WithField("source", source)

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty catalog")
		}
		return nil, &LoadError{Source: source, Line: 1, Err: err}
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, &LoadError{Source: source, Line: 1, Err: err}
	}
	exeCol, hasExe := cols[strings.ToLower(ColExeValue)]

	t := &Table{source: source, byRVA: make(map[uint64][]int)}
	seen := make(map[string]bool)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &LoadError{Source: source, Err: err}
		}
		line, _ := cr.FieldPos(0)
		get := func(name string) (string, error) {
			i := cols[strings.ToLower(name)]
			if i >= len(rec) {
				return "", fmt.Errorf("missing column %s", name)
			}
			return strings.TrimSpace(rec[i]), nil
		}

		e := Entry{Index: len(t.entries)}
		var fields [5]string
		for i, name := range requiredColumns {
			if fields[i], err = get(name); err != nil {
				return nil, &LoadError{Source: source, Line: line, Err: err}
			}
		}
		if e.RVA, err = ParseAddress(fields[0]); err != nil {
			return nil, &LoadError{Source: source, Line: line, Err: err}
		}
		if e.Type, err = codec.ParseType(fields[1]); err != nil {
			return nil, &LoadError{Source: source, Line: line, Err: err}
		}
		e.Label, e.Module, e.Reference = fields[2], fields[3], fields[4]
		if hasExe && exeCol < len(rec) {
			e.ExeValue = strings.TrimSpace(rec[exeCol])
		}

		if _, ok := t.byRVA[e.RVA]; ok {
			log.Debugf("duplicate RVA 0x%X at line %d (%s)", e.RVA, line, e.Module)
		}
		t.byRVA[e.RVA] = append(t.byRVA[e.RVA], e.Index)
		if key := strings.ToLower(e.Module); !seen[key] {
			seen[key] = true
			t.modules = append(t.modules, e.Module)
		}
		t.entries = append(t.entries, e)
	}

	log.Debugf("loaded %d addresses in %d modules", len(t.entries), len(t.modules))
	return t, nil
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// ParseAddress parses hexadecimal text with or without a 0x prefix.
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if h == "" {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return v, nil
}

// Source is the path or name the table was loaded from.
func (t *Table) Source() string { return t.source }

func (t *Table) Len() int { return len(t.entries) }

// Entries returns all entries in catalog order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Filter returns the entries of one module grouping in catalog order.
// Module names compare case-insensitively. An unknown module yields an
// empty slice.
func (t *Table) Filter(module string) []Entry {
	out := []Entry{}
	for _, e := range t.entries {
		if strings.EqualFold(e.Module, module) {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the first entry with the given RVA.
func (t *Table) Lookup(rva uint64) (Entry, bool) {
	idx, ok := t.byRVA[rva]
	if !ok {
		return Entry{}, false
	}
	return t.entries[idx[0]], true
}

// All returns every entry with the given RVA.
func (t *Table) All(rva uint64) []Entry {
	var out []Entry
	for _, i := range t.byRVA[rva] {
		out = append(out, t.entries[i])
	}
	return out
}

// Modules lists module groupings in the order they first appear.
func (t *Table) Modules() []string {
	return append([]string(nil), t.modules...)
}
