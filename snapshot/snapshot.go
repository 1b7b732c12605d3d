// Package snapshot renders read results as editable tables and parses
// edited tables back into write requests.
package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kingwinkie/nr2003-memory-tool/addrtable"
	"github.com/kingwinkie/nr2003-memory-tool/codec"
	"github.com/kingwinkie/nr2003-memory-tool/memio"
)

// Column names, in output order.
const (
	ColRVA      = "RVA"
	ColRuntime  = "Runtime"
	ColType     = "Type"
	ColLabel    = "Label"
	ColOriginal = "Original"
	ColExeValue = "EXE_Value"
	ColCurrent  = "CurrentValue"
	// ColNewValue is the legacy name of the new value column.
	ColNewValue = "NewValue"
)

// Header is the first row of every rendered snapshot.
var Header = []string{ColRVA, ColRuntime, ColType, ColLabel, ColOriginal, ColExeValue, ColCurrent}

// ErrorMarker starts the CurrentValue cell of entries that could not be read.
const ErrorMarker = "#ERROR"

// Record is one entry of a snapshot.
type Record struct {
	Entry   addrtable.Entry
	Runtime uint64
	Value   codec.Value
	// AsLoaded is the value observed when the table was first loaded this
	// session, or empty.
	AsLoaded string
	Err      error
}

// FromResults converts batch read results into records. asLoaded may be nil.
func FromResults(results []memio.ReadResult, asLoaded func(addrtable.Entry) string) []Record {
	out := make([]Record, 0, len(results))
	for _, r := range results {
		rec := Record{Entry: r.Entry, Runtime: r.Runtime, Value: r.Value, Err: r.Err}
		if asLoaded != nil {
			rec.AsLoaded = asLoaded(r.Entry)
		}
		out = append(out, rec)
	}
	return out
}

// FormatAddress is the canonical fixed width hex form of an address.
func FormatAddress(a uint64) string {
	return fmt.Sprintf("0x%08X", a)
}

// Current is the CurrentValue cell for r.
func (r Record) Current() string {
	if r.Err != nil {
		return ErrorMarker + ": " + r.Err.Error()
	}
	return r.Value.String()
}

// Render produces the header row followed by one row per record.
func Render(records []Record) [][]string {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, append([]string(nil), Header...))
	for _, r := range records {
		rows = append(rows, []string{
			FormatAddress(r.Entry.RVA),
			FormatAddress(r.Runtime),
			r.Entry.Type.String(),
			r.Entry.Label,
			r.Entry.Reference,
			r.AsLoaded,
			r.Current(),
		})
	}
	return rows
}

// FormatError reports an edited snapshot that cannot be applied.
type FormatError struct {
	Line int
	Err  error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("snapshot line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("snapshot: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ParseUpdates reads a header row and data rows into updates. The new
// value comes from a non-blank NewValue cell, otherwise from CurrentValue.
// Rows with a blank value or an error marker are skipped. Any malformed
// row fails the whole parse.
func ParseUpdates(rows [][]string) ([]memio.Update, error) {
	if len(rows) == 0 {
		return nil, &FormatError{Err: errors.New("empty snapshot")}
	}
	cols := make(map[string]int)
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	rvaCol, ok := cols[strings.ToLower(ColRVA)]
	if !ok {
		return nil, &FormatError{Line: 1, Err: fmt.Errorf("missing %s column", ColRVA)}
	}
	valueCols := make([]int, 0, 2)
	for _, name := range []string{ColNewValue, ColCurrent} {
		if i, ok := cols[strings.ToLower(name)]; ok {
			valueCols = append(valueCols, i)
		}
	}
	if len(valueCols) == 0 {
		return nil, &FormatError{Line: 1, Err: fmt.Errorf("missing %s (or %s) column", ColCurrent, ColNewValue)}
	}

	var updates []memio.Update
	for n, row := range rows[1:] {
		line := n + 2
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if rvaCol >= len(row) {
			return nil, &FormatError{Line: line, Err: fmt.Errorf("missing %s value", ColRVA)}
		}
		rva, err := addrtable.ParseAddress(row[rvaCol])
		if err != nil {
			return nil, &FormatError{Line: line, Err: err}
		}
		value, found := "", false
		for _, i := range valueCols {
			if i >= len(row) {
				continue
			}
			found = true
			if value = strings.TrimSpace(row[i]); value != "" {
				break
			}
		}
		if !found {
			return nil, &FormatError{Line: line, Err: fmt.Errorf("missing %s value", ColCurrent)}
		}
		if value == "" || strings.HasPrefix(value, ErrorMarker) {
			continue
		}
		updates = append(updates, memio.Update{RVA: rva, Value: value})
	}
	return updates, nil
}

// Write renders records as CSV.
func Write(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Render(records)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadUpdates parses a CSV snapshot.
func ReadUpdates(r io.Reader) ([]memio.Update, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &FormatError{Line: perr.Line, Err: perr.Err}
		}
		return nil, &FormatError{Err: err}
	}
	return ParseUpdates(rows)
}

// FileName is the snapshot file name for a module grouping.
func FileName(module string) string {
	name := strings.ToLower(strings.TrimSpace(module))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "unknown"
	}
	return name + ".csv"
}
