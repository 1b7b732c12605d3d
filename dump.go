package main

import (
	"fmt"

	"github.com/kingwinkie/nr2003-memory-tool/addrtable"
	"github.com/kingwinkie/nr2003-memory-tool/memio"
	"github.com/kingwinkie/nr2003-memory-tool/snapshot"
)

func printRecord(r snapshot.Record) {
	if r.Err != nil {
		fmt.Fprintf(stdout, "%s0x%08X%s %-5s %-32s %s%s%s\n", color(ColorCyan), r.Entry.RVA, color(ColorReset),
			r.Entry.Type, r.Entry.Label, color(ColorRed), r.Current(), color(ColorReset))
		return
	}
	fmt.Fprintf(stdout, "%s0x%08X%s %-5s %-32s %s%s%s\n", color(ColorCyan), r.Entry.RVA, color(ColorReset),
		r.Entry.Type, r.Entry.Label, color(ColorGreen), r.Current(), color(ColorReset))
}

func printRecords(records []snapshot.Record) {
	for _, r := range records {
		printRecord(r)
	}
}

// printSummary prints the first limit records of a module. limit <= 0
// prints all of them.
func printSummary(module string, records []snapshot.Record, limit int) {
	hLine(module)
	shown := records
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	printRecords(shown)
	if n := len(records) - len(shown); n > 0 {
		Printf("... %d more\n", n)
	}
}

func printWriteResults(results []memio.WriteResult) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stdout, "%s0x%08X%s %sfailed%s: %v\n", color(ColorCyan), r.RVA, color(ColorReset), color(ColorRed), color(ColorReset), r.Err)
			continue
		}
		fmt.Fprintf(stdout, "%s0x%08X%s <- %s%s%s\n", color(ColorCyan), r.RVA, color(ColorReset), color(ColorGreen), r.Value, color(ColorReset))
	}
}

func printModules(t *addrtable.Table) {
	for _, m := range t.Modules() {
		Printf("%-20s %d\n", m, len(t.Filter(m)))
	}
	Printf("%d addresses in %s\n", t.Len(), t.Source())
}

// hexDump prints data as rows of 16 bytes with an ASCII column.
func hexDump(runtime uint64, data []byte) {
	for i := 0; i < len(data); i += 16 {
		fmt.Fprintf(stdout, "%s%08x%s: ", color(ColorCyan), runtime+uint64(i), color(ColorReset))

		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				fmt.Fprintf(stdout, "%02x ", data[i+j])
			} else {
				fmt.Fprint(stdout, "   ")
			}
		}

		fmt.Fprint(stdout, " |")

		for j := 0; j < 16 && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b <= 126 {
				fmt.Fprintf(stdout, "%c", b)
			} else {
				fmt.Fprint(stdout, ".")
			}
		}

		fmt.Fprint(stdout, "|\n")
	}
}
