package main

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kingwinkie/nr2003-memory-tool/addrtable"
	"github.com/kingwinkie/nr2003-memory-tool/session"
)

// shell is an interactive session on one process handle.
type shell struct {
	s *session.Session
}

type cmdHandler struct {
	regex *regexp.Regexp
	fn    func(*shell, []string) error
	usage string
}

const numRe = `(0[xX][0-9a-fA-F]+|[0-9a-fA-F]+)`

var compiledCmds = []cmdHandler{
	{regexp.MustCompile(`^\s*(r|read)(?:\s+(\S+))?(?:\s+(\S+))?\s*$`), (*shell).cmdRead, "read [module|all] [output-dir]"},
	{regexp.MustCompile(`^\s*(g|get)\s+` + numRe + `\s*$`), (*shell).cmdGet, "get <rva>"},
	{regexp.MustCompile(`^\s*(s|set)\s+` + numRe + `\s+(\S+)(?:\s+(\w+))?\s*$`), (*shell).cmdSet, "set <rva> <value> [type]"},
	{regexp.MustCompile(`^\s*(w|write)\s+(.+?)\s*$`), (*shell).cmdWrite, "write <snapshot.csv>"},
	{regexp.MustCompile(`^\s*(db|dump|xxd)\s+` + numRe + `(?:\s+(0[xX][0-9a-fA-F]+|[1-9][0-9]*))?\s*$`), (*shell).cmdDump, "dump <rva> [n]"},
	{regexp.MustCompile(`^\s*(m|modules)\s*$`), (*shell).cmdModules, "modules"},
	{regexp.MustCompile(`^\s*(base|info)\s*$`), (*shell).cmdBase, "base"},
}

// help lists compiledCmds, so it is registered after initialization.
func init() {
	compiledCmds = append(compiledCmds, cmdHandler{regexp.MustCompile(`^\s*(h|help|\?)\s*$`), (*shell).cmdHelp, "help"})
}

var errUnknownCommand = errors.New("unknown command (try help)")

func (sh *shell) cmdExec(req string) error {
	for _, handler := range compiledCmds {
		if m := handler.regex.FindStringSubmatch(req); m != nil {
			return handler.fn(sh, m)
		}
	}
	return errUnknownCommand
}

func (sh *shell) cmdRead(args []string) error {
	module := args[2]
	if strings.EqualFold(module, "all") {
		module = ""
	}
	return readModules(sh.s, module, args[3], 0)
}

func (sh *shell) cmdGet(args []string) error {
	rva, err := addrtable.ParseAddress(args[2])
	if err != nil {
		return err
	}
	records, err := sh.s.Get(rva)
	if err != nil {
		return err
	}
	printRecords(records)
	return nil
}

func (sh *shell) cmdSet(args []string) error {
	rva, err := addrtable.ParseAddress(args[2])
	if err != nil {
		return err
	}
	typ, err := parseTypeFlag(args[4])
	if err != nil {
		return err
	}
	res, err := sh.s.Set(rva, args[3], typ)
	if err != nil {
		return err
	}
	Printf("0x%08X (runtime 0x%08X) <- %s\n", res.RVA, res.Runtime, res.Value)
	return nil
}

func (sh *shell) cmdWrite(args []string) error {
	updates, err := loadUpdates(args[2])
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		Printf("nothing to write in %s\n", args[2])
		return nil
	}
	ok, err := confirm(fmt.Sprintf("Write %d values", len(updates)))
	if err != nil || !ok {
		return err
	}
	return applyUpdates(sh.s, updates)
}

func (sh *shell) cmdDump(args []string) error {
	rva, err := addrtable.ParseAddress(args[2])
	if err != nil {
		return err
	}
	n := uint64(64)
	if args[3] != "" {
		n, err = strconv.ParseUint(args[3], 0, 16)
		if err != nil {
			return err
		}
	}
	runtime, data, err := sh.s.Bytes(rva, int(n))
	if err != nil {
		return err
	}
	hexDump(runtime, data)
	return nil
}

func (sh *shell) cmdModules(_ []string) error {
	printModules(sh.s.Table())
	return nil
}

func (sh *shell) cmdBase(_ []string) error {
	Printf("session %s, pid %d, module base 0x%08X, %d addresses\n", sh.s.ID(), sh.s.Pid(), sh.s.Base(), sh.s.Table().Len())
	return nil
}

func (sh *shell) cmdHelp(_ []string) error {
	for _, h := range compiledCmds {
		fmt.Fprintf(stdout, "  %s\n", h.usage)
	}
	fmt.Fprintln(stdout, "  q | exit")
	return nil
}
