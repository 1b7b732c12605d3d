package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kingwinkie/nr2003-memory-tool/addrtable"
	"github.com/kingwinkie/nr2003-memory-tool/codec"
	"github.com/kingwinkie/nr2003-memory-tool/config"
	"github.com/kingwinkie/nr2003-memory-tool/logflags"
	"github.com/kingwinkie/nr2003-memory-tool/memio"
	"github.com/kingwinkie/nr2003-memory-tool/procmem"
	"github.com/kingwinkie/nr2003-memory-tool/session"
	"github.com/kingwinkie/nr2003-memory-tool/snapshot"
)

var (
	// configPath is the config file given with --config.
	configPath string
	// processName and catalogPath override the config file.
	processName string
	catalogPath string
	// baseline overrides capture-baseline when set.
	baseline bool

	logFlag   bool
	logOutput string
	logDest   string

	// typeName is the --type flag of set.
	typeName string
	// yes skips the write confirmation.
	yes bool

	conf *config.Config

	attach session.AttachFunc = session.Attach

	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
)

const longDesc = `nr2003mem reads and writes the tuning values of a running NR2003 process.

Addresses come from a CSV catalog (RVA, Type, Label, Module, Original and an
optional EXE_Value column). Values are read into one CSV snapshot per module
grouping; a snapshot edited in a spreadsheet can be written back with the
write command.`

// New returns the root command.
func New() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "nr2003mem",
		Short:         "Live memory reader and writer for NR2003.",
		Long:          longDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(logFlag, logOutput, logDest); err != nil {
				return err
			}
			c, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if processName != "" {
				c.Process = processName
			}
			if catalogPath != "" {
				c.Catalog = catalogPath
			}
			if cmd.Flags().Changed("baseline") {
				c.CaptureBaseline = baseline
			}
			conf = c
			return nil
		},
	}
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default is config.yml in the user config directory).")
	rootCommand.PersistentFlags().StringVarP(&processName, "process", "p", "", "Executable name of the game process.")
	rootCommand.PersistentFlags().StringVarP(&catalogPath, "catalog", "c", "", "Address catalog CSV.")
	rootCommand.PersistentFlags().BoolVar(&baseline, "baseline", false, "Read the whole catalog on attach and report it as EXE_Value.")
	rootCommand.PersistentFlags().BoolVarP(&logFlag, "log", "", false, "Enable diagnostic logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (catalog, process, memory, session, all).")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file.")

	readCommand := &cobra.Command{
		Use:   "read [module|all] [output-dir]",
		Short: "Read catalog values into CSV snapshots.",
		Long: `Reads every address of a module grouping, or of the whole catalog, and
writes one CSV snapshot per module into output-dir. The first values of each
module are printed. Addresses that cannot be read are marked #ERROR and do not
fail the command. A single argument that names no module is taken as the
output-dir for the whole catalog.`,
		Args: cobra.MaximumNArgs(2),
		RunE: readCmd,
	}
	rootCommand.AddCommand(readCommand)

	getCommand := &cobra.Command{
		Use:   "get <rva>",
		Short: "Read one catalog address.",
		Args:  cobra.ExactArgs(1),
		RunE:  getCmd,
	}
	rootCommand.AddCommand(getCommand)

	setCommand := &cobra.Command{
		Use:   "set <rva> <value>",
		Short: "Write one value.",
		Long: `Writes value at rva. The type comes from the catalog, or from --type.
Addresses missing from the catalog are written as Sing (float) unless --type
says otherwise.`,
		Args: cobra.ExactArgs(2),
		RunE: setCmd,
	}
	setCommand.Flags().StringVarP(&typeName, "type", "t", "", "Value type (Sing, Doub, Long, Short, Byte).")
	rootCommand.AddCommand(setCommand)

	writeCommand := &cobra.Command{
		Use:   "write <snapshot.csv>",
		Short: "Write the values of an edited snapshot.",
		Long: `Writes every row of an edited snapshot back to the process. The new value
is taken from the NewValue column when present, otherwise from CurrentValue.
Rows with an empty or #ERROR value are skipped. A malformed file is rejected
before anything is written.`,
		Args: cobra.ExactArgs(1),
		RunE: writeCmd,
	}
	writeCommand.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation.")
	rootCommand.AddCommand(writeCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "modules",
		Short: "List the module groupings of the catalog.",
		Args:  cobra.NoArgs,
		RunE:  modulesCmd,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Attach and start an interactive session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()
			return Interactive(s)
		},
	})

	return rootCommand
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func catalogFile() string {
	return config.ResolveCatalog(conf.Catalog, executableDir())
}

func openSession(write bool) (*session.Session, error) {
	s, err := session.Open(session.Options{
		Catalog:         catalogFile(),
		Process:         conf.Process,
		Write:           write,
		CaptureBaseline: conf.CaptureBaseline,
		Attach:          attach,
	})
	if err != nil {
		return nil, err
	}
	if logflags.Session() {
		logflags.SessionLogger().Debugf("session %s attached to %s at 0x%X", s.ID(), conf.Process, s.Base())
	}
	return s, nil
}

func readCmd(cmd *cobra.Command, args []string) error {
	module, outDir := "", conf.OutputDir
	if len(args) > 0 && !strings.EqualFold(args[0], "all") {
		module = args[0]
	}
	if len(args) > 1 {
		outDir = args[1]
	}

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()
	if len(args) == 1 && module != "" && matchModules(s.Table().Modules(), module) == nil {
		module, outDir = "", args[0]
	}
	return readModules(s, module, outDir, 5)
}

// readModules reads module ("" for all), writes one snapshot per module
// grouping into outDir and prints the first limit values of each.
func readModules(s *session.Session, module, outDir string, limit int) error {
	modules := s.Table().Modules()
	if module != "" {
		modules = matchModules(modules, module)
		if len(modules) == 0 {
			LogWarn("no addresses for module %q (known: %s)", module, strings.Join(s.Table().Modules(), ", "))
			return nil
		}
	}
	records, err := s.Read(module)
	if err != nil {
		return err
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
	}

	failed := 0
	for _, m := range modules {
		recs := moduleRecords(records, m)
		for _, r := range recs {
			if r.Err != nil {
				failed++
			}
		}
		printSummary(m, recs, limit)
		if outDir == "" {
			continue
		}
		path := filepath.Join(outDir, snapshot.FileName(m))
		if err := writeSnapshot(path, recs); err != nil {
			return err
		}
		Printf("saved %s\n", path)
	}
	Printf("%d addresses read, %d failed\n", len(records), failed)
	return nil
}

func matchModules(modules []string, name string) []string {
	for _, m := range modules {
		if strings.EqualFold(m, name) {
			return []string{m}
		}
	}
	return nil
}

func moduleRecords(records []snapshot.Record, module string) []snapshot.Record {
	var out []snapshot.Record
	for _, r := range records {
		if strings.EqualFold(r.Entry.Module, module) {
			out = append(out, r)
		}
	}
	return out
}

func writeSnapshot(path string, records []snapshot.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := snapshot.Write(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func getCmd(cmd *cobra.Command, args []string) error {
	rva, err := addrtable.ParseAddress(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.Get(rva)
	if err != nil {
		return err
	}
	printRecords(records)
	return nil
}

func parseTypeFlag(name string) (codec.Type, error) {
	if name == "" {
		return codec.Invalid, nil
	}
	return codec.ParseType(name)
}

func setCmd(cmd *cobra.Command, args []string) error {
	rva, err := addrtable.ParseAddress(args[0])
	if err != nil {
		return err
	}
	typ, err := parseTypeFlag(typeName)
	if err != nil {
		return err
	}
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.Set(rva, args[1], typ)
	if err != nil {
		return err
	}
	Printf("0x%08X (runtime 0x%08X) <- %s\n", res.RVA, res.Runtime, res.Value)
	return nil
}

func loadUpdates(path string) ([]memio.Update, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return snapshot.ReadUpdates(f)
}

// confirm asks before writing to the game. It only asks on an interactive
// terminal with confirm-writes enabled.
func confirm(label string) (bool, error) {
	if yes || !conf.ConfirmWrites || !stdinIsTerminal() {
		return true, nil
	}
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func writeCmd(cmd *cobra.Command, args []string) error {
	updates, err := loadUpdates(args[0])
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		Printf("nothing to write in %s\n", args[0])
		return nil
	}
	ok, err := confirm(fmt.Sprintf("Write %d values to %s", len(updates), conf.Process))
	if err != nil {
		return err
	}
	if !ok {
		Printf("aborted\n")
		return nil
	}

	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()
	return applyUpdates(s, updates)
}

func applyUpdates(s *session.Session, updates []memio.Update) error {
	results, err := s.Apply(updates)
	printWriteResults(results)
	if err == nil {
		return nil
	}
	if errors.Is(err, procmem.ErrProcessGone) {
		return err
	}
	return fmt.Errorf("%d of %d writes failed", countFailed(results), len(updates))
}

func countFailed(results []memio.WriteResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func modulesCmd(cmd *cobra.Command, args []string) error {
	t, err := addrtable.Load(catalogFile())
	if err != nil {
		return err
	}
	printModules(t)
	return nil
}
