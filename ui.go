package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/kingwinkie/nr2003-memory-tool/config"
	"github.com/kingwinkie/nr2003-memory-tool/session"
)

func completer(s *session.Session) *readline.PrefixCompleter {
	var modules []readline.PrefixCompleterInterface
	modules = append(modules, readline.PcItem("all"))
	for _, m := range s.Table().Modules() {
		modules = append(modules, readline.PcItem(m))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("read", modules...),
		readline.PcItem("get"),
		readline.PcItem("set"),
		readline.PcItem("write"),
		readline.PcItem("dump"),
		readline.PcItem("modules"),
		readline.PcItem("base"),
		readline.PcItem("help"),
	)
}

// Interactive runs the shell until q, EOF, or the target exits.
func Interactive(s *session.Session) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            fmt.Sprintf("[%snr2003mem%s:%s0x%x%s]$ ", color(ColorBold), color(ColorReset), color(ColorCyan), s.Base(), color(ColorReset)),
		HistoryFile:       config.ExpandHome(conf.HistoryFile),
		AutoComplete:      completer(s),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		FuncFilterInputRune: func(r rune) (rune, bool) {
			switch r {
			case readline.CharCtrlZ:
				return r, false
			}
			return r, true
		},
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	sh := &shell{s: s}
	for {
		req, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		if req == "q" || req == "exit" || req == "quit" {
			return nil
		}

		if err := sh.cmdExec(req); err != nil {
			LogError("%v", err)
		}
		if s.State() == session.Done {
			return errors.New("target process is gone")
		}
	}
}
