package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"golang.org/x/term"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

var (
	stdout io.Writer = colorable.NewColorableStdout()
	stderr io.Writer = colorable.NewColorableStderr()

	// useColor is off when stdout is redirected.
	useColor = term.IsTerminal(int(os.Stdout.Fd()))
)

func color(c string) string {
	if !useColor {
		return ""
	}
	return c
}

func LogError(msg string, a ...interface{}) {
	fmt.Fprintf(stderr, "%s[ERROR]%s %s\n", color(ColorRed), color(ColorReset), fmt.Sprintf(msg, a...))
}

func LogWarn(msg string, a ...interface{}) {
	fmt.Fprintf(stderr, "%s[WARN]%s %s\n", color(ColorYellow), color(ColorReset), fmt.Sprintf(msg, a...))
}

// Printf highlights the formatted arguments: numbers and addresses in cyan,
// strings in green.
func Printf(msg string, a ...interface{}) {
	if useColor {
		msg = strings.ReplaceAll(msg, "0x%08X", "\033[36m0x%08X\033[0m")
		msg = strings.ReplaceAll(msg, "%d", "\033[36m%d\033[0m")
		msg = strings.ReplaceAll(msg, "%s", "\033[32m%s\033[0m")
	}
	fmt.Fprintf(stdout, msg, a...)
}

func hLine(msg string) {
	if useColor {
		w, _, err := term.GetSize(int(os.Stdout.Fd()))
		if pad := (w - len(msg) - 2) / 2; err == nil && pad > 0 {
			fmt.Fprintln(stdout, strings.Repeat("-", pad)+"["+msg+"]"+strings.Repeat("-", pad))
			return
		}
	}
	fmt.Fprintln(stdout, "["+msg+"]")
}
