// Package logflags holds the per-component diagnostic loggers. Logging is
// off unless Setup enables it.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var catalog = false
var process = false
var memory = false
var session = false

var logOut io.Writer = os.Stderr

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(logOut)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.PanicLevel
	}
	return logger.WithFields(fields)
}

// Catalog returns true if address catalog loading should be logged.
func Catalog() bool {
	return catalog
}

// CatalogLogger returns a logger for the addrtable package.
func CatalogLogger() *logrus.Entry {
	return makeLogger(catalog, logrus.Fields{"layer": "catalog"})
}

// Process returns true if process discovery and handle management should
// be logged.
func Process() bool {
	return process
}

func ProcessLogger() *logrus.Entry {
	return makeLogger(process, logrus.Fields{"layer": "process"})
}

// Memory returns true if individual memory reads and writes should be
// logged.
func Memory() bool {
	return memory
}

func MemoryLogger() *logrus.Entry {
	return makeLogger(memory, logrus.Fields{"layer": "memory"})
}

// Session returns true if session state transitions should be logged.
func Session() bool {
	return session
}

func SessionLogger() *logrus.Entry {
	return makeLogger(session, logrus.Fields{"layer": "session"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup enables components from the comma separated list in logstr and
// directs output to logDest when it is not empty.
func Setup(logFlag bool, logstr, logDest string) error {
	catalog, process, memory, session = false, false, false, false
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logDest != "" {
		f, err := os.OpenFile(logDest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("could not open log destination: %w", err)
		}
		logOut = f
	}
	if logstr == "" {
		logstr = "session"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "catalog":
			catalog = true
		case "process":
			process = true
		case "memory":
			memory = true
		case "session":
			session = true
		case "all":
			catalog, process, memory, session = true, true, true, true
		default:
			return fmt.Errorf("unknown log component %q", logcmd)
		}
	}
	return nil
}

// SetOutput redirects all loggers created afterwards. A nil w restores
// standard error.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	logOut = w
}
