package logging

import (
	"io"
	golog "log"
	"os"
	"strings"

	"gopkg.in/inconshreveable/log15.v2"
)

// New builds the root logger. format is "json", "logfmt" or "terminal".
func New(level, format string, w io.Writer) log15.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := log15.LvlFromString(strings.ToLower(level))
	if err != nil {
		lvl = log15.LvlInfo
	}

	var fmtr log15.Format
	switch strings.ToLower(format) {
	case "logfmt":
		fmtr = log15.LogfmtFormat()
	case "terminal":
		fmtr = log15.TerminalFormat()
	default:
		fmtr = log15.JsonFormat()
	}

	l := log15.New()
	l.SetHandler(log15.LvlFilterHandler(lvl, log15.StreamHandler(w, fmtr)))
	return l
}

// Discard returns a logger that drops every record.
func Discard() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}

// BridgeStdlib routes output of the standard log package (gin debug output,
// driver warnings) into l.
func BridgeStdlib(l log15.Logger) {
	golog.SetFlags(0)
	golog.SetOutput(logBridge{l})
}

type logBridge struct {
	log log15.Logger
}

func (b logBridge) Write(msg []byte) (int, error) {
	b.log.Info("log pkg message", "message", strings.TrimSpace(string(msg)))
	return len(msg), nil
}
