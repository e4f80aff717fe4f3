// Package slog is a leveled logger that prints the code location of every
// entry and provides compact error check helpers.
//
// Each package declares its own pair of printers:
//
//	var log, chk = slog.New(os.Stderr)
//
// and then uses log.D.F(...), log.E.Ln(...) and `if chk.E(err) {`.
package slog

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gookit/color"
)

const (
	Off Level = iota
	Fatal
	Error
	CheckLevel
	Warn
	Info
	Debug
	Trace
)

var (
	// LvlStr is a map that provides the uniform width strings that are printed
	// to identify the Level of a log entry.
	LvlStr = LevelMap{
		Off:        "off",
		Fatal:      "fatal",
		Error:      "error",
		CheckLevel: "check",
		Warn:       "warn",
		Info:       "info",
		Debug:      "debug",
		Trace:      "trace",
	}

	// LvlStrShort is a map for compact versions for use in the printer.
	LvlStrShort = LevelMap{
		Off:        "",
		Fatal:      "FTL",
		Error:      "ERR",
		CheckLevel: "CHK",
		Warn:       "WRN",
		Info:       "INF",
		Debug:      "DBG",
		Trace:      "TRC",
	}

	lvlColors = map[Level]color.Color{
		Fatal:      color.FgMagenta,
		Error:      color.FgRed,
		CheckLevel: color.FgYellow,
		Warn:       color.FgYellow,
		Info:       color.FgGreen,
		Debug:      color.FgBlue,
		Trace:      color.FgGray,
	}

	writerMx sync.Mutex
	logLevel = Info
	colorize = color.SupportColor()
)

type (
	LevelMap map[Level]string
	// Level is a code representing a scale of importance and context for log
	// entries.
	Level int32
	// Println prints lists of interfaces with spaces in between
	Println func(a ...interface{})
	// Printf prints like fmt.Printf surrounded by log details
	Printf func(format string, a ...interface{})
	// Prints prints a spew.Sdump for an interface slice
	Prints func(a ...interface{})
	// Printc accepts a function so that the extra computation can be avoided if
	// it is not being viewed
	Printc func(closure func() string)
	// Chk is a shortcut for printing if there is an error, or returning true
	Chk func(e error) bool
	// Errorf prints like fmt.Errorf and returns the error it printed.
	Errorf func(format string, a ...interface{}) error
	// LevelPrinter defines a set of terminal printing primitives that output
	// with extra data, time, level, and code location
	LevelPrinter struct {
		Ln Println
		F  Printf
		S  Prints
		C  Printc
		// Chk prints the error if it is not nil and returns true if so.
		Chk Chk
		Err Errorf
	}
	// Log is a set of log printers for the various Level items.
	Log struct {
		F, E, W, I, D, T LevelPrinter
		w                *writer
	}
	// Check is the set of error checkers, one per Level.
	Check struct {
		F, E, W, I, D, T Chk
	}
	writer struct {
		io.Writer
	}
)

// New creates a logger and a matching set of error checkers that write to w.
func New(w io.Writer) (l *Log, c *Check) {
	wr := &writer{w}
	l = &Log{
		F: getOnePrinter(wr, Fatal),
		E: getOnePrinter(wr, Error),
		W: getOnePrinter(wr, Warn),
		I: getOnePrinter(wr, Info),
		D: getOnePrinter(wr, Debug),
		T: getOnePrinter(wr, Trace),
		w: wr,
	}
	c = &Check{
		F: l.F.Chk,
		E: l.E.Chk,
		W: l.W.Chk,
		I: l.I.Chk,
		D: l.D.Chk,
		T: l.T.Chk,
	}
	return
}

// Fail prints the error at Error level if it is not nil and returns true if
// so.
func (l *Log) Fail(e error) bool { return l.E.Chk(e) }

// SetLogLevel sets the level below which entries are printed for every
// logger in the process.
func SetLogLevel(l Level) {
	writerMx.Lock()
	defer writerMx.Unlock()
	logLevel = l
}

// GetLogLevel returns the current process wide log level.
func GetLogLevel() (l Level) {
	writerMx.Lock()
	defer writerMx.Unlock()
	l = logLevel
	return
}

// ParseLevel converts a level name such as "debug" to a Level. Unknown names
// return Info and an error.
func ParseLevel(s string) (l Level, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i := range LvlStr {
		if LvlStr[i] == s {
			return i, nil
		}
	}
	return Info, fmt.Errorf("unknown log level '%s'", s)
}

// SetColor enables or disables colored level tags.
func SetColor(on bool) {
	writerMx.Lock()
	defer writerMx.Unlock()
	colorize = on
}

func (l LevelMap) String() (s string) {
	ss := make([]string, 0, len(l))
	for i := Off; i <= Trace; i++ {
		ss = append(ss, strings.TrimSpace(l[i]))
	}
	return strings.Join(ss, ",")
}

func _c(w *writer, level Level) Printc {
	return func(closure func() string) {
		logPrint(w, level, closure)
	}
}

func _chk(w *writer, level Level) Chk {
	return func(e error) (is bool) {
		if e != nil {
			logPrint(w, level, joinStrings(" ", "CHECK:", e))
			is = true
		}
		return
	}
}

func _f(w *writer, level Level) Printf {
	return func(format string, a ...interface{}) {
		logPrint(w, level, func() string {
			return fmt.Sprintf(format, a...)
		})
	}
}

func _err(w *writer, level Level) Errorf {
	return func(format string, a ...interface{}) (err error) {
		err = fmt.Errorf(format, a...)
		logPrint(w, level, func() string { return err.Error() })
		return
	}
}

func backticksToSingleQuote(in string) string {
	return strings.ReplaceAll(in, "`", "'")
}

func _ln(w *writer, l Level) Println {
	return func(a ...interface{}) {
		logPrint(w, l, func() string {
			return backticksToSingleQuote(joinStrings(" ", a...)())
		})
	}
}

func _s(w *writer, level Level) Prints {
	return func(a ...interface{}) {
		text := "spew:\n"
		if len(a) > 0 {
			if s, ok := a[0].(string); ok {
				text = strings.TrimSpace(s) + "\n"
				a = a[1:]
			}
		}
		logPrint(w, level, func() string {
			return backticksToSingleQuote(text + spew.Sdump(a...))
		})
	}
}

func getOnePrinter(w *writer, level Level) LevelPrinter {
	return LevelPrinter{
		Ln:  _ln(w, level),
		F:   _f(w, level),
		S:   _s(w, level),
		C:   _c(w, level),
		Chk: _chk(w, level),
		Err: _err(w, level),
	}
}

// joinStrings constructs a string from a slice of interface same as Println but
// without the terminal newline
func joinStrings(sep string, a ...interface{}) func() (o string) {
	return func() (o string) {
		for i := range a {
			o += fmt.Sprint(a[i])
			if i < len(a)-1 {
				o += sep
			}
		}
		return
	}
}

// UnixNanoAsFloat renders the current time as seconds with a nanosecond
// fraction.
func UnixNanoAsFloat() (s string) {
	timeText := fmt.Sprint(time.Now().UnixNano())
	lt := len(timeText)
	lb := lt + 1
	var timeBytes = make([]byte, lb)
	copy(timeBytes[lb-9:lb], timeText[lt-9:lt])
	timeBytes[lb-10] = '.'
	lb -= 10
	lt -= 9
	copy(timeBytes[:lb], timeText[:lt])
	return string(timeBytes)
}

// GetLoc calls runtime.Caller to get the path of the calling source code file.
func GetLoc(skip int) (output string) {
	_, file, line, _ := runtime.Caller(skip)
	output = fmt.Sprint(file, ":", line)
	return
}

func levelTag(level Level) string {
	tag := LvlStrShort[level]
	if !colorize {
		return tag
	}
	if c, ok := lvlColors[level]; ok {
		return c.Sprint(tag)
	}
	return tag
}

// logPrint is the generic log printing function that provides the base
// format for log entries.
func logPrint(w *writer, level Level, printFunc func() string) {
	writerMx.Lock()
	defer writerMx.Unlock()
	if level > logLevel {
		return
	}
	_, _ = fmt.Fprintf(w, "%s %s %s %s\n",
		UnixNanoAsFloat(),
		levelTag(level),
		printFunc(),
		GetLoc(3),
	)
}

// ErrNilWriter is returned by Redirect when given no writer.
var ErrNilWriter = errors.New("nil log writer")

// Redirect changes the output of a logger created by New.
func (l *Log) Redirect(w io.Writer) (err error) {
	if w == nil {
		return ErrNilWriter
	}
	writerMx.Lock()
	defer writerMx.Unlock()
	l.w.Writer = w
	return
}
