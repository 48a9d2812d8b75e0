// Package diag emits the tracer's diagnostics on stderr in the structured
// one-line form `[renacer: <kind>: <detail>]`, keeping the trace stream on
// stdout machine-parseable. It is a thin layer over logrus with a custom
// formatter; the error kinds mirror the recovery policy each failure class
// carries.
package diag

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind names a diagnostic class. Each kind has a fixed recovery policy:
// usage/spawn/attach abort, everything else is recovered at the smallest
// scope that still produces useful output.
type Kind string

const (
	KindUsage       Kind = "usage"
	KindSpawn       Kind = "spawn"
	KindAttach      Kind = "attach"
	KindTraceeEvent Kind = "tracee-event"
	KindMemoryRead  Kind = "memory-read"
	KindDWARF       Kind = "dwarf"
	KindUnwind      Kind = "unwind"
	KindExporter    Kind = "exporter"
	KindFormat      Kind = "format"
	KindDecision    Kind = "decision"
)

// lineFormatter renders every entry as `[renacer: <kind>: <message>]`.
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	kind, _ := e.Data["kind"].(Kind)
	if kind == "" {
		kind = "info"
	}
	return []byte(fmt.Sprintf("[renacer: %s: %s]\n", kind, e.Message)), nil
}

var (
	mu     sync.Mutex
	logger = newLogger(os.Stderr)
	quiet  bool
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(lineFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetOutput redirects diagnostics, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// SetQuiet suppresses informational progress lines. Error diagnostics are
// always emitted.
func SetQuiet(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

// Errorf emits a one-line error diagnostic of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) {
	logger.WithField("kind", kind).Errorf(format, args...)
}

// Warnf emits a one-line warning diagnostic of the given kind.
func Warnf(kind Kind, format string, args ...interface{}) {
	logger.WithField("kind", kind).Warnf(format, args...)
}

// Infof emits a progress line unless quiet mode is on.
func Infof(format string, args ...interface{}) {
	mu.Lock()
	q := quiet
	mu.Unlock()
	if q {
		return
	}
	logger.WithField("kind", Kind("info")).Infof(format, args...)
}

// Once returns a function that forwards to Errorf only on its first call.
// Used for failure classes that must emit a single diagnostic and then
// stay silent (exporter failures, per-binary DWARF errors).
func Once(kind Kind) func(format string, args ...interface{}) {
	var once sync.Once
	return func(format string, args ...interface{}) {
		once.Do(func() {
			Errorf(kind, format, args...)
		})
	}
}
