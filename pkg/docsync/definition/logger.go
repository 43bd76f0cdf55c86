// Package definition holds the default, concrete implementations of the
// small capability interfaces the core depends on abstractly — currently
// just the logger, mirroring the teacher's own definition package.
package definition

import (
	"io"
	"os"

	commonlog "github.com/prometheus/common/log"

	"github.com/musius/collaboration/pkg/docsync/types"
)

// DefaultLogger adapts github.com/prometheus/common/log's instantiable
// Logger — itself backed by github.com/sirupsen/logrus — to the
// types.Logger contract every core component takes at construction. This
// is the same library the teacher's core/transport.go already imports; the
// teacher's own definition.DefaultLogger hand-rolled its formatting on top
// of the stdlib log package instead of reusing it, which this module does
// not repeat.
type DefaultLogger struct {
	backend commonlog.Logger
}

// NewDefaultLogger builds a logger writing to w, tagged with name so log
// lines from several peers in the same process can be told apart.
func NewDefaultLogger(name string, w io.Writer) *DefaultLogger {
	return &DefaultLogger{backend: commonlog.NewLogger(w).With("peer", name)}
}

// NewStderrLogger is the common case: log to stderr.
func NewStderrLogger(name string) *DefaultLogger {
	return NewDefaultLogger(name, os.Stderr)
}

func (l *DefaultLogger) Info(v ...interface{})  { l.backend.Info(v...) }
func (l *DefaultLogger) Warn(v ...interface{})  { l.backend.Warn(v...) }
func (l *DefaultLogger) Error(v ...interface{}) { l.backend.Error(v...) }
func (l *DefaultLogger) Debug(v ...interface{}) { l.backend.Debug(v...) }
func (l *DefaultLogger) Fatal(v ...interface{}) { l.backend.Fatal(v...) }

func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.backend.Infof(format, v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.backend.Warnf(format, v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.backend.Errorf(format, v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.backend.Debugf(format, v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.backend.Fatalf(format, v...) }

var _ types.Logger = (*DefaultLogger)(nil)
