// Package logging defines the logger type shared across packages.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface accepted by clients and servers. Both
// *logrus.Logger and *logrus.Entry satisfy it.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// Discard returns a Logger that drops everything it is given.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
