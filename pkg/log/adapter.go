package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger on a logrus Entry.
// Badger reports routine compaction and replay progress at INFO; those lines
// are logged at DEBUG so they stay out of normal CLI output.
type BadgerLogrusAdapter struct {
	entry *logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry: entry}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) {
	l.entry.Errorf(trim(f), v...)
}

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) {
	l.entry.Warnf(trim(f), v...)
}

// Infof logs badger's informational messages at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) {
	l.entry.Debugf(trim(f), v...)
}

// Debugf logs badger's debug messages at trace level
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) {
	l.entry.Tracef(trim(f), v...)
}

// Badger format strings end in a newline; logrus adds its own
func trim(f string) string { return strings.TrimRight(f, "\n") }
