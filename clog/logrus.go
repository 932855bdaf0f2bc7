package clog

import "github.com/sirupsen/logrus"

// logrusProvider adapts a *logrus.Entry to the LogProvider interface so
// structured fields (device_id, term_id, link_state, ...) attached to the
// entry accompany every line a Clog emits.
type logrusProvider struct {
	entry *logrus.Entry
}

var _ LogProvider = logrusProvider{}

// NewLogrusLogger returns a Clog backed by entry. Pass entry.WithFields(...)
// to carry session-scoped context (device_id, ...) into every log line.
func NewLogrusLogger(entry *logrus.Entry) Clog {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return Clog{provider: logrusProvider{entry: entry}, level: uint32(LevelDebug)}
}

func (sf logrusProvider) Critical(format string, v ...interface{}) {
	sf.entry.WithField("severity", "critical").Errorf(format, v...)
}
func (sf logrusProvider) Error(format string, v ...interface{})    { sf.entry.Errorf(format, v...) }
func (sf logrusProvider) Warn(format string, v ...interface{})     { sf.entry.Warnf(format, v...) }
func (sf logrusProvider) Debug(format string, v ...interface{})    { sf.entry.Debugf(format, v...) }
