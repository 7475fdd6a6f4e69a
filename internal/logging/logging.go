// Package logging configures logrus for the command line and derives the
// per-board session loggers.
package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// TimestampFormat adds millisecond precision to log timestamps.
const TimestampFormat = "2006-01-02T15:04:05.999Z07:00"

// Setup applies level and the text formatter to the standard logger.
func Setup(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
	})
	return nil
}

// SessionLog is a logger writing to its parent's output and to a per-board
// log file.
type SessionLog struct {
	*log.Entry
	file *os.File
}

// NewSessionLog opens path (creating parent directories) and returns an
// entry carrying fields whose output also goes to parent's writer.
func NewSessionLog(parent *log.Logger, path string, fields log.Fields) (*SessionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	logger := log.New()
	logger.SetLevel(parent.GetLevel())
	logger.SetOutput(io.MultiWriter(parent.Out, f))
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
		DisableColors:   true,
	})
	return &SessionLog{Entry: logger.WithFields(fields), file: f}, nil
}

// Close closes the log file.
func (s *SessionLog) Close() error {
	return s.file.Close()
}

// Discard returns an entry that drops everything; tests and callers without
// a log destination use it.
func Discard() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}
