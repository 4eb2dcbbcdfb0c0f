package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ParseLevel maps a config level name onto a logrus level.
func ParseLevel(name string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

type Logger struct {
	file  *os.File
	entry *logrus.Entry
}

// NewLogger logs to the console and to a timestamped file under dir.
func NewLogger(dir string, level string) (*Logger, error) {
	// Create logs directory if it doesn't exist
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %v", err)
	}

	// Create log file with timestamp
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("globalfinance_%s.log", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %v", err)
	}

	logger := NewWriterLogger(io.MultiWriter(os.Stdout, file), level)
	logger.file = file
	return logger, nil
}

// NewWriterLogger logs to w only.
func NewWriterLogger(w io.Writer, level string) *Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(lvl)
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	return &Logger{entry: logrus.NewEntry(base)}
}

// WithField returns a logger that tags every line with key=value.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{file: l.file, entry: l.entry.WithField(key, value)}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	// Skip cookie-related error messages
	if strings.Contains(format, "could not unmarshal event") &&
		strings.Contains(format, "cookiePart") {
		return
	}
	l.entry.Debugf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

// Print lets the logger back chi's request logging.
func (l *Logger) Print(v ...interface{}) {
	l.entry.Info(v...)
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
