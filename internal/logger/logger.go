package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"crosspost/config"
)

// Fields represents structured logging fields
type Fields = logrus.Fields

// Manager manages the application logger and its underlying files.
type Manager struct {
	logger    *logrus.Logger
	infoFile  *os.File
	errorFile *os.File
}

var (
	mu     sync.RWMutex
	global *Manager
)

// Initialize configures the global logger manager.
func Initialize(cfg *config.Config) (*Manager, error) {
	manager, err := New(cfg)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	global = manager
	mu.Unlock()
	return manager, nil
}

// New creates a new Manager instance.
func New(cfg *config.Config) (*Manager, error) {
	dir := cfg.LogDirectory
	if dir == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	outputFile := cfg.LogOutputFile
	if outputFile == "" {
		outputFile = "app.log"
	}
	errorFile := cfg.LogErrorFile
	if errorFile == "" {
		errorFile = "app.error.log"
	}

	infoHandle, err := os.OpenFile(filepath.Join(dir, outputFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open info log file: %w", err)
	}

	errorHandle, err := os.OpenFile(filepath.Join(dir, errorFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		infoHandle.Close()
		return nil, fmt.Errorf("open error log file: %w", err)
	}

	l := logrus.New()
	l.SetOutput(io.MultiWriter(os.Stdout, infoHandle))
	l.SetFormatter(newFormatter(cfg.LogFormat))
	l.SetLevel(parseLevel(cfg.LogLevel))
	l.AddHook(&errorFileHook{writer: errorHandle, formatter: newFormatter(cfg.LogFormat)})

	return &Manager{
		logger:    l,
		infoFile:  infoHandle,
		errorFile: errorHandle,
	}, nil
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{FullTimestamp: true}
	}
	return &logrus.JSONFormatter{}
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// errorFileHook copies error entries into the dedicated error log
type errorFileHook struct {
	mu        sync.Mutex
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *errorFileHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *errorFileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(line)
	return err
}

// Logger returns the underlying logrus logger.
func (m *Manager) Logger() *logrus.Logger {
	return m.logger
}

// Close releases file handles.
func (m *Manager) Close() error {
	var firstErr error
	if m.infoFile != nil {
		if err := m.infoFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.errorFile != nil {
		if err := m.errorFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases the global logger manager if initialized.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return nil
	}
	err := global.Close()
	global = nil
	return err
}

// L returns the global logger, or the logrus standard logger before Initialize.
func L() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global != nil {
		return global.logger
	}
	return logrus.StandardLogger()
}

// WithFields returns an entry of the global logger carrying fields.
func WithFields(fields Fields) *logrus.Entry {
	return L().WithFields(fields)
}

// WithError returns an entry of the global logger carrying err.
func WithError(err error) *logrus.Entry {
	return L().WithError(err)
}

// Info logs at info level on the global logger.
func Info(args ...interface{}) {
	L().Info(args...)
}

// Infof logs a formatted message at info level on the global logger.
func Infof(format string, args ...interface{}) {
	L().Infof(format, args...)
}

// Warnf logs a formatted message at warn level on the global logger.
func Warnf(format string, args ...interface{}) {
	L().Warnf(format, args...)
}

// Errorf logs a formatted message at error level on the global logger.
func Errorf(format string, args ...interface{}) {
	L().Errorf(format, args...)
}
