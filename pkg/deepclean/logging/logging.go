// Package logging provides component loggers for deepclean backed by
// charmbracelet/log, with a rotating log file shared by the CLI and daemon.
//
// Pipeline packages never reach for a global logger. They accept a Logger
// through their options and default to Discard(). Binaries wire component
// loggers from this package:
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	p := planner.New(planner.Options{Logger: logging.Get("planner")})
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Logger is the structured logging capability injected into pipeline
// components. Arguments after the message are alternating keys and values.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Level is a logging threshold.
type Level int

// Levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "unknown"
}

func (l Level) charm() log.Level {
	return map[Level]log.Level{
		LevelDebug: log.DebugLevel,
		LevelWarn:  log.WarnLevel,
		LevelError: log.ErrorLevel,
	}[l] // zero value is log.InfoLevel
}

// ErrInvalidLevel is returned by ParseLevel for unknown names.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a case-insensitive level name. Unknown names yield
// LevelInfo together with ErrInvalidLevel.
func ParseLevel(s string) (Level, error) {
	if l, ok := levelNames[strings.ToLower(s)]; ok {
		return l, nil
	}
	return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
}

// Config configures Init.
type Config struct {
	// Level applies to every component without an override.
	Level string

	// Path of the log file. Empty uses DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components maps component names to their own levels.
	Components map[string]string

	// ConsoleLevel mirrors log lines at or above it to stderr.
	// Empty leaves the console quiet.
	ConsoleLevel string
}

// ComponentLogger is a Logger tagged with a component name. It fans each
// call out to the log file and, when enabled, stderr.
type ComponentLogger struct {
	component string
	sinks     []*log.Logger
}

// Debug logs at debug level.
func (l *ComponentLogger) Debug(msg string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Debug(msg, args...)
	}
}

// Info logs at info level.
func (l *ComponentLogger) Info(msg string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Info(msg, args...)
	}
}

// Warn logs at warn level.
func (l *ComponentLogger) Warn(msg string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Warn(msg, args...)
	}
}

// Error logs at error level.
func (l *ComponentLogger) Error(msg string, args ...interface{}) {
	for _, s := range l.sinks {
		s.Error(msg, args...)
	}
}

// Component returns the component name.
func (l *ComponentLogger) Component() string {
	return l.component
}

// With returns a logger that adds args to every line.
func (l *ComponentLogger) With(args ...interface{}) *ComponentLogger {
	out := &ComponentLogger{component: l.component, sinks: make([]*log.Logger, len(l.sinks))}
	for i, s := range l.sinks {
		out.sinks[i] = s.With(args...)
	}
	return out
}

// registry is the process-wide logging setup behind Init and Get.
type registry struct {
	mu        sync.Mutex
	file      *RotatingWriter
	level     Level
	overrides map[string]Level
	console   *Level
	loggers   map[string]*ComponentLogger
}

var std = &registry{
	overrides: map[string]Level{},
	loggers:   map[string]*ComponentLogger{},
}

// Init opens the log file and resets every component logger. Loggers
// obtained before Init keep discarding; call Get again afterwards.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	overrides := make(map[string]Level, len(cfg.Components))
	for comp, name := range cfg.Components {
		l, err := ParseLevel(name)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		overrides[comp] = l
	}

	var console *Level
	if cfg.ConsoleLevel != "" {
		l, err := ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		console = &l
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	file, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	std.mu.Lock()
	defer std.mu.Unlock()

	old := std.file
	std.file = file
	std.level = level
	std.overrides = overrides
	std.console = console
	std.loggers = map[string]*ComponentLogger{}

	if old != nil {
		if err := old.Close(); err != nil {
			return fmt.Errorf("closing previous log file: %w", err)
		}
	}
	return nil
}

// Get returns the logger for component, creating it on first use.
func Get(component string) *ComponentLogger {
	std.mu.Lock()
	defer std.mu.Unlock()

	if l, ok := std.loggers[component]; ok {
		return l
	}
	l := std.build(component)
	std.loggers[component] = l
	return l
}

// build must be called with r.mu held.
func (r *registry) build(component string) *ComponentLogger {
	level := r.level
	if l, ok := r.overrides[component]; ok {
		level = l
	}

	l := &ComponentLogger{component: component}
	if r.file == nil {
		l.sinks = []*log.Logger{log.NewWithOptions(io.Discard, log.Options{Level: level.charm(), Prefix: component})}
		return l
	}

	l.sinks = append(l.sinks, log.NewWithOptions(r.file, log.Options{
		Level:           level.charm(),
		Prefix:          component,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	}))
	if r.console != nil {
		l.sinks = append(l.sinks, log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.console.charm(),
			Prefix:          component,
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		}))
	}
	return l
}

// Close closes the log file. Later Get calls return discarding loggers
// until Init runs again.
func Close() error {
	std.mu.Lock()
	defer std.mu.Unlock()

	file := std.file
	std.file = nil
	std.console = nil
	std.overrides = map[string]Level{}
	std.loggers = map[string]*ComponentLogger{}

	if file == nil {
		return nil
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// NewWriterLogger returns a logger writing logfmt lines without
// timestamps to w. Runs use it to capture the log that goes into the
// proof bundle.
func NewWriterLogger(w io.Writer, component string, level Level) *ComponentLogger {
	return &ComponentLogger{
		component: component,
		sinks: []*log.Logger{log.NewWithOptions(w, log.Options{
			Level:     level.charm(),
			Prefix:    component,
			Formatter: log.LogfmtFormatter,
		})},
	}
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return discard{}
}

type discard struct{}

func (discard) Debug(string, ...interface{}) {}
func (discard) Info(string, ...interface{})  {}
func (discard) Warn(string, ...interface{})  {}
func (discard) Error(string, ...interface{}) {}

// Tee returns a Logger that forwards to every non-nil logger given.
func Tee(loggers ...Logger) Logger {
	var t tee
	for _, l := range loggers {
		if l != nil {
			t = append(t, l)
		}
	}
	return t
}

type tee []Logger

func (t tee) Debug(msg string, args ...interface{}) {
	for _, l := range t {
		l.Debug(msg, args...)
	}
}

func (t tee) Info(msg string, args ...interface{}) {
	for _, l := range t {
		l.Info(msg, args...)
	}
}

func (t tee) Warn(msg string, args ...interface{}) {
	for _, l := range t {
		l.Warn(msg, args...)
	}
}

func (t tee) Error(msg string, args ...interface{}) {
	for _, l := range t {
		l.Error(msg, args...)
	}
}

// OrDiscard returns l, or Discard() when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// DefaultLogPath returns $XDG_STATE_HOME/deepclean/deepclean.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "deepclean", "deepclean.log")
}

// DefaultConfig returns the logging setup used without a config file.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
