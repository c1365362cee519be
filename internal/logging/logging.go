// Package logging provides leveled logging on top of the standard log
// package, optionally rotated to a file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// Mode is the minimum severity that gets written.
type Mode uint

const (
	DebugMode Mode = iota
	InfoMode
	WarningMode
	ErrorMode
	SilentMode
)

func (m Mode) String() string {
	switch m {
	case DebugMode:
		return "debug"
	case InfoMode:
		return "info"
	case WarningMode:
		return "warning"
	case ErrorMode:
		return "error"
	case SilentMode:
		return "silent"
	default:
		return "unknown"
	}
}

// ParseMode parses a level name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugMode, nil
	case "", "info":
		return InfoMode, nil
	case "warning", "warn":
		return WarningMode, nil
	case "error":
		return ErrorMode, nil
	case "silent", "off":
		return SilentMode, nil
	default:
		return InfoMode, fmt.Errorf("invalid log level %q (valid: debug, info, warning, error, silent)", s)
	}
}

// Config configures the log destination and level.
type Config struct {
	Logfile string `yaml:"logfile" toml:"logfile"`
	MaxSize int    `yaml:"max_log_size" toml:"max_log_size"` // megabytes
	MaxAge  int    `yaml:"max_log_age" toml:"max_log_age"`   // days
	Level   string `yaml:"level" toml:"level"`
}

var (
	mu   sync.Mutex
	mode = InfoMode
	file *lumberjack.Logger
)

// Setup applies cfg. Without a log file, messages go to stderr.
func Setup(cfg Config) error {
	m, err := ParseMode(cfg.Level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	mode = m
	if file != nil {
		file.Close()
		file = nil
	}
	if cfg.Logfile == "" {
		log.SetOutput(os.Stderr)
		return nil
	}
	file = &lumberjack.Logger{
		Filename: cfg.Logfile,
		MaxSize:  cfg.MaxSize,
		MaxAge:   cfg.MaxAge,
	}
	log.SetOutput(file)
	return nil
}

// SetOutput redirects log output, mostly for tests and for silencing the TUI.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetMode sets the minimum severity written.
func SetMode(m Mode) {
	mu.Lock()
	mode = m
	mu.Unlock()
}

// Shutdown closes the log file, if any.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
		log.SetOutput(os.Stderr)
	}
}

func enabled(m Mode) bool {
	mu.Lock()
	defer mu.Unlock()
	return mode <= m
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		log.Printf(" DEBUG "+format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		log.Printf(" INFO "+format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		log.Printf(" WARNING "+format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		log.Printf(" ERROR "+format, args...)
	}
}

// TimeLog appends the elapsed time since its creation to each message.
//
//	tlog := logging.NewTimeLog()
//	...
//	tlog.Infof("analyzed %s", name) // "analyzed ct.dcm: 12ms"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{start: time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof(format+": %s", append(args, time.Since(t.start))...)
}
