package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultPattern = "%time [%level] %component%msg %field\n"
	DefaultTime    = "2006-01-02 15:04:05.000"
)

// LoggerConfig is the log section of the daemon config.
type LoggerConfig struct {
	Level   string     `mapstructure:"level"`
	Format  string     `mapstructure:"format"` // text or json
	Pattern string     `mapstructure:"pattern"`
	Time    string     `mapstructure:"time"`
	File    FileConfig `mapstructure:"file"`
}

// FileConfig is the rotating file sink. An empty Level follows the console.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Filename   string `mapstructure:"filename"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// entry adapts a logrus entry to Logger.
type entry struct {
	*logrus.Entry
}

func (e entry) WithField(field string, value interface{}) Logger {
	return entry{e.Entry.WithField(field, value)}
}

func (e entry) WithError(err error) Logger {
	return entry{e.Entry.WithError(err)}
}

func (e entry) IsTraceEnabled() bool { return e.Logger.IsLevelEnabled(logrus.TraceLevel) }
func (e entry) IsDebugEnabled() bool { return e.Logger.IsLevelEnabled(logrus.DebugLevel) }
func (e entry) IsInfoEnabled() bool  { return e.Logger.IsLevelEnabled(logrus.InfoLevel) }

// sink writes formatted entries at or above its level to w.
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	level  logrus.Level
	format logrus.Formatter
}

func (s *sink) Levels() []logrus.Level {
	return logrus.AllLevels[:s.level+1]
}

func (s *sink) Fire(e *logrus.Entry) error {
	b, err := s.format.Format(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(b)
	return err
}

// discard skips logrus' own formatting; sinks format for themselves.
type discard struct{}

func (discard) Format(*logrus.Entry) ([]byte, error) { return nil, nil }

func newDefault() Logger {
	l, _, _ := build(&LoggerConfig{Level: "info"}, os.Stdout)
	return l
}

func newLogger(cfg *LoggerConfig) (Logger, io.Closer, error) {
	return build(cfg, os.Stdout)
}

// build wires a console sink on console and, when enabled, a lumberjack file
// sink. The logrus level is the more verbose of the two so each sink filters
// on its own.
func build(cfg *LoggerConfig, console io.Writer) (Logger, io.Closer, error) {
	format := newFormatter(cfg)
	level := parseLevel(cfg.Level)

	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetFormatter(discard{})
	l.AddHook(&sink{w: console, level: level, format: format})
	maxLevel := level

	var closer io.Closer
	if cfg.File.Enabled {
		if cfg.File.Filename == "" {
			return nil, nil, fmt.Errorf("log file sink enabled without filename")
		}
		fileLevel := level
		if cfg.File.Level != "" {
			fileLevel = parseLevel(cfg.File.Level)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		l.AddHook(&sink{w: rotator, level: fileLevel, format: format})
		closer = rotator
		maxLevel = max(maxLevel, fileLevel)
	}
	l.SetLevel(maxLevel)
	return entry{logrus.NewEntry(l)}, closer, nil
}

func parseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func newFormatter(cfg *LoggerConfig) logrus.Formatter {
	timeFmt := cfg.Time
	if timeFmt == "" {
		timeFmt = DefaultTime
	}
	if cfg.Format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: timeFmt}
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &formatter{pattern: pattern, time: timeFmt}
}
