// Package logger builds the hclog loggers shared by the CLI and the server.
package logger

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, encoding and destination.
type Config struct {
	Name  string
	Level string // trace, debug, info, warn, error, off
	JSON  bool
	// File, when set, receives the log through a rotating writer instead of
	// stderr.
	File string
}

// New returns a root logger for cfg.
func New(cfg Config) hclog.Logger {
	name := cfg.Name
	if name == "" {
		name = "workout-audio"
	}
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		JSONFormat: cfg.JSON,
		Output:     output(cfg.File),
	})
}

func output(file string) io.Writer {
	if file == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
}

// OrNull returns l, or a logger that discards everything when l is nil.
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}
