// Package logger wraps zerolog behind a small interface so core
// components stay decoupled from the concrete logging backend.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Debug(msg string)

	WithStr(key, value string) Logger
	WithInt(key string, value int) Logger
	WithInt64(key string, value int64) Logger
	WithErr(err error) Logger
	WithAny(key string, value any) Logger
}

type logger struct {
	base zerolog.Logger
}

// New returns a logger writing rotated JSON lines to path.
func New(path string) Logger {
	return &logger{base: newBase(rotated(path))}
}

// NewMultiWriter returns a logger writing to both stderr and a rotated
// file, for interactive CLI runs.
func NewMultiWriter(path string) Logger {
	multi := io.MultiWriter(os.Stderr, rotated(path))
	return &logger{base: newBase(multi)}
}

// Discard returns a logger that drops everything, for tests.
func Discard() Logger {
	return &logger{base: zerolog.New(io.Discard)}
}

func rotated(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

func newBase(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

func (l *logger) Info(msg string)  { l.base.Info().Msg(msg) }
func (l *logger) Warn(msg string)  { l.base.Warn().Msg(msg) }
func (l *logger) Error(msg string) { l.base.Error().Msg(msg) }
func (l *logger) Fatal(msg string) { l.base.Fatal().Msg(msg) }
func (l *logger) Debug(msg string) { l.base.Debug().Msg(msg) }

func (l *logger) WithStr(key, value string) Logger {
	return &logger{base: l.base.With().Str(key, value).Logger()}
}

func (l *logger) WithInt(key string, value int) Logger {
	return &logger{base: l.base.With().Int(key, value).Logger()}
}

func (l *logger) WithInt64(key string, value int64) Logger {
	return &logger{base: l.base.With().Int64(key, value).Logger()}
}

func (l *logger) WithErr(err error) Logger {
	return &logger{base: l.base.With().AnErr("error", err).Logger()}
}

func (l *logger) WithAny(key string, value any) Logger {
	return &logger{base: l.base.With().Interface(key, value).Logger()}
}

// LogPath resolves the default log file location under the user's home
// directory, creating parent directories as needed.
func LogPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, "ipmsg", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	return filepath.Join(logDir, "ipmsg.log"), nil
}
