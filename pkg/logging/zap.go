// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package logging builds the zap loggers used by the command line.
package logging

import (
	"bytes"
	"io"

	"github.com/siderolabs/gen/xslices"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogWriter is a wrapper around zap.Logger that implements io.Writer interface.
//
// Every non-empty line written becomes a log entry.
type LogWriter struct {
	dest  *zap.Logger
	level zapcore.Level
}

// NewWriter creates new log zap log writer.
func NewWriter(l *zap.Logger, level zapcore.Level) io.Writer {
	return &LogWriter{
		dest:  l,
		level: level,
	}
}

// Write implements io.Writer interface.
func (lw *LogWriter) Write(p []byte) (int, error) {
	if !lw.dest.Core().Enabled(lw.level) {
		return 0, nil
	}

	for line := range bytes.Lines(p) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if checked := lw.dest.Check(lw.level, string(line)); checked != nil {
			checked.Write()
		}
	}

	return len(p), nil
}

// Destination is a writer with its level and encoding.
type Destination struct {
	level  zapcore.LevelEnabler
	writer io.Writer
	config zapcore.EncoderConfig
}

// EncoderOption defines a destination encoder config setter.
type EncoderOption func(config *zapcore.EncoderConfig)

// WithoutTimestamp disables timestamp.
func WithoutTimestamp() EncoderOption {
	return func(config *zapcore.EncoderConfig) {
		config.EncodeTime = nil
	}
}

// WithColoredLevels enables log level colored output.
func WithColoredLevels() EncoderOption {
	return func(config *zapcore.EncoderConfig) {
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
}

// NewDestination creates new log destination.
func NewDestination(writer io.Writer, logLevel zapcore.LevelEnabler, options ...EncoderOption) *Destination {
	config := zap.NewDevelopmentEncoderConfig()
	config.ConsoleSeparator = " "
	config.StacktraceKey = "error"

	for _, option := range options {
		option(&config)
	}

	return &Destination{
		level:  logLevel,
		config: config,
		writer: writer,
	}
}

// Wrap logs everything written to writer at debug level.
func Wrap(writer io.Writer) *zap.Logger {
	return New(NewDestination(writer, zapcore.DebugLevel))
}

// New creates a logger teeing entries to every destination.
func New(dests ...*Destination) *zap.Logger {
	if len(dests) == 0 {
		panic("at least one writer must be defined")
	}

	cores := xslices.Map(dests, func(dest *Destination) zapcore.Core {
		return zapcore.NewCore(
			zapcore.NewConsoleEncoder(dest.config),
			zapcore.AddSync(dest.writer),
			dest.level,
		)
	})

	return zap.New(zapcore.NewTee(cores...))
}

// Console creates the command line logger.
//
// Debug messages are only logged when verbose is set, timestamps never are.
func Console(w io.Writer, verbose, colored bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	options := []EncoderOption{WithoutTimestamp()}
	if colored {
		options = append(options, WithColoredLevels())
	}

	return New(NewDestination(w, level, options...))
}

// Component helper for creating zap.Field.
func Component(name string) zapcore.Field {
	return zap.String("component", name)
}
