// Package diag configures the developer-facing diagnostic logger. This is
// separate from the logging store: diagnostics go to stderr and a rolling
// file, telemetry events go to logs.duckdb.
package diag

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide diagnostic logger. Before Setup it writes
// nothing.
var Logger = zerolog.Nop()

// Setup wires the diagnostic logger: warnings and up to stderr, the full
// debug stream to a rolling file in dir. verbose raises stderr to debug.
func Setup(dir string, verbose bool) {
	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "tl.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
	}
	stderrLevel := zerolog.WarnLevel
	if verbose {
		stderrLevel = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr}
	sinks := zerolog.MultiLevelWriter(
		levelWriter{w: console, min: stderrLevel},
		fileSink,
	)
	Logger = zerolog.New(sinks).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

type levelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (lw levelWriter) Write(p []byte) (int, error) { return lw.w.Write(p) }

func (lw levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < lw.min {
		return len(p), nil
	}
	return lw.w.Write(p)
}
