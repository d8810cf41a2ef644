package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the process-wide slog default from configuration.
// format "json" selects machine-readable output for production; anything else
// gets the human-readable text handler. level accepts debug, info, warn, or
// error case-insensitively and falls back to info. output "stderr" keeps logs
// off stdout; anything else means stdout. Once installed, call sites log
// through plain slog.Info/Warn/Error without carrying a logger around.
func SetupLogger(format, level, output string) {
	dst := io.Writer(os.Stdout)
	if strings.EqualFold(output, "stderr") {
		dst = os.Stderr
	}

	slog.SetDefault(slog.New(newHandler(format, level, dst)))
	slog.Info("logger initialised", "format", format, "level", parseLevel(level).String())
}

func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func newHandler(format, level string, dst io.Writer) slog.Handler {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug, // file:line is noise above debug
	}

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(dst, opts)
	}
	return slog.NewTextHandler(dst, opts)
}
