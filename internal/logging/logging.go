package logging

import (
	"log/slog"
	"os"

	pionlog "github.com/pion/logging"
)

// Init installs the default slog logger. An explicit level wins over LOG_LEVEL;
// with neither set only errors are shown.
func Init(level string) slog.Level {
	if level == "" {
		level, _ = os.LookupEnv("LOG_LEVEL")
	}
	lvl := ParseLevel(level)

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:     lvl,
			AddSource: lvl == slog.LevelDebug,
		}),
	)
	slog.SetDefault(logger)
	return lvl
}

// ParseLevel maps the accepted level names to a slog level.
func ParseLevel(l string) slog.Level {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// PionFactory returns a logger factory for pion's SettingEngine that logs at
// the same threshold as slog. Pion's own PION_LOG_* variables still apply.
func PionFactory(level slog.Level) pionlog.LoggerFactory {
	f := pionlog.NewDefaultLoggerFactory()
	f.Writer = os.Stderr

	switch {
	case level <= slog.LevelDebug:
		f.DefaultLogLevel = pionlog.LogLevelDebug
	case level <= slog.LevelInfo:
		f.DefaultLogLevel = pionlog.LogLevelInfo
	case level <= slog.LevelWarn:
		f.DefaultLogLevel = pionlog.LogLevelWarn
	default:
		f.DefaultLogLevel = pionlog.LogLevelError
	}
	return f
}
