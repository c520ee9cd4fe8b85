package config

import (
	"io"
	"log/slog"
	"strings"
)

// LogConfig selects the slog handler installed by the binaries
type LogConfig struct {
	Format    string `env:"LOG_FORMAT" env-default:"text"`
	Level     string `env:"LOG_LEVEL" env-default:"info"`
	AddSource bool   `env:"LOG_ADD_SOURCE" env-default:"true"`
}

// NewLogger builds a text or JSON logger writing to w
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: l.AddSource,
		Level:     l.level(),
	}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (l LogConfig) level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (l LogConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireOneOf("LOG_FORMAT", strings.ToLower(l.Format), []string{"text", "json"}),
	)
}
