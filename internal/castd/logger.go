package castd

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogger installs the default slog logger described by the config
func InitLogger(config *Config) {
	slog.SetDefault(NewLogger(config, os.Stdout))
}

// NewLogger builds a text or json logger writing to w
func NewLogger(config *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.GetSlogLevel()}

	var handler slog.Handler
	if strings.ToLower(config.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
