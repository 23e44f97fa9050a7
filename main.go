package main

import (
	"log/slog"
	"os"

	"github.com/jyothri/picasa-bridge/constants"
	"github.com/jyothri/picasa-bridge/db"
	"github.com/jyothri/picasa-bridge/web"
)

func init() {
	options := &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05.999"))
			}
			return a
		},
		Level: slog.LevelDebug,
	}

	handler := slog.NewTextHandler(os.Stdout, options)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func main() {
	constants.Parse()
	if err := db.SetupDatabase(); err != nil {
		slog.Error("Failed to set up database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := web.Server(); err != nil {
		slog.Error("Web server stopped", "error", err)
	}
}
