package main

import (
	"log/slog"
	"os"

	"github.com/clipos/updater/cmd/updater/commands"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	commands.Execute()
}
