package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cerrors "github.com/clipos/updater/pkg/errors"
)

var rootCmd = &cobra.Command{
	Use:   "updater",
	Short: "CLIP OS A/B slot updater",
	Long:  `Fetches, verifies, and installs core and EFI payloads into the inactive A/B slot.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the command tree and maps any returned error's Kind to
// the process exit code spec §6 documents. This is the single place
// exit codes are decided; every command below returns a plain error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "updater: %v\n", err)
		kind, ok := cerrors.KindOf(err)
		if !ok {
			os.Exit(1)
		}
		os.Exit(kind.ExitCode())
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "/etc/clipos/updater.toml", "path to configuration file")
	rootCmd.PersistentFlags().StringP("remote", "r", "stable", "remote profile to use")
	rootCmd.PersistentFlags().StringP("tmp-dir", "t", "/var/tmp/updater", "directory for payload staging")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug-level logging")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("remote", rootCmd.PersistentFlags().Lookup("remote"))
	viper.BindPFlag("tmp-dir", rootCmd.PersistentFlags().Lookup("tmp-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}
