package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kisiac/kisiac/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	host    string
	yes     bool
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "kisiac",
	Short: "Declarative host storage management",
	Long: `Kisiac converges a host onto a declared storage layout. It reads a
YAML description of LVM volumes, filesystems, fstab entries and path
permissions, compares it against what the host reports, and creates
whatever is missing. Existing data is never destroyed: volumes are
never shrunk, rebuilt or removed, and formatting asks first.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/kisiac/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "manage a remote host over ssh instead of the local machine")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "answer yes to all confirmation prompts")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log every command run on the host")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx := logger.WithContext(context.Background())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
