package main

import (
	"fmt"
	"os"

	"github.com/kisiac/kisiac/internal/config"
	"github.com/kisiac/kisiac/internal/crypt"
	"github.com/kisiac/kisiac/internal/device"
	"github.com/kisiac/kisiac/internal/filesystem"
	"github.com/kisiac/kisiac/internal/hostexec"
	"github.com/kisiac/kisiac/internal/lvm"
	"github.com/kisiac/kisiac/internal/perms"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge the host onto the configured layout",
	Long: `Apply works through the configuration in dependency order: physical
volumes, volume groups and logical volumes first, then filesystems and
the fstab, then path permissions. Formatting and fstab changes are
shown and confirmed before anything is written (see --yes). LUKS
mappings are checked against the configuration and differences are
reported, never changed.`,
	Run: runApply,
}

func runApply(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := cmd.Context()
	runner := hostexec.NewSystem(host)
	var confirmer hostexec.Confirmer = hostexec.NewTerminalConfirmer()
	if yes {
		confirmer = hostexec.AutoConfirmer{}
	}

	desired, err := lvm.SetupFromConfig(cfg.LVM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in LVM config: %v\n", err)
		os.Exit(1)
	}
	actual, err := lvm.SetupFromSystem(ctx, runner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading LVM state: %v\n", err)
		os.Exit(1)
	}
	if err := lvm.Update(ctx, runner, desired, actual); err != nil {
		fmt.Fprintf(os.Stderr, "Error updating LVM: %v\n", err)
		os.Exit(1)
	}

	if err := filesystem.Update(ctx, runner, confirmer, cfg.Filesystems); err != nil {
		fmt.Fprintf(os.Stderr, "Error updating filesystems: %v\n", err)
		os.Exit(1)
	}

	if len(cfg.Encryption) > 0 {
		reportEncryption(cmd, runner, cfg)
	}

	if err := perms.Update(ctx, runner, cfg.Permissions); err != nil {
		fmt.Fprintf(os.Stderr, "Error updating permissions: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Apply complete.")
}

// reportEncryption warns about LUKS mappings that differ from the
// configuration.
func reportEncryption(cmd *cobra.Command, runner hostexec.Runner, cfg *config.Config) {
	ctx := cmd.Context()
	devices, err := device.Discover(ctx, runner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering devices: %v\n", err)
		os.Exit(1)
	}
	actual, err := crypt.SetupFromSystem(ctx, runner, devices)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading LUKS state: %v\n", err)
		os.Exit(1)
	}
	for _, m := range crypt.Compare(crypt.SetupFromConfig(cfg.Encryption), actual) {
		zerolog.Ctx(ctx).Warn().Str("name", m.Name).Msg(m.Reason)
	}
}
