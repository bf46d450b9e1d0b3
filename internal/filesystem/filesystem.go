package filesystem

import (
	"context"
	"fmt"
	"strings"

	"github.com/kisiac/kisiac/internal/config"
	"github.com/kisiac/kisiac/internal/device"
	"github.com/kisiac/kisiac/internal/hostexec"
	"github.com/rs/zerolog"
)

// mount exits with 5 when the filesystem is already mounted.
const mountExitAlreadyMounted = 5

// Update converges formatted filesystems, the mount table, and active
// mounts toward the configured set. Formatting and rewriting the mount
// table destroy data and so are each gated on operator confirmation.
// Declining one gate does not skip the others.
func Update(ctx context.Context, runner hostexec.Runner, confirmer hostexec.Confirmer, filesystems []config.Filesystem) error {
	devices, err := device.Discover(ctx, runner)
	if err != nil {
		return err
	}

	var mkfsCmds [][]string
	for _, fs := range orderedFilesystems(filesystems) {
		info, err := devices.Resolve(ctx, device.Target{
			Device: fs.Device,
			Label:  fs.Label,
			UUID:   fs.UUID,
		})
		if err != nil {
			return err
		}
		if info.FSType != fs.FSType {
			mkfsCmds = append(mkfsCmds, []string{"mkfs", "-t", fs.FSType, info.Device})
		}
	}

	if len(mkfsCmds) > 0 {
		if err := formatDevices(ctx, runner, confirmer, mkfsCmds); err != nil {
			return err
		}
	}
	if err := updateFstab(ctx, runner, confirmer, filesystems); err != nil {
		return err
	}
	return mountAll(ctx, runner, filesystems)
}

func formatDevices(ctx context.Context, runner hostexec.Runner, confirmer hostexec.Confirmer, cmds [][]string) error {
	log := zerolog.Ctx(ctx)

	lines := make([]string, 0, len(cmds))
	for _, argv := range cmds {
		lines = append(lines, strings.Join(argv, " "))
	}
	ok, err := confirmer.Confirm("The following mkfs commands will be executed:\n" + strings.Join(lines, "\n"))
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Msg("formatting declined, leaving filesystems as they are")
		return nil
	}
	for _, argv := range cmds {
		log.Info().Str("argv", strings.Join(argv, " ")).Msg("formatting filesystem")
		if _, err := runner.Run(ctx, hostexec.Cmd{Argv: argv, Sudo: true}); err != nil {
			return fmt.Errorf("failed to format: %w", err)
		}
	}
	return nil
}

func updateFstab(ctx context.Context, runner hostexec.Runner, confirmer hostexec.Confirmer, filesystems []config.Filesystem) error {
	path := hostexec.NewPath(runner, FstabPath)
	current, err := path.ReadText(ctx)
	if err != nil {
		return err
	}
	parsed, err := Parse(current)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", FstabPath, err)
	}

	content := Render(DesiredMounts(filesystems))
	if content == Render(parsed) {
		return nil
	}
	ok, err := confirmer.Confirm("\nThe following will be the new fstab:\n" + content)
	if err != nil {
		return err
	}
	if !ok {
		zerolog.Ctx(ctx).Warn().Msg("fstab update declined, keeping the current file")
		return nil
	}
	zerolog.Ctx(ctx).Info().Str("path", FstabPath).Msg("rewriting mount table")
	return path.WriteText(ctx, content)
}

// mountAll makes sure every configured mountpoint exists and is mounted.
// Entries without a mountpoint are declared only and skipped here.
func mountAll(ctx context.Context, runner hostexec.Runner, filesystems []config.Filesystem) error {
	for _, fs := range orderedFilesystems(filesystems) {
		if fs.Mountpoint == "" {
			continue
		}
		if err := hostexec.NewPath(runner, fs.Mountpoint).MkdirAll(ctx); err != nil {
			return err
		}
		_, err := runner.Run(ctx, hostexec.Cmd{
			Argv:    []string{"mount", fs.Mountpoint},
			Sudo:    true,
			OKCodes: []int{mountExitAlreadyMounted},
		})
		if err != nil {
			return fmt.Errorf("failed to mount %s: %w", fs.Mountpoint, err)
		}
	}
	return nil
}
