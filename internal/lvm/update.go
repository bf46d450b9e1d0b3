package lvm

import (
	"context"
	"fmt"
	"strings"

	"github.com/kisiac/kisiac/internal/hostexec"
	"github.com/rs/zerolog"
)

// Update brings the host's LVM state to the desired one. Only additive
// changes are performed: volumes are created, grown, extended and tagged,
// never shrunk or rebuilt. A volume whose layout no longer matches is
// left alone with a warning, since rebuilding it would destroy data.
func Update(ctx context.Context, runner hostexec.Runner, desired, actual *Setup) error {
	log := zerolog.Ctx(ctx)

	if len(actual.MissingPVs) > 0 {
		log.Warn().
			Strs("devices", actual.MissingPVs.Devices()).
			Msg("host reports missing physical volumes")
	}

	for _, device := range desired.PVs.Devices() {
		if actual.PVs.Has(PV{Device: device}) {
			continue
		}
		log.Info().Str("device", device).Msg("creating physical volume")
		if err := run(ctx, runner, "pvcreate", device); err != nil {
			return fmt.Errorf("failed to create PV %s: %w", device, err)
		}
	}

	for _, vg := range desired.OrderedVGs() {
		actualVG := actual.VGs[vg.Name]
		if err := updateVG(ctx, runner, vg, actualVG); err != nil {
			return err
		}
	}
	return nil
}

func updateVG(ctx context.Context, runner hostexec.Runner, vg, actualVG *VG) error {
	log := zerolog.Ctx(ctx)

	if actualVG == nil {
		devices := vg.AllPVs().Devices()
		log.Info().Str("vg", vg.Name).Strs("devices", devices).Msg("creating volume group")
		if err := run(ctx, runner, append([]string{"vgcreate", vg.Name}, devices...)...); err != nil {
			return fmt.Errorf("failed to create VG %s: %w", vg.Name, err)
		}
	} else {
		for _, device := range vg.AllPVs().Devices() {
			if actualVG.HasPV(PV{Device: device}) {
				continue
			}
			log.Info().Str("vg", vg.Name).Str("device", device).Msg("extending volume group")
			if err := run(ctx, runner, "vgextend", vg.Name, device); err != nil {
				return fmt.Errorf("failed to extend VG %s with %s: %w", vg.Name, device, err)
			}
		}
	}

	for _, tag := range sortedKeys(vg.PVs) {
		if tag == "" {
			continue
		}
		for _, device := range vg.PVs[tag].Devices() {
			if actualVG != nil && actualVG.PVs[tag].Has(PV{Device: device}) {
				continue
			}
			log.Info().Str("device", device).Str("tag", tag).Msg("tagging physical volume")
			if err := run(ctx, runner, "pvchange", "--addtag", tag, device); err != nil {
				return fmt.Errorf("failed to tag PV %s: %w", device, err)
			}
		}
	}

	for _, lv := range vg.OrderedLVs() {
		var actualLV *LV
		if actualVG != nil {
			actualLV = actualVG.LVs[lv.Name]
		}
		if err := updateLV(ctx, runner, vg, lv, actualLV); err != nil {
			return err
		}
	}
	return nil
}

func updateLV(ctx context.Context, runner hostexec.Runner, vg *VG, lv, actualLV *LV) error {
	log := zerolog.Ctx(ctx)

	if actualLV == nil {
		return createLV(ctx, runner, vg, lv)
	}
	if !lv.SameLayout(actualLV) {
		log.Warn().
			Str("lv", vg.LVDevice(lv.Name)).
			Str("want", lv.Layout.String()).
			Str("have", actualLV.Layout.String()).
			Msg("volume layout differs, refusing to rebuild an existing volume")
		return nil
	}
	if lv.SameSize(actualLV) {
		return nil
	}
	if !lv.FillsVG() && lv.Size < actualLV.Size {
		log.Warn().
			Str("lv", vg.LVDevice(lv.Name)).
			Int64("want_bytes", lv.Size).
			Int64("have_bytes", actualLV.Size).
			Msg("volume is larger than declared, refusing to shrink")
		return nil
	}
	log.Info().Str("lv", vg.LVDevice(lv.Name)).Msg("growing logical volume")
	argv := append([]string{"lvextend"}, lv.SizeArgs()...)
	argv = append(argv, vg.LVDevice(lv.Name))
	argv = append(argv, lv.SelectArgs()...)
	if err := run(ctx, runner, argv...); err != nil {
		return fmt.Errorf("failed to grow LV %s: %w", lv.Name, err)
	}
	return nil
}

func createLV(ctx context.Context, runner hostexec.Runner, vg *VG, lv *LV) error {
	argv := []string{"lvcreate"}
	target := vg.Name
	if lv.IsCache() {
		// A cache volume is created attached to its origin.
		target = vg.Name + "/" + lv.CacheFor
		argv = append(argv, lv.CacheArgs()...)
	} else {
		argv = append(argv, lv.TypeArgs()...)
	}
	argv = append(argv, lv.SizeArgs()...)
	argv = append(argv, lv.StripeArgs()...)
	argv = append(argv, "--name", lv.Name, target)
	argv = append(argv, lv.SelectArgs()...)

	zerolog.Ctx(ctx).Info().
		Str("lv", vg.LVDevice(lv.Name)).
		Str("argv", strings.Join(argv, " ")).
		Msg("creating logical volume")
	if err := run(ctx, runner, argv...); err != nil {
		return fmt.Errorf("failed to create LV %s: %w", lv.Name, err)
	}
	return nil
}

func run(ctx context.Context, runner hostexec.Runner, argv ...string) error {
	_, err := runner.Run(ctx, hostexec.Cmd{Argv: argv, Sudo: true})
	return err
}
