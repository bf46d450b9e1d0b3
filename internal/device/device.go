package device

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kisiac/kisiac/internal/hostexec"
)

// Info describes one node of the host's block device tree as lsblk
// reports it.
type Info struct {
	Device   string  `json:"device"`
	Type     string  `json:"type"`
	FSType   string  `json:"fstype,omitempty"`
	Label    string  `json:"label,omitempty"`
	UUID     string  `json:"uuid,omitempty"`
	Children []*Info `json:"children,omitempty"`
}

// withDevice returns a copy of the info registered under another path.
// The children stay shared with the original.
func (i *Info) withDevice(device string) *Info {
	alias := *i
	alias.Device = device
	return &alias
}

// Target selects a device by explicit path, filesystem label, or
// filesystem UUID. An explicit path wins over the other two, a label
// over a UUID.
type Target struct {
	Device string
	Label  string
	UUID   string
}

// Discovery is the device tree discovered on one host. Devices under
// /dev/mapper are additionally registered under their /dev/<vg>/<lv>
// style alias so that either spelling resolves.
type Discovery struct {
	runner hostexec.Runner
	roots  []*Info
	infos  []*Info
}

// Discover queries the full block device tree of the host.
func Discover(ctx context.Context, runner hostexec.Runner) (*Discovery, error) {
	d := &Discovery{runner: runner}
	if _, err := d.query(ctx, ""); err != nil {
		return nil, err
	}
	return d, nil
}

// All returns every discovered info, aliases included, in discovery order.
func (d *Discovery) All() []*Info {
	return d.infos
}

// Roots returns the top level devices.
func (d *Discovery) Roots() []*Info {
	return d.roots
}

// Resolve finds the device a target refers to.
func (d *Discovery) Resolve(ctx context.Context, target Target) (*Info, error) {
	if target.Device != "" {
		return d.InfoForDevice(ctx, target.Device)
	}
	for _, info := range d.infos {
		if target.Label != "" {
			if info.Label == target.Label {
				return info, nil
			}
		} else if target.UUID != "" {
			if info.UUID == target.UUID {
				return info, nil
			}
		}
	}
	return nil, fmt.Errorf("no device found for device=%s, label=%s, uuid=%s",
		target.Device, target.Label, target.UUID)
}

// InfoForDevice returns the info for an exact device path. Paths outside
// the discovered tree get a one-off narrowed lsblk query whose result is
// not retained, so a later call asks again.
func (d *Discovery) InfoForDevice(ctx context.Context, device string) (*Info, error) {
	for _, info := range d.infos {
		if info.Device == device {
			return info, nil
		}
	}
	return d.query(ctx, device)
}

// query runs lsblk, narrowed to one device when given. The full tree
// query registers every node; a narrowed query only returns its root.
func (d *Discovery) query(ctx context.Context, device string) (*Info, error) {
	argv := []string{"lsblk", "--json", "--paths", "--output", "NAME,FSTYPE,LABEL,UUID,TYPE"}
	hint := ""
	if device != "" {
		argv = append(argv, device)
		hint = "Typo in the device name?"
	}
	res, err := d.runner.Run(ctx, hostexec.Cmd{Argv: argv, Sudo: true, Hint: hint})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve device info: %w", err)
	}

	var report lsblkReport
	if err := json.Unmarshal([]byte(res.Stdout), &report); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	register := device == ""
	var last *Info
	for _, entry := range report.BlockDevices {
		last = d.addEntry(entry, register)
		if register {
			d.roots = append(d.roots, last)
		}
	}
	if !register && last == nil {
		return nil, fmt.Errorf("lsblk reported nothing for %s", device)
	}
	return last, nil
}

func (d *Discovery) addEntry(entry lsblkEntry, register bool) *Info {
	info := &Info{
		Device: entry.Name,
		Type:   entry.Type,
		FSType: entry.FSType,
		Label:  entry.Label,
		UUID:   entry.UUID,
	}
	if register {
		d.infos = append(d.infos, info)
	}
	for _, child := range entry.Children {
		info.Children = append(info.Children, d.addEntry(child, register))
	}
	// The alias is copied only once the subtree is complete so that it
	// carries the same children as the node it aliases.
	if register {
		if alias, ok := AliasPath(entry.Name); ok {
			d.infos = append(d.infos, info.withDevice(alias))
		}
	}
	return info
}

type lsblkReport struct {
	BlockDevices []lsblkEntry `json:"blockdevices"`
}

type lsblkEntry struct {
	Name     string       `json:"name"`
	FSType   string       `json:"fstype"`
	Label    string       `json:"label"`
	UUID     string       `json:"uuid"`
	Type     string       `json:"type"`
	Children []lsblkEntry `json:"children"`
}

var mapperHyphen = regexp.MustCompile(`[^-]-[^-]`)

// AliasPath returns the /dev/<vg>/<lv> style alias of a device-mapper
// path and reports whether the path was mapper-rooted at all. In mapper
// names the first single hyphen separates the VG from the LV and literal
// hyphens inside either name are doubled.
func AliasPath(path string) (string, bool) {
	rel, ok := strings.CutPrefix(path, "/dev/mapper/")
	if !ok || rel == "" {
		return path, false
	}
	if loc := mapperHyphen.FindStringIndex(rel); loc != nil {
		sep := loc[0] + strings.Index(rel[loc[0]:loc[1]], "-")
		rel = rel[:sep] + "/" + rel[sep+1:]
	}
	return "/dev/" + strings.ReplaceAll(rel, "--", "-"), true
}
