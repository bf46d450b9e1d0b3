package lvm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kisiac/kisiac/internal/config"
	"github.com/kisiac/kisiac/internal/hostexec"
)

// SetupFromConfig builds the desired LVM state. Regular volumes are built
// before cache volumes so that a cache_for reference can be checked
// against its origin.
func SetupFromConfig(cfg config.LVM) (*Setup, error) {
	setup := NewSetup()
	for _, device := range cfg.PVs {
		setup.PVs.Add(PV{Device: device})
	}
	for _, vgName := range sortedKeys(cfg.VGs) {
		vgCfg := cfg.VGs[vgName]
		vg := NewVG(vgName)
		for _, tag := range sortedKeys(vgCfg.PVs) {
			for _, device := range vgCfg.PVs[tag] {
				vg.addPV(tag, PV{Device: device})
			}
		}
		for _, pass := range []bool{false, true} {
			for _, lvName := range sortedKeys(vgCfg.LVs) {
				lvCfg := vgCfg.LVs[lvName]
				if (lvCfg.CacheFor != "") != pass {
					continue
				}
				if lvCfg.CacheFor != "" {
					// The origin must be a non-cache volume from the first
					// pass; the config entry is checked so the verdict
					// does not depend on name order.
					origin, ok := vgCfg.LVs[lvCfg.CacheFor]
					if !ok {
						return nil, fmt.Errorf("LV %s in VG %s caches unknown LV %s", lvName, vgName, lvCfg.CacheFor)
					}
					if origin.CacheFor != "" {
						return nil, fmt.Errorf("LV %s in VG %s caches %s, which is a cache itself", lvName, vgName, lvCfg.CacheFor)
					}
				}
				lv, err := lvFromConfig(lvName, lvCfg)
				if err != nil {
					return nil, err
				}
				vg.LVs[lvName] = lv
			}
		}
		setup.VGs[vgName] = vg
	}
	return setup, nil
}

func lvFromConfig(name string, cfg config.LV) (*LV, error) {
	size := SizeRest
	if cfg.Size != "rest" {
		parsed, err := humanize.ParseBytes(cfg.Size)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q for LV %s: %w", cfg.Size, name, err)
		}
		size = int64(parsed)
	}
	stripes := cfg.Stripes
	if stripes == 0 {
		stripes = 1
	}
	var stripeSize int64
	if cfg.StripeSize != "" {
		parsed, err := humanize.ParseBytes(cfg.StripeSize)
		if err != nil {
			return nil, fmt.Errorf("invalid stripe_size %q for LV %s: %w", cfg.StripeSize, name, err)
		}
		stripeSize = int64(parsed)
	}
	layout := ParseLayout(cfg.Layout)
	if cfg.CacheFor != "" {
		// Cache volumes carry no layout of their own.
		layout = Layout{}
	}
	return NewLV(LV{
		Name:       name,
		Layout:     layout,
		Size:       size,
		Stripes:    stripes,
		StripeSize: stripeSize,
		PVTag:      cfg.PVTag,
		CacheFor:   cfg.CacheFor,
		CacheMode:  cfg.CacheMode,
	})
}

// SetupFromSystem queries the host's actual LVM state. A host without the
// LVM tools has, by definition, no LVM state and yields an empty setup.
func SetupFromSystem(ctx context.Context, runner hostexec.Runner) (*Setup, error) {
	setup := NewSetup()
	if !runner.Exists(ctx, "pvcreate") {
		return setup, nil
	}

	lvRows, err := queryLVs(ctx, runner)
	if err != nil {
		return nil, err
	}
	vgNames, err := queryVGNames(ctx, runner)
	if err != nil {
		return nil, err
	}
	vgDevices, err := queryVGDevices(ctx, runner)
	if err != nil {
		return nil, err
	}
	pvRows, err := queryPVs(ctx, runner)
	if err != nil {
		return nil, err
	}

	for _, name := range vgNames {
		setup.VGs[name] = NewVG(name)
	}

	for _, row := range vgDevices {
		missing, err := MissingPVs(row.Devices)
		if err != nil {
			return nil, err
		}
		for _, pv := range missing {
			setup.MissingPVs.Add(pv)
		}
	}

	tagByLV := map[string]string{}
	for _, row := range pvRows {
		tag, err := singleTag(row.Name, row.Tags)
		if err != nil {
			return nil, err
		}
		pv := PV{Device: row.Name}
		setup.PVs.Add(pv)
		if vg, ok := setup.VGs[row.VGName]; ok {
			vg.addPV(tag, pv)
		}
		if row.LVName != "" {
			tagByLV[row.LVName] = tag
		}
	}

	for _, row := range lvRows {
		vg, ok := setup.VGs[row.VGName]
		if !ok {
			return nil, fmt.Errorf("lvs reported LV %s in unknown VG %s", row.Name, row.VGName)
		}
		// The reports carry no cache mode, so none is recorded even for
		// cache volumes.
		vg.LVs[row.Name] = &LV{
			Name:       row.Name,
			Layout:     ParseLayout(row.Layout),
			Size:       int64(row.Size),
			Stripes:    int(row.Stripes),
			StripeSize: int64(row.StripeSize),
			PVTag:      tagByLV[row.Name],
			CacheFor:   row.Origin,
		}
	}
	return setup, nil
}

// singleTag unwraps the pv_tags column. At most one tag per PV is
// supported.
func singleTag(device, tags string) (string, error) {
	var list []string
	for _, tag := range strings.Split(tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			list = append(list, tag)
		}
	}
	switch len(list) {
	case 0:
		return "", nil
	case 1:
		return list[0], nil
	default:
		return "", fmt.Errorf("unsupported number of tags associated with PV %s: %s. Only 1 or 0 allowed.", device, strings.Join(list, ","))
	}
}

var deviceReport = regexp.MustCompile(`^(.+)\((.+)\)$`)

// MissingPVs extracts the physically absent PVs from vgs device reports.
// Each report lists tokens of the form <device>(<info>), several per row
// when a volume spans devices. The info is either a starting extent or
// the word missing.
func MissingPVs(reports []string) ([]PV, error) {
	var missing []PV
	for _, report := range reports {
		for _, token := range strings.Split(report, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			m := deviceReport.FindStringSubmatch(token)
			if m == nil {
				return nil, fmt.Errorf("invalid device report: %s", token)
			}
			device, info := m[1], m[2]
			if info == "missing" {
				missing = append(missing, PV{Device: device})
				continue
			}
			if _, err := strconv.Atoi(info); err != nil {
				return nil, fmt.Errorf("unexpected device info for %s: %s", device, info)
			}
		}
	}
	return missing, nil
}

func queryLVs(ctx context.Context, runner hostexec.Runner) ([]lvRow, error) {
	var report lvsReport
	argv := []string{
		"lvs", "--units", "b",
		"-o", "lv_name,vg_name,lv_layout,lv_size,stripes,stripe_size,origin",
		"--reportformat", "json",
	}
	if err := queryReport(ctx, runner, argv, &report); err != nil {
		return nil, err
	}
	var rows []lvRow
	for _, r := range report.Report {
		rows = append(rows, r.LV...)
	}
	return rows, nil
}

func queryVGNames(ctx context.Context, runner hostexec.Runner) ([]string, error) {
	var report vgsReport
	argv := []string{"vgs", "-o", "vg_name", "--reportformat", "json"}
	if err := queryReport(ctx, runner, argv, &report); err != nil {
		return nil, err
	}
	var names []string
	for _, r := range report.Report {
		for _, row := range r.VG {
			names = append(names, row.Name)
		}
	}
	return names, nil
}

func queryVGDevices(ctx context.Context, runner hostexec.Runner) ([]vgRow, error) {
	var report vgsReport
	argv := []string{"vgs", "-o", "vg_name,devices", "--reportformat", "json"}
	if err := queryReport(ctx, runner, argv, &report); err != nil {
		return nil, err
	}
	// One row per volume segment; fold them into one entry per VG.
	rows := map[string]*vgRow{}
	var order []string
	for _, r := range report.Report {
		for _, row := range r.VG {
			merged, ok := rows[row.Name]
			if !ok {
				merged = &vgRow{Name: row.Name}
				rows[row.Name] = merged
				order = append(order, row.Name)
			}
			if row.Devices != "" {
				merged.Devices = append(merged.Devices, row.Devices)
			}
		}
	}
	var out []vgRow
	for _, name := range order {
		out = append(out, *rows[name])
	}
	return out, nil
}

func queryPVs(ctx context.Context, runner hostexec.Runner) ([]pvRow, error) {
	var report pvsReport
	argv := []string{"pvs", "-o", "pv_name,vg_name,lv_name,pv_tags", "--reportformat", "json"}
	if err := queryReport(ctx, runner, argv, &report); err != nil {
		return nil, err
	}
	var rows []pvRow
	for _, r := range report.Report {
		rows = append(rows, r.PV...)
	}
	return rows, nil
}

func queryReport(ctx context.Context, runner hostexec.Runner, argv []string, out any) error {
	res, err := runner.Run(ctx, hostexec.Cmd{Argv: argv, Sudo: true})
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", argv[0], err)
	}
	if err := json.Unmarshal([]byte(res.Stdout), out); err != nil {
		return fmt.Errorf("failed to parse %s report: %w", argv[0], err)
	}
	return nil
}

type lvsReport struct {
	Report []struct {
		LV []lvRow `json:"lv"`
	} `json:"report"`
}

type lvRow struct {
	Name       string    `json:"lv_name"`
	VGName     string    `json:"vg_name"`
	Layout     string    `json:"lv_layout"`
	Size       byteValue `json:"lv_size"`
	Stripes    intValue  `json:"stripes"`
	StripeSize byteValue `json:"stripe_size"`
	Origin     string    `json:"origin"`
}

type vgsReport struct {
	Report []struct {
		VG []struct {
			Name    string `json:"vg_name"`
			Devices string `json:"devices"`
		} `json:"vg"`
	} `json:"report"`
}

type vgRow struct {
	Name    string
	Devices []string
}

type pvsReport struct {
	Report []struct {
		PV []pvRow `json:"pv"`
	} `json:"report"`
}

type pvRow struct {
	Name   string `json:"pv_name"`
	VGName string `json:"vg_name"`
	LVName string `json:"lv_name"`
	Tags   string `json:"pv_tags"`
}

// intValue decodes the quoted integers lvm reports emit.
type intValue int

func (v *intValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*v = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q in report: %w", s, err)
	}
	*v = intValue(n)
	return nil
}

// byteValue decodes quoted byte counts such as "1073741824B".
type byteValue int64

func (v *byteValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid byte count %q in report: %w", s, err)
	}
	*v = byteValue(n)
	return nil
}
