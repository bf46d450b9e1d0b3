package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kisiac/kisiac/internal/crypt"
	"github.com/kisiac/kisiac/internal/device"
	"github.com/kisiac/kisiac/internal/hostexec"
	"github.com/kisiac/kisiac/internal/lvm"
	"github.com/spf13/cobra"
)

// HostStatus is the status output: the device tree, the LVM state and
// the LUKS mappings as the host reports them.
type HostStatus struct {
	Devices      []*device.Info `json:"devices"`
	VolumeGroups []VGStatus     `json:"volume_groups"`
	MissingPVs   []string       `json:"missing_pvs,omitempty"`
	Encryption   []CryptStatus  `json:"encryption,omitempty"`
}

// VGStatus is one volume group and its volumes.
type VGStatus struct {
	Name string     `json:"name"`
	PVs  []string   `json:"pvs"`
	LVs  []LVStatus `json:"lvs"`
}

// LVStatus is one logical volume.
type LVStatus struct {
	Name     string `json:"name"`
	Layout   string `json:"layout,omitempty"`
	Size     string `json:"size"`
	Stripes  int    `json:"stripes,omitempty"`
	CacheFor string `json:"cache_for,omitempty"`
}

// CryptStatus is one LUKS mapping.
type CryptStatus struct {
	Name    string `json:"name"`
	Device  string `json:"device"`
	Cipher  string `json:"cipher"`
	Hash    string `json:"hash"`
	KeySize int    `json:"key_size"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the host's devices, volumes and LUKS mappings",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()
	runner := hostexec.NewSystem(host)

	devices, err := device.Discover(ctx, runner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering devices: %v\n", err)
		os.Exit(1)
	}
	setup, err := lvm.SetupFromSystem(ctx, runner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading LVM state: %v\n", err)
		os.Exit(1)
	}
	mappings, err := crypt.SetupFromSystem(ctx, runner, devices)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading LUKS state: %v\n", err)
		os.Exit(1)
	}

	status := buildStatus(devices, setup, mappings)
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(status)
		return
	}
	printStatus(status)
}

func buildStatus(devices *device.Discovery, setup *lvm.Setup, mappings *crypt.Setup) HostStatus {
	status := HostStatus{Devices: devices.Roots()}

	for _, vg := range setup.OrderedVGs() {
		vgStatus := VGStatus{Name: vg.Name, PVs: vg.AllPVs().Devices()}
		for _, lv := range vg.OrderedLVs() {
			size := "rest"
			if !lv.FillsVG() {
				size = humanize.IBytes(uint64(lv.Size))
			}
			vgStatus.LVs = append(vgStatus.LVs, LVStatus{
				Name:     lv.Name,
				Layout:   lv.Layout.String(),
				Size:     size,
				Stripes:  lv.Stripes,
				CacheFor: lv.CacheFor,
			})
		}
		status.VolumeGroups = append(status.VolumeGroups, vgStatus)
	}
	status.MissingPVs = setup.MissingPVs.Devices()

	names := make([]string, 0, len(mappings.Encryptions))
	for name := range mappings.Encryptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		enc := mappings.Encryptions[name]
		status.Encryption = append(status.Encryption, CryptStatus{
			Name:    name,
			Device:  enc.Device,
			Cipher:  enc.Cipher,
			Hash:    enc.Hash,
			KeySize: enc.KeySize,
		})
	}
	return status
}

func printStatus(status HostStatus) {
	fmt.Printf("%-30s %-6s %-10s %-14s %s\n", "DEVICE", "TYPE", "FSTYPE", "LABEL", "UUID")
	fmt.Println(strings.Repeat("-", 80))
	for _, root := range status.Devices {
		printDevice(root, 0)
	}

	for _, vg := range status.VolumeGroups {
		fmt.Printf("\nVG %s on %s\n", vg.Name, strings.Join(vg.PVs, " "))
		fmt.Printf("  %-16s %-14s %-10s %-8s %s\n", "LV", "LAYOUT", "SIZE", "STRIPES", "CACHES")
		for _, lv := range vg.LVs {
			stripes := "-"
			if lv.Stripes > 1 {
				stripes = fmt.Sprint(lv.Stripes)
			}
			fmt.Printf("  %-16s %-14s %-10s %-8s %s\n", lv.Name, lv.Layout, lv.Size, stripes, lv.CacheFor)
		}
	}
	if len(status.MissingPVs) > 0 {
		fmt.Printf("\nMissing PVs: %s\n", strings.Join(status.MissingPVs, " "))
	}

	if len(status.Encryption) > 0 {
		fmt.Printf("\n%-16s %-26s %-20s %-10s %s\n", "LUKS", "DEVICE", "CIPHER", "HASH", "KEY")
		for _, enc := range status.Encryption {
			fmt.Printf("%-16s %-26s %-20s %-10s %d bits\n", enc.Name, enc.Device, enc.Cipher, enc.Hash, enc.KeySize)
		}
	}
}

func printDevice(info *device.Info, depth int) {
	name := strings.Repeat("  ", depth) + info.Device
	fmt.Printf("%-30s %-6s %-10s %-14s %s\n", name, info.Type, info.FSType, info.Label, info.UUID)
	for _, child := range info.Children {
		printDevice(child, depth+1)
	}
}
