package lvm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SizeRest marks a logical volume that fills the remaining free space of
// its volume group.
const SizeRest int64 = -1

// sizeSlack buckets byte sizes for comparison. Extent rounding makes the
// reported size of an LV drift from the requested one by less than this.
const sizeSlack = 10_000_000

// Layout is the set of layout tags attached to a logical volume, as in
// the lv_layout report column.
type Layout map[string]struct{}

// ParseLayout splits a comma separated layout list. An empty string is an
// empty set.
func ParseLayout(s string) Layout {
	layout := Layout{}
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			layout[tag] = struct{}{}
		}
	}
	return layout
}

func (l Layout) Empty() bool {
	return len(l) == 0
}

func (l Layout) SubsetOf(other Layout) bool {
	for tag := range l {
		if _, ok := other[tag]; !ok {
			return false
		}
	}
	return true
}

func (l Layout) String() string {
	tags := make([]string, 0, len(l))
	for tag := range l {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}

// PV is a physical volume. Two PVs are the same volume exactly when their
// device paths match.
type PV struct {
	Device string
}

// PVSet is a set of physical volumes.
type PVSet map[PV]struct{}

func NewPVSet(pvs ...PV) PVSet {
	set := PVSet{}
	for _, pv := range pvs {
		set.Add(pv)
	}
	return set
}

func (s PVSet) Add(pv PV) {
	s[pv] = struct{}{}
}

func (s PVSet) Has(pv PV) bool {
	_, ok := s[pv]
	return ok
}

// Devices returns the member device paths in sorted order.
func (s PVSet) Devices() []string {
	devices := make([]string, 0, len(s))
	for pv := range s {
		devices = append(devices, pv.Device)
	}
	sort.Strings(devices)
	return devices
}

// LV is one logical volume, either desired or as reported by the host.
type LV struct {
	Name       string
	Layout     Layout
	Size       int64
	Stripes    int
	StripeSize int64
	// PVTag restricts allocation to PVs carrying the tag.
	PVTag string
	// CacheFor names the origin LV this volume caches. Empty for
	// regular volumes.
	CacheFor  string
	CacheMode string
}

// NewLV validates a volume declared in configuration.
func NewLV(lv LV) (*LV, error) {
	if lv.CacheFor != "" && lv.CacheMode == "" {
		return nil, fmt.Errorf("LV %s defined as cache but no cache_mode defined. Define either writethrough or writeback.", lv.Name)
	}
	return &lv, nil
}

func (lv *LV) IsCache() bool {
	return lv.CacheFor != ""
}

// FillsVG reports whether the volume takes all remaining space.
func (lv *LV) FillsVG() bool {
	return lv.Size == SizeRest
}

// SameLayout reports whether other satisfies the layout of lv. The test
// accepts a subset in either direction, but stripe settings only count in
// the second one. Cache volumes declare no layout of their own and so
// match whatever the host reports for them.
func (lv *LV) SameLayout(other *LV) bool {
	if lv.Layout.SubsetOf(other.Layout) {
		return true
	}
	return other.Layout.SubsetOf(lv.Layout) &&
		lv.Stripes == other.Stripes &&
		lv.StripeSize == other.StripeSize
}

// SameSize reports whether the sizes agree within extent rounding. A
// volume that fills the VG only equals another one that does too.
func (lv *LV) SameSize(other *LV) bool {
	if lv.FillsVG() || other.FillsVG() {
		return lv.FillsVG() && other.FillsVG()
	}
	return lv.Size/sizeSlack == other.Size/sizeSlack
}

// SizeArgs returns the lvcreate or lvextend size arguments.
func (lv *LV) SizeArgs() []string {
	if lv.FillsVG() {
		return []string{"--extents", "+100%FREE"}
	}
	return []string{"--size", strconv.FormatInt(lv.Size, 10) + "B"}
}

// StripeArgs returns the striping arguments, empty for unstriped volumes.
func (lv *LV) StripeArgs() []string {
	if lv.Stripes <= 1 {
		return nil
	}
	return []string{
		"--stripes", strconv.Itoa(lv.Stripes),
		"--stripesize", strconv.FormatInt(lv.StripeSize, 10) + "B",
	}
}

// SelectArgs returns the PV selection argument for tagged placement.
func (lv *LV) SelectArgs() []string {
	if lv.PVTag == "" {
		return nil
	}
	return []string{"@" + lv.PVTag}
}

// TypeArgs returns the volume type argument derived from the layout,
// empty when no layout is declared.
func (lv *LV) TypeArgs() []string {
	if lv.Layout.Empty() {
		return nil
	}
	return []string{"--type", lv.Layout.String()}
}

// CacheArgs returns the cache attachment arguments of a cache volume.
func (lv *LV) CacheArgs() []string {
	if !lv.IsCache() {
		return nil
	}
	return []string{"--type", "cache", "--cachemode", lv.CacheMode}
}

// VG is a volume group with its physical volumes grouped by placement tag
// and its logical volumes by name. The empty tag holds untagged PVs.
type VG struct {
	Name string
	PVs  map[string]PVSet
	LVs  map[string]*LV
}

func NewVG(name string) *VG {
	return &VG{
		Name: name,
		PVs:  map[string]PVSet{},
		LVs:  map[string]*LV{},
	}
}

func (vg *VG) addPV(tag string, pv PV) {
	if vg.PVs[tag] == nil {
		vg.PVs[tag] = PVSet{}
	}
	vg.PVs[tag].Add(pv)
}

// HasPV reports whether the PV belongs to the group under any tag.
func (vg *VG) HasPV(pv PV) bool {
	for _, set := range vg.PVs {
		if set.Has(pv) {
			return true
		}
	}
	return false
}

// AllPVs returns the group's PVs across all tags.
func (vg *VG) AllPVs() PVSet {
	all := PVSet{}
	for _, set := range vg.PVs {
		for pv := range set {
			all.Add(pv)
		}
	}
	return all
}

// LVDevice returns the device path of a member volume.
func (vg *VG) LVDevice(name string) string {
	return fmt.Sprintf("/dev/%s/%s", vg.Name, name)
}

// OrderedLVs returns the volumes in creation order: fixed-size volumes
// first, then volumes that fill the remaining space, then cache volumes,
// each group sorted by name. A volume claiming 100% of the free extents
// must not be created before its fixed-size siblings, and a cache volume
// relies on its origin existing.
func (vg *VG) OrderedLVs() []*LV {
	var fixed, fills, caches []*LV
	for _, name := range sortedKeys(vg.LVs) {
		lv := vg.LVs[name]
		switch {
		case lv.IsCache():
			caches = append(caches, lv)
		case lv.FillsVG():
			fills = append(fills, lv)
		default:
			fixed = append(fixed, lv)
		}
	}
	ordered := append(fixed, fills...)
	return append(ordered, caches...)
}

// Setup is the complete LVM state of one host, desired or actual.
type Setup struct {
	PVs PVSet
	VGs map[string]*VG
	// MissingPVs holds PVs a VG references but the host no longer has.
	MissingPVs PVSet
}

func NewSetup() *Setup {
	return &Setup{
		PVs:        PVSet{},
		VGs:        map[string]*VG{},
		MissingPVs: PVSet{},
	}
}

func (s *Setup) Empty() bool {
	return len(s.PVs) == 0 && len(s.VGs) == 0
}

// OrderedVGs returns the volume groups sorted by name.
func (s *Setup) OrderedVGs() []*VG {
	vgs := make([]*VG, 0, len(s.VGs))
	for _, name := range sortedKeys(s.VGs) {
		vgs = append(vgs, s.VGs[name])
	}
	return vgs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
