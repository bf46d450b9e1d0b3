package filesystem

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deniswernert/go-fstab"
	"github.com/kisiac/kisiac/internal/config"
)

// FstabPath is where the persistent mount table lives.
const FstabPath = "/etc/fstab"

// specFor returns the fstab spec of a filesystem, preserving how the
// configuration selects its device.
func specFor(fs config.Filesystem) string {
	switch {
	case fs.Device != "":
		return fs.Device
	case fs.Label != "":
		return "LABEL=" + fs.Label
	default:
		return "UUID=" + fs.UUID
	}
}

// mountFor builds the fstab entry of one configured filesystem. Without a
// mountpoint the entry is still declared, with none as its file.
func mountFor(fs config.Filesystem) *fstab.Mount {
	file := fs.Mountpoint
	if file == "" {
		file = "none"
	}
	return &fstab.Mount{
		Spec:    specFor(fs),
		File:    file,
		VfsType: fs.FSType,
		MntOps:  parseOptions(fs.Options),
	}
}

func parseOptions(options string) map[string]string {
	ops := map[string]string{}
	for _, op := range strings.Split(options, ",") {
		op = strings.TrimSpace(op)
		if op == "" {
			continue
		}
		key, value, _ := strings.Cut(op, "=")
		ops[key] = value
	}
	if len(ops) == 0 {
		ops["defaults"] = ""
	}
	return ops
}

func opsString(ops map[string]string) string {
	if len(ops) == 0 {
		return "defaults"
	}
	keys := make([]string, 0, len(ops))
	for key := range ops {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if value := ops[key]; value != "" {
			parts = append(parts, key+"="+value)
		} else {
			parts = append(parts, key)
		}
	}
	return strings.Join(parts, ",")
}

// Render serializes mounts canonically: tab separated fields, sorted
// mount options. Running the current file and the desired entries through
// the same renderer makes the comparison blind to formatting drift and
// comments.
func Render(mounts fstab.Mounts) string {
	if len(mounts) == 0 {
		return ""
	}
	lines := make([]string, 0, len(mounts))
	for _, m := range mounts {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s\t%s\t%d\t%d",
			m.Spec, m.File, m.VfsType, opsString(m.MntOps), m.Freq, m.PassNo))
	}
	return strings.Join(lines, "\n") + "\n"
}

// Parse reads fstab content, skipping comments and blank lines.
func Parse(content string) (fstab.Mounts, error) {
	var mounts fstab.Mounts
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		mount, err := fstab.ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("invalid fstab line %q: %w", line, err)
		}
		mounts = append(mounts, mount)
	}
	return mounts, nil
}

// DesiredMounts returns the configured filesystems as fstab entries in
// canonical order.
func DesiredMounts(filesystems []config.Filesystem) fstab.Mounts {
	ordered := orderedFilesystems(filesystems)
	mounts := make(fstab.Mounts, 0, len(ordered))
	for _, fs := range ordered {
		mounts = append(mounts, mountFor(fs))
	}
	return mounts
}

// orderedFilesystems sorts entries by spec, then mountpoint, so every run
// and every host produces the same file.
func orderedFilesystems(filesystems []config.Filesystem) []config.Filesystem {
	ordered := append([]config.Filesystem(nil), filesystems...)
	sort.Slice(ordered, func(i, j int) bool {
		if specFor(ordered[i]) != specFor(ordered[j]) {
			return specFor(ordered[i]) < specFor(ordered[j])
		}
		return ordered[i].Mountpoint < ordered[j].Mountpoint
	})
	return ordered
}
