package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the desired storage state of one host.
type Config struct {
	LVM         LVM                    `yaml:"lvm"`
	Filesystems []Filesystem           `yaml:"filesystems"`
	Encryption  map[string]Encryption  `yaml:"encryption"`
	Permissions map[string]Permissions `yaml:"permissions"`
}

// LVM declares the physical volumes and volume groups a host should carry.
type LVM struct {
	PVs []string      `yaml:"pvs"`
	VGs map[string]VG `yaml:"vgs"`
}

// VG groups physical volumes by placement tag and names the logical
// volumes carved out of them. The empty tag holds untagged PVs.
type VG struct {
	PVs map[string][]string `yaml:"pvs"`
	LVs map[string]LV       `yaml:"lvs"`
}

// LV declares one logical volume. Size is a human readable byte count
// such as "100 GiB", or "rest" to fill whatever the VG has left.
type LV struct {
	Size       string `yaml:"size"`
	Layout     string `yaml:"layout"`
	Stripes    int    `yaml:"stripes"`
	StripeSize string `yaml:"stripe_size"`
	PVTag      string `yaml:"pv_tag"`
	CacheFor   string `yaml:"cache_for"`
	CacheMode  string `yaml:"cache_mode"`
}

// Filesystem declares a formatted filesystem and, optionally, where it is
// mounted. The device is selected by path, label, or UUID.
type Filesystem struct {
	Device     string `yaml:"device"`
	Label      string `yaml:"label"`
	UUID       string `yaml:"uuid"`
	FSType     string `yaml:"fs_type"`
	Mountpoint string `yaml:"mountpoint"`
	Options    string `yaml:"options"`
}

// Ident describes the entry in error messages.
func (f Filesystem) Ident() string {
	return fmt.Sprintf("device=%s, label=%s, uuid=%s", f.Device, f.Label, f.UUID)
}

// Encryption declares one LUKS mapping keyed by its mapper name.
type Encryption struct {
	Device  string `yaml:"device"`
	Hash    string `yaml:"hash"`
	Cipher  string `yaml:"cipher"`
	KeySize int    `yaml:"key_size"`
}

// Permissions declares ownership and access for one path. Read, Write and
// Execute name the widest user set granted the bit: owner, group, others,
// or nobody.
type Permissions struct {
	Owner   string `yaml:"owner"`
	Group   string `yaml:"group"`
	Read    string `yaml:"read"`
	Write   string `yaml:"write"`
	Execute string `yaml:"execute"`
	SetUID  bool   `yaml:"setuid"`
	SetGID  bool   `yaml:"setgid"`
	Sticky  bool   `yaml:"sticky"`
}

// Load reads and validates the configuration. With an empty path the
// usual locations are tried in order.
func Load(path string) (*Config, error) {
	if path == "" {
		candidates := []string{
			"/etc/kisiac/config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/kisiac/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
		if path == "" {
			return nil, fmt.Errorf("no configuration file found")
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates configuration data. Unknown keys are
// rejected so typos surface instead of silently doing nothing.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for vgName, vg := range c.LVM.VGs {
		for lvName, lv := range vg.LVs {
			if lv.Size == "" {
				return fmt.Errorf("missing required key 'size' in LV %s/%s", vgName, lvName)
			}
		}
	}
	for _, fs := range c.Filesystems {
		if fs.Device == "" && fs.Label == "" && fs.UUID == "" {
			return fmt.Errorf("filesystem entry needs one of device, label or uuid")
		}
		if fs.FSType == "" {
			return fmt.Errorf("missing required key 'fs_type' in filesystem with %s", fs.Ident())
		}
	}
	for name, enc := range c.Encryption {
		for key, value := range map[string]string{
			"device": enc.Device,
			"hash":   enc.Hash,
			"cipher": enc.Cipher,
		} {
			if value == "" {
				return fmt.Errorf("missing required key '%s' in encryption '%s'", key, name)
			}
		}
		if enc.KeySize == 0 {
			return fmt.Errorf("missing required key 'key_size' in encryption '%s'", name)
		}
	}
	for path, perms := range c.Permissions {
		for key, value := range map[string]string{
			"read":    perms.Read,
			"write":   perms.Write,
			"execute": perms.Execute,
		} {
			switch value {
			case "", "owner", "group", "others", "nobody":
			default:
				return fmt.Errorf("invalid user set %q for '%s' in permissions '%s'", value, key, path)
			}
		}
	}
	return nil
}
