package crypt

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"

	"github.com/kisiac/kisiac/internal/config"
	"github.com/kisiac/kisiac/internal/device"
	"github.com/kisiac/kisiac/internal/hostexec"
)

// Encryption describes one LUKS mapping: the backing device and the
// cipher parameters it was formatted with. KeySize is in bits, the unit
// cryptsetup takes on the command line.
type Encryption struct {
	Name    string
	Device  string
	Hash    string
	Cipher  string
	KeySize int
}

// Setup is the set of LUKS mappings of a host, keyed by mapping name.
type Setup struct {
	Encryptions map[string]Encryption
}

func NewSetup() *Setup {
	return &Setup{Encryptions: map[string]Encryption{}}
}

// SetupFromConfig builds the declared mappings. Required keys were
// already checked when the configuration was loaded.
func SetupFromConfig(cfg map[string]config.Encryption) *Setup {
	setup := NewSetup()
	for name, enc := range cfg {
		setup.Encryptions[name] = Encryption{
			Name:    name,
			Device:  enc.Device,
			Hash:    enc.Hash,
			Cipher:  enc.Cipher,
			KeySize: enc.KeySize,
		}
	}
	return setup
}

// SetupFromSystem collects the opened LUKS mappings of the host. Every
// LUKS formatted device is expected to be held by exactly one mapping.
func SetupFromSystem(ctx context.Context, runner hostexec.Runner, devices *device.Discovery) (*Setup, error) {
	setup := NewSetup()
	for _, info := range devices.All() {
		if info.FSType != "crypto_LUKS" {
			continue
		}
		if len(info.Children) != 1 {
			return nil, fmt.Errorf("LUKS device %s has %d holders, expected exactly one", info.Device, len(info.Children))
		}
		name := path.Base(info.Children[0].Device)
		if _, ok := setup.Encryptions[name]; ok {
			// Mapper aliases repeat the node they alias.
			continue
		}
		enc, err := dumpDevice(ctx, runner, info.Device)
		if err != nil {
			return nil, err
		}
		enc.Name = name
		setup.Encryptions[name] = enc
	}
	return setup, nil
}

func dumpDevice(ctx context.Context, runner hostexec.Runner, dev string) (Encryption, error) {
	res, err := runner.Run(ctx, hostexec.Cmd{
		Argv: []string{"cryptsetup", "luksDump", "--dump-json-metadata", dev},
		Sudo: true,
	})
	if err != nil {
		return Encryption{}, fmt.Errorf("failed to dump LUKS header of %s: %w", dev, err)
	}
	var dump luksDump
	if err := json.Unmarshal([]byte(res.Stdout), &dump); err != nil {
		return Encryption{}, fmt.Errorf("failed to parse LUKS header of %s: %w", dev, err)
	}
	slot, ok := dump.Keyslots["0"]
	if !ok {
		return Encryption{}, fmt.Errorf("LUKS device %s reports no keyslot 0", dev)
	}
	return Encryption{
		Device: dev,
		Hash:   slot.AF.Hash,
		Cipher: slot.Area.Encryption,
		// The header counts the key in bytes.
		KeySize: slot.Area.KeySize * 8,
	}, nil
}

type luksDump struct {
	Keyslots map[string]struct {
		AF struct {
			Hash string `json:"hash"`
		} `json:"af"`
		Area struct {
			Encryption string `json:"encryption"`
			KeySize    int    `json:"key_size"`
		} `json:"area"`
	} `json:"keyslots"`
}

// Mismatch is one difference between the declared and the found LUKS
// state. Reformatting an encrypted device destroys it, so differences
// are reported, never acted on.
type Mismatch struct {
	Name   string
	Reason string
}

// Compare reports declared mappings the host is missing or carries with
// other parameters, sorted by name.
func Compare(desired, actual *Setup) []Mismatch {
	names := make([]string, 0, len(desired.Encryptions))
	for name := range desired.Encryptions {
		names = append(names, name)
	}
	sort.Strings(names)

	var mismatches []Mismatch
	for _, name := range names {
		want := desired.Encryptions[name]
		have, ok := actual.Encryptions[name]
		if !ok {
			mismatches = append(mismatches, Mismatch{Name: name, Reason: "not set up on the host"})
			continue
		}
		for _, diff := range []struct {
			field string
			want  string
			have  string
		}{
			{"device", want.Device, have.Device},
			{"hash", want.Hash, have.Hash},
			{"cipher", want.Cipher, have.Cipher},
			{"key_size", fmt.Sprint(want.KeySize), fmt.Sprint(have.KeySize)},
		} {
			if diff.want != diff.have {
				mismatches = append(mismatches, Mismatch{
					Name:   name,
					Reason: fmt.Sprintf("%s is %s, configured %s", diff.field, diff.have, diff.want),
				})
			}
		}
	}
	return mismatches
}
