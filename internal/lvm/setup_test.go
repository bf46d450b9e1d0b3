package lvm

import (
	"context"
	"strings"
	"testing"

	"github.com/kisiac/kisiac/internal/config"
	"github.com/kisiac/kisiac/internal/hostexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	results map[string]hostexec.Result
	hasLVM  bool
	calls   [][]string
}

func (f *fakeRunner) Run(_ context.Context, cmd hostexec.Cmd) (hostexec.Result, error) {
	f.calls = append(f.calls, cmd.Argv)
	res := f.results[strings.Join(cmd.Argv, " ")]
	if res.ExitCode != 0 {
		return res, &hostexec.ExitError{Argv: cmd.Argv, Result: res, Hint: cmd.Hint}
	}
	return res, nil
}

func (f *fakeRunner) Exists(_ context.Context, name string) bool {
	return f.hasLVM
}

func testLVMConfig(t *testing.T) config.LVM {
	t.Helper()
	cfg, err := config.Parse([]byte(`
lvm:
  pvs:
    - /dev/sdb
    - /dev/sdc
  vgs:
    vg0:
      pvs:
        "": [/dev/sdb]
        fast: [/dev/sdc]
      lvs:
        data:
          size: 100 GiB
          layout: raid1
        scratch:
          size: rest
        cache0:
          size: 10 GiB
          cache_for: data
          cache_mode: writeback
          pv_tag: fast
`))
	require.NoError(t, err)
	return cfg.LVM
}

func TestSetupFromConfig(t *testing.T) {
	t.Parallel()

	setup, err := SetupFromConfig(testLVMConfig(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"/dev/sdb", "/dev/sdc"}, setup.PVs.Devices())
	assert.False(t, setup.Empty())

	vg := setup.VGs["vg0"]
	require.NotNil(t, vg)
	assert.Equal(t, []string{"/dev/sdb"}, vg.PVs[""].Devices())
	assert.Equal(t, []string{"/dev/sdc"}, vg.PVs["fast"].Devices())
	assert.True(t, vg.HasPV(PV{Device: "/dev/sdc"}))

	data := vg.LVs["data"]
	require.NotNil(t, data)
	assert.Equal(t, int64(107374182400), data.Size)
	assert.Equal(t, "raid1", data.Layout.String())
	assert.Equal(t, 1, data.Stripes)
	assert.False(t, data.IsCache())

	scratch := vg.LVs["scratch"]
	require.NotNil(t, scratch)
	assert.True(t, scratch.FillsVG())

	cache := vg.LVs["cache0"]
	require.NotNil(t, cache)
	assert.Equal(t, "data", cache.CacheFor)
	assert.Equal(t, "writeback", cache.CacheMode)
	assert.Equal(t, "fast", cache.PVTag)
	assert.True(t, cache.Layout.Empty())
}

func TestSetupFromConfigDanglingCache(t *testing.T) {
	t.Parallel()

	_, err := SetupFromConfig(config.LVM{
		VGs: map[string]config.VG{
			"vg0": {LVs: map[string]config.LV{
				"cache0": {Size: "1 GiB", CacheFor: "nope", CacheMode: "writeback"},
			}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LV cache0 in VG vg0 caches unknown LV nope")
}

func TestSetupFromConfigCacheOfCache(t *testing.T) {
	t.Parallel()

	// Chained caches are rejected whether the outer cache sorts before
	// or after the one it references.
	for _, name := range []string{"acache", "cache1"} {
		_, err := SetupFromConfig(config.LVM{
			VGs: map[string]config.VG{
				"vg0": {LVs: map[string]config.LV{
					"data":   {Size: "1 GiB"},
					"cache0": {Size: "1 GiB", CacheFor: "data", CacheMode: "writeback"},
					name:     {Size: "1 GiB", CacheFor: "cache0", CacheMode: "writeback"},
				}},
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "caches cache0, which is a cache itself")
	}
}

func TestSetupFromConfigCacheWithoutMode(t *testing.T) {
	t.Parallel()

	_, err := SetupFromConfig(config.LVM{
		VGs: map[string]config.VG{
			"vg0": {LVs: map[string]config.LV{
				"data":   {Size: "1 GiB"},
				"cache0": {Size: "1 GiB", CacheFor: "data"},
			}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined as cache but no cache_mode defined")
}

func TestSetupFromConfigBadSize(t *testing.T) {
	t.Parallel()

	_, err := SetupFromConfig(config.LVM{
		VGs: map[string]config.VG{
			"vg0": {LVs: map[string]config.LV{"data": {Size: "plenty"}}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid size "plenty" for LV data`)
}

func TestMissingPVs(t *testing.T) {
	t.Parallel()

	missing, err := MissingPVs([]string{"/dev/sda1(0)", "/dev/sdb1(0),/dev/sdc1(missing)"})
	require.NoError(t, err)
	assert.Equal(t, []PV{{Device: "/dev/sdc1"}}, missing)

	missing, err = MissingPVs(nil)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = MissingPVs([]string{"corrupt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid device report: corrupt")

	_, err = MissingPVs([]string{"/dev/sda1(wat)"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected device info for /dev/sda1: wat")
}

const (
	lvsQuery       = "lvs --units b -o lv_name,vg_name,lv_layout,lv_size,stripes,stripe_size,origin --reportformat json"
	vgsNameQuery   = "vgs -o vg_name --reportformat json"
	vgsDeviceQuery = "vgs -o vg_name,devices --reportformat json"
	pvsQuery       = "pvs -o pv_name,vg_name,lv_name,pv_tags --reportformat json"
)

func systemReports() map[string]hostexec.Result {
	return map[string]hostexec.Result{
		lvsQuery: {Stdout: `{"report":[{"lv":[
			{"lv_name":"data","vg_name":"vg0","lv_layout":"raid,raid1","lv_size":"107374182400B","stripes":"2","stripe_size":"65536B","origin":""},
			{"lv_name":"cache0","vg_name":"vg0","lv_layout":"cache","lv_size":"10737418240B","stripes":"1","stripe_size":"0B","origin":"data"}
		]}]}`},
		vgsNameQuery: {Stdout: `{"report":[{"vg":[{"vg_name":"vg0"}]}]}`},
		vgsDeviceQuery: {Stdout: `{"report":[{"vg":[
			{"vg_name":"vg0","devices":"/dev/sdb1(0)"},
			{"vg_name":"vg0","devices":"/dev/sdc1(0),/dev/sdd1(missing)"}
		]}]}`},
		pvsQuery: {Stdout: `{"report":[{"pv":[
			{"pv_name":"/dev/sdb1","vg_name":"vg0","lv_name":"data","pv_tags":""},
			{"pv_name":"/dev/sdc1","vg_name":"vg0","lv_name":"cache0","pv_tags":"fast"},
			{"pv_name":"/dev/sde1","vg_name":"","lv_name":"","pv_tags":""}
		]}]}`},
	}
}

func TestSetupFromSystem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	runner := &fakeRunner{results: systemReports(), hasLVM: true}
	setup, err := SetupFromSystem(ctx, runner)
	require.NoError(t, err)

	assert.Equal(t, []string{"/dev/sdb1", "/dev/sdc1", "/dev/sde1"}, setup.PVs.Devices())
	assert.Equal(t, []string{"/dev/sdd1"}, setup.MissingPVs.Devices())

	vg := setup.VGs["vg0"]
	require.NotNil(t, vg)
	assert.Equal(t, []string{"/dev/sdb1"}, vg.PVs[""].Devices())
	assert.Equal(t, []string{"/dev/sdc1"}, vg.PVs["fast"].Devices())

	data := vg.LVs["data"]
	require.NotNil(t, data)
	assert.Equal(t, int64(107374182400), data.Size)
	assert.Equal(t, 2, data.Stripes)
	assert.Equal(t, int64(65536), data.StripeSize)
	assert.Equal(t, "raid,raid1", data.Layout.String())
	assert.False(t, data.IsCache())

	// The reported origin makes cache0 a cache volume even though the
	// report has no cache mode column.
	cache := vg.LVs["cache0"]
	require.NotNil(t, cache)
	assert.True(t, cache.IsCache())
	assert.Equal(t, "data", cache.CacheFor)
	assert.Equal(t, "", cache.CacheMode)
	assert.Equal(t, "fast", cache.PVTag)
}

func TestSetupFromSystemWithoutLVM(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{hasLVM: false}
	setup, err := SetupFromSystem(context.Background(), runner)
	require.NoError(t, err)
	assert.True(t, setup.Empty())
	assert.Empty(t, runner.calls)
}

func TestSetupFromSystemTooManyTags(t *testing.T) {
	t.Parallel()

	results := systemReports()
	results[pvsQuery] = hostexec.Result{Stdout: `{"report":[{"pv":[
		{"pv_name":"/dev/sdb1","vg_name":"vg0","lv_name":"data","pv_tags":"fast,slow"}
	]}]}`}
	runner := &fakeRunner{results: results, hasLVM: true}

	_, err := SetupFromSystem(context.Background(), runner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported number of tags associated with PV /dev/sdb1: fast,slow. Only 1 or 0 allowed.")
}

func TestSetupFromSystemUnknownVG(t *testing.T) {
	t.Parallel()

	results := systemReports()
	results[vgsNameQuery] = hostexec.Result{Stdout: `{"report":[{"vg":[]}]}`}
	runner := &fakeRunner{results: results, hasLVM: true}

	_, err := SetupFromSystem(context.Background(), runner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown VG vg0")
}
