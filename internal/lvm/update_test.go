package lvm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func desiredSetup(t *testing.T) *Setup {
	t.Helper()
	setup, err := SetupFromConfig(testLVMConfig(t))
	require.NoError(t, err)
	return setup
}

func TestUpdateFromScratch(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{hasLVM: true}
	err := Update(context.Background(), runner, desiredSetup(t), NewSetup())
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"pvcreate", "/dev/sdb"},
		{"pvcreate", "/dev/sdc"},
		{"vgcreate", "vg0", "/dev/sdb", "/dev/sdc"},
		{"pvchange", "--addtag", "fast", "/dev/sdc"},
		{"lvcreate", "--type", "raid1", "--size", "107374182400B", "--name", "data", "vg0"},
		{"lvcreate", "--extents", "+100%FREE", "--name", "scratch", "vg0"},
		{"lvcreate", "--type", "cache", "--cachemode", "writeback", "--size", "10737418240B", "--name", "cache0", "vg0/data", "@fast"},
	}, runner.calls)
}

func TestUpdateConverged(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{hasLVM: true}
	err := Update(context.Background(), runner, desiredSetup(t), desiredSetup(t))
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestUpdateExtendsExistingVG(t *testing.T) {
	t.Parallel()

	actual := desiredSetup(t)
	delete(actual.VGs["vg0"].PVs, "fast")

	runner := &fakeRunner{hasLVM: true}
	err := Update(context.Background(), runner, desiredSetup(t), actual)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"vgextend", "vg0", "/dev/sdc"},
		{"pvchange", "--addtag", "fast", "/dev/sdc"},
	}, runner.calls)
}

func TestUpdateGrowsLV(t *testing.T) {
	t.Parallel()

	actual := desiredSetup(t)
	actual.VGs["vg0"].LVs["data"].Size = 50 << 30

	runner := &fakeRunner{hasLVM: true}
	err := Update(context.Background(), runner, desiredSetup(t), actual)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"lvextend", "--size", "107374182400B", "/dev/vg0/data"},
	}, runner.calls)
}

func TestUpdateToleratesExtentRounding(t *testing.T) {
	t.Parallel()

	actual := desiredSetup(t)
	actual.VGs["vg0"].LVs["data"].Size += 4 << 20

	runner := &fakeRunner{hasLVM: true}
	err := Update(context.Background(), runner, desiredSetup(t), actual)
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestUpdateRefusesToShrink(t *testing.T) {
	t.Parallel()

	actual := desiredSetup(t)
	actual.VGs["vg0"].LVs["data"].Size = 200 << 30

	runner := &fakeRunner{hasLVM: true}
	err := Update(context.Background(), runner, desiredSetup(t), actual)
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestUpdateRefusesLayoutChange(t *testing.T) {
	t.Parallel()

	actual := desiredSetup(t)
	actual.VGs["vg0"].LVs["data"].Layout = ParseLayout("linear")

	runner := &fakeRunner{hasLVM: true}
	err := Update(context.Background(), runner, desiredSetup(t), actual)
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestUpdateGrowsToFillVG(t *testing.T) {
	t.Parallel()

	actual := desiredSetup(t)
	actual.VGs["vg0"].LVs["scratch"].Size = 1 << 30

	runner := &fakeRunner{hasLVM: true}
	err := Update(context.Background(), runner, desiredSetup(t), actual)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"lvextend", "--extents", "+100%FREE", "/dev/vg0/scratch"},
	}, runner.calls)
}
