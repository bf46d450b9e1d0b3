package perms

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
	dirs  map[string]bool
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, cmd hostexec.Cmd) (hostexec.Result, error) {
	f.calls = append(f.calls, cmd.Argv)
	if cmd.Argv[0] == "test" {
		if f.dirs[cmd.Argv[2]] {
			return hostexec.Result{}, nil
		}
		return hostexec.Result{ExitCode: 1}, nil
	}
	return hostexec.Result{}, nil
}

func (f *fakeRunner) Exists(context.Context, string) bool {
	return true
}

func (f *fakeRunner) argvs() []string {
	var out []string
	for _, call := range f.calls {
		out = append(out, strings.Join(call, " "))
	}
	return out
}

func TestUserSetModes(t *testing.T) {
	t.Parallel()

	modes, err := userSetModes("group", "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"u+r", "g+r", "o-r"}, modes)

	modes, err = userSetModes("nobody", "w")
	require.NoError(t, err)
	assert.Equal(t, []string{"u-w", "g-w", "o-w"}, modes)

	modes, err = userSetModes("", "x")
	require.NoError(t, err)
	assert.Nil(t, modes)

	_, err = userSetModes("everyone", "r")
	require.Error(t, err)
}

func TestUpdateDirectory(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{dirs: map[string]bool{"/data/shared": true}}
	err := Update(context.Background(), runner, map[string]config.Permissions{
		"/data/shared": {
			Owner:  "alice",
			Group:  "staff",
			Read:   "group",
			Write:  "owner",
			SetGID: true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"chmod -R g+s,u+r,g+r,o-r,u+w,g-w,o-w /data/shared",
		"test -d /data/shared",
		// Directory listing bits derive from the read setting, applied to
		// the directory itself only.
		"chmod u+x,g+x,o-x /data/shared",
		"chown -R alice:staff /data/shared",
	}, runner.argvs())
}

func TestUpdateFile(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	err := Update(context.Background(), runner, map[string]config.Permissions{
		"/usr/local/bin/backup": {
			Owner:   "root",
			Read:    "owner",
			Execute: "owner",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"chmod -R u+r,g-r,o-r /usr/local/bin/backup",
		"test -d /usr/local/bin/backup",
		"chmod -R u+x,g-x,o-x /usr/local/bin/backup",
		"chown -R root /usr/local/bin/backup",
	}, runner.argvs())
}

func TestUpdateOrdersPaths(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	err := Update(context.Background(), runner, map[string]config.Permissions{
		"/b": {Sticky: true},
		"/a": {SetUID: true},
	})
	require.NoError(t, err)

	argvs := runner.argvs()
	assert.Equal(t, "chmod -R u+s /a", argvs[0])
	assert.Contains(t, argvs, "chmod -R +t /b")
}
