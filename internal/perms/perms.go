package perms

import (
	"context"
	"fmt"
	"sort"

	"github.com/kisiac/kisiac/internal/config"
	"github.com/kisiac/kisiac/internal/hostexec"
	"github.com/rs/zerolog"
)

// userSetModes expands a user set into chmod mode expressions for one
// permission flag. The set names the widest class granted the flag;
// wider classes lose it, narrower ones keep it.
func userSetModes(set, flag string) ([]string, error) {
	switch set {
	case "":
		return nil, nil
	case "owner":
		return []string{"u+" + flag, "g-" + flag, "o-" + flag}, nil
	case "group":
		return []string{"u+" + flag, "g+" + flag, "o-" + flag}, nil
	case "others":
		return []string{"u+" + flag, "g+" + flag, "o+" + flag}, nil
	case "nobody":
		return []string{"u-" + flag, "g-" + flag, "o-" + flag}, nil
	default:
		return nil, fmt.Errorf("unknown user set %q", set)
	}
}

// Update applies ownership and access settings to every configured path.
func Update(ctx context.Context, runner hostexec.Runner, permissions map[string]config.Permissions) error {
	paths := make([]string, 0, len(permissions))
	for path := range permissions {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := updatePath(ctx, runner, path, permissions[path]); err != nil {
			return err
		}
	}
	return nil
}

func updatePath(ctx context.Context, runner hostexec.Runner, path string, p config.Permissions) error {
	zerolog.Ctx(ctx).Info().Str("path", path).Msg("applying permissions")
	target := hostexec.NewPath(runner, path)

	var modes []string
	if p.SetUID {
		modes = append(modes, "u+s")
	}
	if p.SetGID {
		modes = append(modes, "g+s")
	}
	if p.Sticky {
		modes = append(modes, "+t")
	}
	for _, grant := range []struct {
		set  string
		flag string
	}{
		{p.Read, "r"},
		{p.Write, "w"},
	} {
		granted, err := userSetModes(grant.set, grant.flag)
		if err != nil {
			return fmt.Errorf("invalid permissions for %s: %w", path, err)
		}
		modes = append(modes, granted...)
	}
	if err := target.Chmod(ctx, true, modes...); err != nil {
		return err
	}

	isDir, err := target.IsDir(ctx)
	if err != nil {
		return err
	}
	if isDir {
		// Listing a directory needs the execute bit. Derive it from the
		// read setting and leave the files below untouched.
		derived, err := userSetModes(p.Read, "x")
		if err != nil {
			return fmt.Errorf("invalid permissions for %s: %w", path, err)
		}
		if err := target.Chmod(ctx, false, derived...); err != nil {
			return err
		}
	} else {
		granted, err := userSetModes(p.Execute, "x")
		if err != nil {
			return fmt.Errorf("invalid permissions for %s: %w", path, err)
		}
		if err := target.Chmod(ctx, true, granted...); err != nil {
			return err
		}
	}

	return target.Chown(ctx, p.Owner, p.Group)
}
