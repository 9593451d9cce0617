package shell

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// PathState tracks the two working directories of a browse session.
//
// SFTP has no current working directory, so the remote one is simulated.
// After every successful cd the remote path is canonicalized with RealPath
// so symlinks and .. do not drift.
type PathState struct {
	LocalCWD   string
	RemoteCWD  string
	HomeLocal  string
	HomeRemote string
	realPath   func(ctx context.Context, path string) (string, error)
}

// NewPathState starts in the process working directory and the remote login
// directory.
func NewPathState(ctx context.Context, r Remote) (*PathState, error) {
	homeLocal, err := homedir.Dir()
	if err != nil {
		return nil, fmt.Errorf("get local home: %w", err)
	}

	localCWD, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get local cwd: %w", err)
	}

	homeRemote, err := r.RealPath(ctx, ".")
	if err != nil {
		return nil, fmt.Errorf("get remote home: %w", err)
	}

	return &PathState{
		LocalCWD:   localCWD,
		RemoteCWD:  homeRemote,
		HomeLocal:  homeLocal,
		HomeRemote: homeRemote,
		realPath:   r.RealPath,
	}, nil
}

// ResolveLocal resolves a local path against LocalCWD. ~ and ~/x refer to
// the local home directory.
func (ps *PathState) ResolveLocal(p string) (string, error) {
	if p == "" || p == "." {
		return ps.LocalCWD, nil
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	rest, home, err := splitHome(p)
	if err != nil {
		return "", err
	}
	if home {
		return filepath.Join(ps.HomeLocal, rest), nil
	}
	return filepath.Join(ps.LocalCWD, p), nil
}

// ResolveRemote resolves a remote path against RemoteCWD. Remote paths
// always use / whatever the local OS.
func (ps *PathState) ResolveRemote(p string) (string, error) {
	if p == "" || p == "." {
		return ps.RemoteCWD, nil
	}
	if strings.HasPrefix(p, "/") {
		return cleanPath(p), nil
	}
	rest, home, err := splitHome(p)
	if err != nil {
		return "", err
	}
	if home {
		return cleanPath(joinPath(ps.HomeRemote, rest)), nil
	}
	return cleanPath(joinPath(ps.RemoteCWD, p)), nil
}

// splitHome strips a leading ~ or ~/ and reports whether one was present.
func splitHome(p string) (string, bool, error) {
	if !strings.HasPrefix(p, "~") {
		return p, false, nil
	}
	if len(p) > 1 && p[1] != '/' {
		return "", false, fmt.Errorf("~user not supported: %s", p)
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"), true, nil
}

// UpdateRemoteCWD canonicalizes path on the remote side and makes it the
// remote working directory.
func (ps *PathState) UpdateRemoteCWD(ctx context.Context, p string) error {
	real, err := ps.realPath(ctx, p)
	if err != nil {
		return fmt.Errorf("realpath %s: %w", p, err)
	}
	ps.RemoteCWD = real
	return nil
}

// UpdateLocalCWD updates LocalCWD after a successful lcd.
func (ps *PathState) UpdateLocalCWD(p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	ps.LocalCWD = abs
	return nil
}

// cleanPath makes p absolute and lexically clean. .. never climbs above /.
func cleanPath(p string) string {
	return path.Clean("/" + p)
}

// joinPath joins remote path elements with /.
func joinPath(base, rel string) string {
	return path.Join(base, rel)
}
