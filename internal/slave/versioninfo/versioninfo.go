// Package versioninfo captures the process's own VCS identity at
// startup, the "version-capture step" both the master (for parity
// checks) and each slave (for its health response) invoke. Grounded
// on internal/config/config.go's WriteExample atomic-write shape;
// no teacher file covers git-commit stamping directly, since the
// teacher tags builds via its own cmd/hgbuild version string instead.
package versioninfo

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/persistence"
)

// Capture runs `git rev-parse`/`git branch` in the current working
// directory and returns the resulting MasterVersion. version is a
// caller-supplied release label (e.g. from a build-time ldflag);
// pass "" to fall back to the commit hash.
func Capture(version string) (domain.MasterVersion, error) {
	commit, err := gitOutput("rev-parse", "--short", "HEAD")
	if err != nil {
		return domain.MasterVersion{}, fmt.Errorf("capture commit: %w", err)
	}

	branch, err := gitOutput("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		branch = "unknown"
	}

	if version == "" {
		version = commit
	}

	return domain.MasterVersion{
		Branch:     branch,
		Commit:     commit,
		Version:    version,
		DeployedAt: time.Now(),
	}, nil
}

// WriteFile persists v to path atomically, for operators to read back.
// The slave daemon's /api/version handler serves its in-memory version
// and does not read this file.
func WriteFile(path string, v domain.MasterVersion) error {
	return persistence.WriteJSONAtomic(path, v)
}

// ReadFile loads a previously written version_info.json.
func ReadFile(path string) (domain.MasterVersion, error) {
	var v domain.MasterVersion
	err := persistence.ReadJSON(path, &v)
	return v, err
}

func gitOutput(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
