// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aisopod/aisopod/pkg/routing"
)

// escapeErr builds a classified SandboxEscape error so callers can detect
// a workspace-guard rejection via routing.ClassifyErr instead of matching
// the "escapes workspace root" string.
func escapeErr(p string) error {
	return routing.NewKindError(routing.KindSandboxEscape, fmt.Errorf("path escapes workspace root: %s", p))
}

// WorkspaceGuard validates that a path argument never escapes the
// canonicalised workspace root before it is mounted into a container.
type WorkspaceGuard struct {
	root string
}

// NewWorkspaceGuard resolves root and fails construction if it does not
// exist, mirroring the sandbox's "fail closed" posture.
func NewWorkspaceGuard(root string) (*WorkspaceGuard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root does not exist: %w", err)
	}
	info, err := os.Stat(real)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", root)
	}
	return &WorkspaceGuard{root: real}, nil
}

// Root returns the canonicalised workspace root.
func (g *WorkspaceGuard) Root() string {
	return g.root
}

// ValidatePath resolves p's full symlink chain and rejects it if it (or any
// ancestor in its symlink chain) escapes the canonicalised root.
func (g *WorkspaceGuard) ValidatePath(p string) (string, error) {
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(g.root, p)
	}

	if !isWithinRoot(abs, g.root) {
		return "", escapeErr(p)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	switch {
	case err == nil:
		if !isWithinRoot(resolved, g.root) {
			return "", escapeErr(p)
		}
		return resolved, nil
	case os.IsNotExist(err):
		// Path doesn't exist yet (e.g. a file about to be created); walk up
		// to the nearest existing ancestor and validate that instead.
		ancestor, aerr := resolveExistingAncestor(filepath.Dir(abs))
		if aerr != nil {
			if os.IsNotExist(aerr) {
				return abs, nil
			}
			return "", fmt.Errorf("resolve path ancestor: %w", aerr)
		}
		if !isWithinRoot(ancestor, g.root) {
			return "", escapeErr(p)
		}
		return abs, nil
	default:
		return "", fmt.Errorf("resolve path: %w", err)
	}
}

func resolveExistingAncestor(p string) (string, error) {
	for current := filepath.Clean(p); ; current = filepath.Dir(current) {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return resolved, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		if filepath.Dir(current) == current {
			return "", os.ErrNotExist
		}
	}
}

func isWithinRoot(candidate, root string) bool {
	rel, err := filepath.Rel(root, candidate)
	return err == nil && filepath.IsLocal(rel)
}

// MountArgs renders the bind-mount spec for the given access level, for
// container creation. An empty slice means no mount.
func MountArgs(root string, access WorkspaceAccess) []string {
	switch access {
	case AccessReadOnly:
		return []string{fmt.Sprintf("%s:/workspace:ro", root)}
	case AccessReadWrite:
		return []string{fmt.Sprintf("%s:/workspace:rw", root)}
	default:
		return nil
	}
}
