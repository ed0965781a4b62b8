package environment

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skipDirs are never descended into when looking for env files.
var skipDirs = map[string]bool{
	".git":         true,
	".cproj":       true,
	".venv":        true,
	"node_modules": true,
	"vendor":       true,
}

// IsEnvFile reports whether name is .env or .env.<suffix>.
func IsEnvFile(name string) bool {
	return name == ".env" || strings.HasPrefix(name, ".env.")
}

// CopyEnvFiles copies every .env file of the canonical checkout to the same
// relative location in the workspace. Existing files are never overwritten.
// It returns the relative paths that were copied.
func CopyEnvFiles(repoPath, workspace string) ([]string, error) {
	var copied []string

	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}

			return err
		}
		if d.IsDir() {
			if path != repoPath && skipDirs[d.Name()] {
				return filepath.SkipDir
			}

			return nil
		}
		if !d.Type().IsRegular() || !IsEnvFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(workspace, rel)
		if pathExists(dst) {
			return nil
		}
		if err := copyFile(path, dst); err != nil {
			return err
		}
		copied = append(copied, rel)

		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("copy env files: %w", err)
	}

	return copied, nil
}

// copyFile copies src to dst, creating parent directories and keeping the
// permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

// copyDir copies the tree at src into dst. Symlinks are recreated, not
// followed.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)

			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target)
		}

		return nil
	})
}

// within joins rel to root and refuses results outside root.
func within(root, rel string) (string, error) {
	if rel == "" || rel == "." {
		return root, nil
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) {
		r, err := filepath.Rel(root, clean)
		if err != nil || !filepath.IsLocal(r) {
			return "", fmt.Errorf("path %s is outside %s", rel, root)
		}

		return clean, nil
	}
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("path %s is outside %s", rel, root)
	}

	return filepath.Join(root, clean), nil
}
