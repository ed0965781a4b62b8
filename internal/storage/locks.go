package storage

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

const locksDirName = "locks"

// Locks lays out advisory lock files under the tool's data directory.
// Lock files live outside the repositories and workspaces they guard so
// that removing a workspace directory never races with its own lock.
type Locks struct {
	dir     string
	timeout time.Duration
}

// NewLocks returns a lock layout rooted at dataDir/locks.
func NewLocks(dataDir string, timeout time.Duration) *Locks {
	return &Locks{dir: filepath.Join(dataDir, locksDirName), timeout: timeout}
}

// Dir returns the locks directory.
func (l *Locks) Dir() string {
	return l.dir
}

// RepoPath is the lock guarding a canonical repository's shared refs.
func (l *Locks) RepoPath(repoPath string) string {
	return filepath.Join(l.dir, "repo-"+PathKey(repoPath)+".lock")
}

// WorkspacePath is the lock guarding one workspace.
func (l *Locks) WorkspacePath(workspacePath string) string {
	return filepath.Join(l.dir, "ws-"+PathKey(workspacePath)+".lock")
}

// WithRepo runs fn holding the repository lock.
func (l *Locks) WithRepo(ctx context.Context, repoPath string, fn func() error) error {
	return WithLock(ctx, l.RepoPath(repoPath), l.timeout, fn)
}

// WithWorkspace runs fn holding the workspace lock.
func (l *Locks) WithWorkspace(ctx context.Context, workspacePath string, fn func() error) error {
	return WithLock(ctx, l.WorkspacePath(workspacePath), l.timeout, fn)
}

// PathKey derives a short stable file-name key for an absolute path.
func PathKey(path string) string {
	clean := filepath.Clean(path)
	if abs, err := filepath.Abs(clean); err == nil {
		clean = abs
	}
	sum := blake3.Sum256([]byte(clean))

	return hex.EncodeToString(sum[:8])
}
