// Package ports hands out small integer offsets from a bounded pool so that
// concurrently running workspaces can derive non-colliding network ports.
//
// Allocations live in a SQLite table in the cproj data directory and
// survive restarts. Allocation runs in an IMMEDIATE transaction, which is
// the serialized critical section across processes.
package ports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/storage"
)

// ErrPoolExhausted is returned when every offset in the pool is owned.
var ErrPoolExhausted = fmt.Errorf("%w: port pool exhausted", apperr.ErrResourceExhausted)

// Allocation is one owned offset.
type Allocation struct {
	Offset        int       `json:"offset"`
	WorkspacePath string    `json:"workspace_path"`
	AllocatedAt   time.Time `json:"allocated_at"`
}

// Allocator manages the offset pool.
type Allocator struct {
	db   *sql.DB
	size int
	now  func() time.Time
}

// Open opens the allocation database at path with a pool of size offsets.
func Open(ctx context.Context, path string, size int) (*Allocator, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Allocator{db: db, size: size, now: time.Now}, nil
}

// Close releases the database.
func (a *Allocator) Close() error {
	return a.db.Close()
}

// Size returns the pool size.
func (a *Allocator) Size() int {
	return a.size
}

// Allocate returns the lowest free offset in [0, size) and assigns it to
// workspacePath. A workspace that already owns an offset gets the same one
// back, so a workspace never holds two.
func (a *Allocator) Allocate(ctx context.Context, workspacePath string) (int, error) {
	workspacePath = normalize(workspacePath)

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin allocation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT port_offset FROM port_allocations WHERE workspace_path = ?`, workspacePath,
	).Scan(&existing)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("lookup allocation: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT port_offset FROM port_allocations WHERE port_offset < ? ORDER BY port_offset`, a.size)
	if err != nil {
		return 0, fmt.Errorf("list allocations: %w", err)
	}
	offset := 0
	for rows.Next() {
		var used int
		if err := rows.Scan(&used); err != nil {
			_ = rows.Close()

			return 0, fmt.Errorf("scan allocation: %w", err)
		}
		if used != offset {
			break
		}
		offset++
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("list allocations: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list allocations: %w", err)
	}

	if offset >= a.size {
		return 0, fmt.Errorf("%w: all %d offsets in use", ErrPoolExhausted, a.size)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO port_allocations (port_offset, workspace_path, allocated_at) VALUES (?, ?, ?)`,
		offset, workspacePath, a.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, fmt.Errorf("record allocation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit allocation: %w", err)
	}

	log.DebugContext(ctx, "port offset allocated", "offset", offset, log.Workspace(workspacePath))

	return offset, nil
}

// Free releases an offset. Freeing a free offset is a no-op.
func (a *Allocator) Free(ctx context.Context, offset int) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM port_allocations WHERE port_offset = ?`, offset); err != nil {
		return fmt.Errorf("free offset %d: %w", offset, err)
	}

	return nil
}

// FreeByWorkspace releases whatever offset workspacePath owns, reporting
// whether one was held.
func (a *Allocator) FreeByWorkspace(ctx context.Context, workspacePath string) (bool, error) {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM port_allocations WHERE workspace_path = ?`, normalize(workspacePath))
	if err != nil {
		return false, fmt.Errorf("free workspace offset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("free workspace offset: %w", err)
	}

	return n > 0, nil
}

// Lookup returns the offset owned by workspacePath.
func (a *Allocator) Lookup(ctx context.Context, workspacePath string) (int, bool, error) {
	var offset int
	err := a.db.QueryRowContext(ctx,
		`SELECT port_offset FROM port_allocations WHERE workspace_path = ?`, normalize(workspacePath),
	).Scan(&offset)
	switch {
	case err == nil:
		return offset, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("lookup allocation: %w", err)
	}
}

// List returns every allocation ordered by offset.
func (a *Allocator) List(ctx context.Context) ([]Allocation, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT port_offset, workspace_path, allocated_at FROM port_allocations ORDER BY port_offset`)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Allocation
	for rows.Next() {
		var (
			al Allocation
			ts string
		)
		if err := rows.Scan(&al.Offset, &al.WorkspacePath, &ts); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			al.AllocatedAt = t
		}
		out = append(out, al)
	}

	return out, rows.Err()
}

func normalize(path string) string {
	clean := filepath.Clean(path)
	if abs, err := filepath.Abs(clean); err == nil {
		return abs
	}

	return clean
}
