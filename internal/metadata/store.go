package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"golang.org/x/mod/semver"

	"github.com/valksor/go-cproj/internal/apperr"
	"github.com/valksor/go-cproj/internal/log"
	"github.com/valksor/go-cproj/internal/storage"
)

// FileName is the record file inside the workspace's .cproj directory.
const FileName = ".agent.json"

// maxUpdateAttempts bounds compare-and-swap retries in Update.
const maxUpdateAttempts = 5

var (
	// ErrNotFound is returned when a workspace has no record.
	ErrNotFound = fmt.Errorf("%w: workspace metadata", apperr.ErrNotFound)

	// ErrConcurrentModification is returned when the record kept changing
	// underneath Update.
	ErrConcurrentModification = errors.New("metadata changed concurrently")
)

// Path returns the record location for a workspace.
func Path(workspacePath string) string {
	return filepath.Join(workspacePath, storage.ProjectDir, FileName)
}

// Exists reports whether the workspace has a record.
func Exists(workspacePath string) bool {
	_, err := os.Stat(Path(workspacePath))

	return err == nil
}

// Store reads and writes workspace records.
//
// Store does not lock. Callers that need mutual exclusion between cproj
// processes hold the workspace lock around Update; Update itself detects
// edits made by anything that does not take the lock (a human with an
// editor) and re-applies the mutation on the fresh content.
type Store struct{}

// NewStore returns a metadata store.
func NewStore() *Store {
	return &Store{}
}

// Read loads the record for a workspace.
func (s *Store) Read(workspacePath string) (*Record, error) {
	rec, _, err := s.read(workspacePath)

	return rec, err
}

func (s *Store) read(workspacePath string) (*Record, []byte, error) {
	data, err := os.ReadFile(Path(workspacePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, workspacePath)
		}

		return nil, nil, fmt.Errorf("read metadata: %w", err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse metadata %s: %w", Path(workspacePath), err)
	}

	return rec, data, nil
}

// Write stores rec atomically, upgrading an older schema version.
func (s *Store) Write(workspacePath string, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	if err := storage.WriteFileAtomic(Path(workspacePath), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// Update re-reads the record, applies fn and writes the result. If the
// file changes between the read and the write, the cycle restarts from the
// new content, so fn may run more than once and must only touch the fields
// it owns.
func (s *Store) Update(workspacePath string, fn func(*Record) error) (*Record, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		rec, before, err := s.read(workspacePath)
		if err != nil {
			return nil, err
		}

		if err := fn(rec); err != nil {
			return nil, err
		}

		out, err := Encode(rec)
		if err != nil {
			return nil, err
		}

		current, err := os.ReadFile(Path(workspacePath))
		if err != nil {
			return nil, fmt.Errorf("re-read metadata: %w", err)
		}
		if digest(current) != digest(before) {
			log.Debug("metadata changed during update, retrying",
				log.Workspace(workspacePath), "attempt", attempt)

			continue
		}

		if err := storage.WriteFileAtomic(Path(workspacePath), out, 0o644); err != nil {
			return nil, fmt.Errorf("write metadata: %w", err)
		}

		return rec, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrConcurrentModification, workspacePath)
}

func digest(b []byte) [32]byte {
	return blake3.Sum256(b)
}

// Decode parses a record. Comments and trailing commas from hand edits are
// tolerated, and older schema versions are upgraded in memory.
func Decode(data []byte) (*Record, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}

	upgrade(&rec)

	return &rec, nil
}

// Encode renders a record for disk.
func Encode(rec *Record) ([]byte, error) {
	if older(rec.SchemaVersion, SchemaVersion) {
		rec.SchemaVersion = SchemaVersion
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	return append(data, '\n'), nil
}

func upgrade(rec *Record) {
	if rec.Links.Linear != "" {
		if rec.Links.Ticket == "" {
			rec.Links.Ticket = rec.Links.Linear
		}
		rec.Links.Linear = ""
	}
}

// older reports whether version a precedes b. Missing or malformed
// versions count as older than anything.
func older(a, b string) bool {
	va, vb := canonical(a), canonical(b)
	if !semver.IsValid(va) {
		return true
	}

	return semver.Compare(va, vb) < 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}

	return v
}
