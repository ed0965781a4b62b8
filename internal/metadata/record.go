// Package metadata persists the per-workspace record kept at
// <workspace>/.cproj/.agent.json.
package metadata

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the version written by this build.
const SchemaVersion = "1.1"

// Record describes one workspace. Keys this build does not know, at any
// depth, are kept in Extra and written back unchanged.
type Record struct {
	SchemaVersion string        `json:"schema_version"`
	ID            string        `json:"id,omitempty"`
	Agent         Agent         `json:"agent"`
	Project       Project       `json:"project"`
	Workspace     WorkspaceInfo `json:"workspace"`
	Links         Links         `json:"links"`
	Env           Environment   `json:"env"`
	Setup         Setup         `json:"setup"`
	Port          *Port         `json:"port,omitempty"`
	Notes         string        `json:"notes"`

	// Extra maps the dotted path of an object ("" for the top level) to
	// its unknown keys.
	Extra map[string]map[string]json.RawMessage `json:"-"`
}

var knownKeys = []string{
	"schema_version", "id", "agent", "project", "workspace",
	"links", "env", "setup", "port", "notes",
}

// Agent identifies who created the workspace.
type Agent struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Project names the canonical repository.
type Project struct {
	Name     string `json:"name"`
	RepoPath string `json:"repo_path"`
}

// WorkspaceInfo is the workspace identity and provenance.
type WorkspaceInfo struct {
	Path      string     `json:"path"`
	Branch    string     `json:"branch"`
	Base      string     `json:"base"`
	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	// BaseCommit is the base tip the branch was cut from.
	BaseCommit string `json:"base_commit,omitempty"`
}

// Links are external references.
type Links struct {
	Ticket string `json:"ticket,omitempty"`
	PR     string `json:"pr,omitempty"`

	// Linear is the 1.0 name of Ticket; moved on read.
	Linear string `json:"linear,omitempty"`
}

// Environment summarizes what setup installed, per language.
type Environment struct {
	Python *PythonEnv `json:"python,omitempty"`
	Node   *NodeEnv   `json:"node,omitempty"`
	Java   *JavaEnv   `json:"java,omitempty"`
}

// PythonEnv records python setup.
type PythonEnv struct {
	Manager      string `json:"manager"` // none, uv, venv, shared
	Active       bool   `json:"active"`
	Pyproject    bool   `json:"pyproject"`
	Requirements bool   `json:"requirements"`
}

// NodeEnv records node setup.
type NodeEnv struct {
	Manager     string `json:"manager"` // none, npm, pnpm, yarn
	NodeVersion string `json:"node_version,omitempty"`
	Lockfile    string `json:"lockfile,omitempty"`
	Active      bool   `json:"active"`
}

// JavaEnv records java setup.
type JavaEnv struct {
	Build   string `json:"build"`   // none, maven, gradle
	Manager string `json:"manager"` // binary that ran the build
	Active  bool   `json:"active"`
}

// Setup tracks post-creation setup progress.
type Setup struct {
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	FailedSteps []StepFailure `json:"failed_steps,omitempty"`
}

// StepFailure is one setup step that did not complete.
type StepFailure struct {
	Step  string    `json:"step"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Port is the allocated port offset.
type Port struct {
	Offset int `json:"offset"`
}

// NewRecord returns a fresh record for a newly created workspace.
func NewRecord(agent Agent, project Project, ws WorkspaceInfo) *Record {
	ws.CreatedAt = ws.CreatedAt.UTC()

	return &Record{
		SchemaVersion: SchemaVersion,
		ID:            uuid.NewString(),
		Agent:         agent,
		Project:       project,
		Workspace:     ws,
	}
}

// Closed reports whether the workspace was marked closed.
func (r *Record) Closed() bool {
	return r.Workspace.ClosedAt != nil
}

// Partial reports whether setup has outstanding failed steps.
func (r *Record) Partial() bool {
	return len(r.Setup.FailedSteps) > 0
}

// RecordFailure stores a failed step, replacing an earlier failure of the
// same step.
func (r *Record) RecordFailure(step string, err error, at time.Time) {
	r.ClearFailure(step)
	r.Setup.FailedSteps = append(r.Setup.FailedSteps, StepFailure{
		Step:  step,
		Error: err.Error(),
		At:    at.UTC(),
	})
}

// ClearFailure forgets a failed step.
func (r *Record) ClearFailure(step string) {
	kept := r.Setup.FailedSteps[:0]
	for _, f := range r.Setup.FailedSteps {
		if f.Step != step {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	r.Setup.FailedSteps = kept
}

// AppendNote adds a timestamped line to the free-form notes.
func (r *Record) AppendNote(text string, at time.Time) {
	line := at.UTC().Format(time.RFC3339) + " " + text
	if r.Notes == "" {
		r.Notes = line

		return
	}
	r.Notes += "\n" + line
}

type recordAlias Record

// objectKeys lists the keys this build knows for every object in the
// record, by dotted path. Objects not listed here are kept whole.
var objectKeys = map[string][]string{
	"":           knownKeys,
	"agent":      {"name", "email"},
	"project":    {"name", "repo_path"},
	"workspace":  {"path", "branch", "base", "base_commit", "created_at", "created_by", "closed_at"},
	"links":      {"ticket", "pr", "linear"},
	"env":        {"python", "node", "java"},
	"env.python": {"manager", "active", "pyproject", "requirements"},
	"env.node":   {"manager", "node_version", "lockfile", "active"},
	"env.java":   {"build", "manager", "active"},
	"setup":      {"completed_at", "failed_steps"},
	"port":       {"offset"},
}

func knownKey(path, key string) bool {
	for _, k := range objectKeys[path] {
		if k == key {
			return true
		}
	}

	return false
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}

	return path + "." + key
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	extra := make(map[string]map[string]json.RawMessage)
	if err := collectExtra("", data, extra); err != nil {
		return err
	}

	*r = Record(alias)
	r.Extra = nil
	if len(extra) > 0 {
		r.Extra = extra
	}

	return nil
}

func collectExtra(path string, data []byte, extra map[string]map[string]json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	for k, v := range obj {
		if !knownKey(path, k) {
			if extra[path] == nil {
				extra[path] = make(map[string]json.RawMessage)
			}
			extra[path][k] = v

			continue
		}

		child := childPath(path, k)
		if _, ok := objectKeys[child]; !ok || !isObject(v) {
			continue
		}
		if err := collectExtra(child, v, extra); err != nil {
			return err
		}
	}

	return nil
}

func isObject(v json.RawMessage) bool {
	for _, c := range v {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}

	return false
}

// MarshalJSON encodes the known fields merged with Extra. Known fields win
// over an Extra key of the same name. Unknown keys of an object this build
// dropped (a nil port, say) are dropped with it.
func (r Record) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(recordAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}

	return injectExtra("", known, r.Extra)
}

func injectExtra(path string, data []byte, extra map[string]map[string]json.RawMessage) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}

	for k, v := range extra[path] {
		if _, ok := obj[k]; !ok {
			obj[k] = v
		}
	}

	for k, v := range obj {
		child := childPath(path, k)
		if _, ok := objectKeys[child]; !ok || !isObject(v) || !hasExtraUnder(child, extra) {
			continue
		}
		merged, err := injectExtra(child, v, extra)
		if err != nil {
			return nil, err
		}
		obj[k] = merged
	}

	return json.Marshal(obj)
}

func hasExtraUnder(path string, extra map[string]map[string]json.RawMessage) bool {
	for p := range extra {
		if p == path || strings.HasPrefix(p, path+".") {
			return true
		}
	}

	return false
}
