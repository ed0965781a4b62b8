package vcs

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxBranchNameLength is the longest branch name accepted.
const MaxBranchNameLength = 250

// forbiddenBranchChars are rejected anywhere in a branch name: git refuses
// some of them and the rest are shell metacharacters.
const forbiddenBranchChars = "~^:?*[\\;&|`$()<>\"'"

// ValidateBranchName checks name against git's ref rules plus a stricter
// character set. The returned error wraps ErrInvalidBranchName.
func ValidateBranchName(name string) error {
	invalid := func(reason string) error {
		return fmt.Errorf("%w: %q %s", ErrInvalidBranchName, name, reason)
	}

	switch {
	case name == "":
		return invalid("is empty")
	case len(name) > MaxBranchNameLength:
		return invalid(fmt.Sprintf("is longer than %d characters", MaxBranchNameLength))
	case strings.HasPrefix(name, "-"), strings.HasPrefix(name, "."), strings.HasPrefix(name, "/"):
		return invalid("must not start with '-', '.' or '/'")
	case strings.HasSuffix(name, "."), strings.HasSuffix(name, "/"), strings.HasSuffix(name, ".lock"):
		return invalid("must not end with '.', '/' or '.lock'")
	case strings.Contains(name, ".."):
		return invalid("must not contain '..'")
	case strings.Contains(name, "//"):
		return invalid("must not contain '//'")
	case strings.Contains(name, "@{"):
		return invalid("must not contain '@{'")
	case name == "@":
		return invalid("is reserved")
	}

	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return invalid("must not contain whitespace or control characters")
		}
		if strings.ContainsRune(forbiddenBranchChars, r) {
			return invalid(fmt.Sprintf("must not contain %q", r))
		}
	}

	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") || strings.HasSuffix(part, ".lock") {
			return invalid("has a path component starting with '.' or ending with '.lock'")
		}
	}

	return nil
}
