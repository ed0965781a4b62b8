package ports

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/valksor/go-cproj/internal/storage"
)

// EnvFileName is written inside the workspace's .cproj directory so that
// dev servers can source their port assignment.
const EnvFileName = "ports.env"

// EnvPath returns the ports env file location for a workspace.
func EnvPath(workspacePath string) string {
	return filepath.Join(workspacePath, storage.ProjectDir, EnvFileName)
}

// Env returns the variables exported for an offset.
func Env(offset, basePort int) map[string]string {
	return map[string]string{
		"CPROJ_PORT_OFFSET": strconv.Itoa(offset),
		"CPROJ_PORT":        strconv.Itoa(basePort + offset),
	}
}

// WriteEnv writes the ports env file for a workspace.
func WriteEnv(workspacePath string, offset, basePort int) error {
	path := EnvPath(workspacePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ports env directory: %w", err)
	}

	if err := godotenv.Write(Env(offset, basePort), path); err != nil {
		return fmt.Errorf("write ports env: %w", err)
	}

	return nil
}

// RemoveEnv deletes the ports env file. A missing file is not an error.
func RemoveEnv(workspacePath string) error {
	if err := os.Remove(EnvPath(workspacePath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove ports env: %w", err)
	}

	return nil
}
