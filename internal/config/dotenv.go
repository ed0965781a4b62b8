package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/valksor/go-cproj/internal/storage"
)

// EnvFileName is the name of the environment variables file.
const EnvFileName = ".env"

// LoadDotEnv loads the user-level .env from DefaultDir and then the
// repository's .cproj/.env. godotenv never overrides variables that are
// already set, so the process environment wins, then the user file, then
// the repository file. A missing file is not an error.
func LoadDotEnv(repoPath string) error {
	paths := []string{filepath.Join(DefaultDir(), EnvFileName)}
	if repoPath != "" {
		paths = append(paths, filepath.Join(repoPath, storage.ProjectDir, EnvFileName))
	}

	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}

	return nil
}
