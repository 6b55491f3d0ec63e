package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/jmorganca/barkggml/envconfig"
)

// LoadDotEnv loads BARK_* variables from a .env file in dir and reloads
// envconfig. A missing file is not an error. Variables already set in the
// environment take precedence.
func LoadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")

	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to check if .env file exists: %w", err)
	}

	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	envconfig.LoadConfig()
	return nil
}
