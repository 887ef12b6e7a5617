package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads a .env file once per process. ENV_FILE names the file
// explicitly; otherwise the nearest .env between the working directory and
// the module root is used. Existing variables win unless DOTENV_OVERLOAD=1.
// NO_DOTENV=1 disables loading.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	if path := dotenvPath("."); path != "" {
		_ = loadEnvFile(path, os.Getenv("DOTENV_OVERLOAD") == "1")
	}
}

func dotenvPath(start string) string {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		return envFile
	}
	dir, ok := FindUp(start, ".env")
	if !ok {
		return ""
	}
	if root, ok := FindUp(start, "go.mod", ".git"); ok && len(dir) < len(root) {
		// Stop at the module root; a .env above it belongs to someone else.
		return ""
	}
	return filepath.Join(dir, ".env")
}

func loadEnvFile(path string, overload bool) error {
	if overload {
		return godotenv.Overload(path)
	}
	return godotenv.Load(path)
}
