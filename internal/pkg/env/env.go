package env

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Env holds the key/value pairs loaded from the env file. Process
// environment variables always win over file values, so container
// deployments can override without editing the file.
var Env map[string]string

// GetEnv returns the value for key, preferring the process environment over
// the loaded env file, falling back to def.
func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := Env[key]; ok {
		return val
	}
	return def
}

// GetEnvInt parses an integer setting. Missing, malformed or non-positive
// values yield the fallback.
func GetEnvInt(key string, fallback int) int {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// SetupEnvFile loads the env file. AGENTHUB_ENV_FILE points at an explicit
// file; otherwise the usual locations relative to the binary are tried. A
// missing file is not fatal: the process environment alone is a valid
// configuration (Docker, CI).
func SetupEnvFile() {
	candidates := []string{".env", "../../.env", "../../../.env"}
	if explicit := os.Getenv("AGENTHUB_ENV_FILE"); explicit != "" {
		candidates = []string{explicit}
	}

	var err error
	for _, envFile := range candidates {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			return
		}
	}

	Env = map[string]string{}
	log.Println("[env] no .env file found, using process environment only")
}

// IsDev reports whether the app runs in development mode.
func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
