package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by ENGRAM_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("ENGRAM_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("ENGRAM_PORT"))
	if err != nil || port <= 0 {
		return 3838
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// DataDir returns the root directory for all persistent state.
// Defaults to ~/.engram; a leading ~ or ~/ is expanded against the
// current user's home directory.
func DataDir() string {
	dir := os.Getenv("ENGRAM_DATA_DIR")
	if dir == "" {
		dir = "~/.engram"
	}
	return expandHome(dir)
}

func DatabasePath() string {
	return filepath.Join(DataDir(), "memory.db")
}

func LogsDir() string {
	return filepath.Join(DataDir(), "logs")
}

func ModelsDir() string {
	return filepath.Join(DataDir(), "models")
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "local" if not set.
// Valid values: local, mock
func EmbeddingProvider() string {
	p := os.Getenv("ENGRAM_EMBEDDING_PROVIDER")
	if p == "" {
		return "local"
	}
	return p
}

// EmbeddingModel returns the model name passed to the local embedding
// runtime. Defaults to "all-minilm".
func EmbeddingModel() string {
	m := os.Getenv("ENGRAM_EMBEDDING_MODEL")
	if m == "" {
		return "all-minilm"
	}
	return m
}

// EmbeddingDimensions returns the expected embedding vector width.
// Defaults to 384 (all-MiniLM family). Stored vectors of any other
// width are treated as absent, so changing this requires re-embedding.
func EmbeddingDimensions() int {
	dims, err := strconv.Atoi(os.Getenv("ENGRAM_EMBEDDING_DIMENSIONS"))
	if err != nil || dims <= 0 {
		return 384
	}
	return dims
}

// EmbeddingURL returns the base URL of the local embedding runtime.
// Defaults to the standard Ollama address.
func EmbeddingURL() string {
	u := os.Getenv("ENGRAM_EMBEDDING_URL")
	if u == "" {
		return "http://127.0.0.1:11434"
	}
	return u
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("ENGRAM_RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("ENGRAM_RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("ENGRAM_LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// ConsolidationEnabled reports whether the background consolidation
// worker should run. Defaults to true; set ENGRAM_CONSOLIDATION_ENABLED
// to "false" or "0" to disable.
func ConsolidationEnabled() bool {
	v := os.Getenv("ENGRAM_CONSOLIDATION_ENABLED")
	if v == "" {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

// ConsolidationInterval returns how often the background worker runs.
// Accepts Go duration syntax (e.g. "6h", "90m"). Defaults to 6h.
func ConsolidationInterval() time.Duration {
	d, err := time.ParseDuration(os.Getenv("ENGRAM_CONSOLIDATION_INTERVAL"))
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// RecallCandidateCap bounds how many embedded memories a single recall
// will scan. Defaults to 10000.
func RecallCandidateCap() int {
	cap, err := strconv.Atoi(os.Getenv("ENGRAM_RECALL_CANDIDATE_CAP"))
	if err != nil || cap <= 0 {
		return 10000
	}
	return cap
}

func expandHome(path string) string {
	if path != "~" && !hasHomePrefix(path) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

func hasHomePrefix(path string) bool {
	return len(path) >= 2 && path[0] == '~' && (path[1] == '/' || path[1] == filepath.Separator)
}
