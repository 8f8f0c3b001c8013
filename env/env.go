package env

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Environment string

const (
	Local Environment = "local"
)

var loadOnce sync.Once

// Load reads a .env file from the working directory into the process
// environment. Variables that are already set win. A missing file is not an error.
func Load(filenames ...string) {
	loadOnce.Do(func() {
		_ = godotenv.Load(filenames...)
	})
}

func IsLocal() bool {
	return Get() == Local
}

func Get() Environment {
	return Environment(os.Getenv("ENVIRONMENT"))
}

func GetOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Int reports whether key is set and fails when it is set to something
// that is not an integer.
func Int(key string) (int, bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return i, true, nil
}

// Duration accepts Go duration strings ("30s", "1m") or a bare integer,
// which is read as seconds.
func Duration(key string) (time.Duration, bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, true, nil
	}
	if i, err := strconv.Atoi(value); err == nil {
		return time.Duration(i) * time.Second, true, nil
	}
	return 0, true, fmt.Errorf("%s: invalid duration %q", key, value)
}
