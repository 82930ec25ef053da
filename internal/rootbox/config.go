package rootbox

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Default values for keys a build cannot do without.
const (
	defaultArtifactURL        = "https://rootbox-runtimes.s3.amazonaws.com"
	defaultCRANMirror         = "https://cloud.r-project.org"
	defaultSupportedPlatforms = "heroku-20,heroku-22,heroku-24"
	defaultFetchRetries       = 3
)

// Load the optional .rootbox.conf of a build directory.
// A missing file yields an empty config; only read errors are returned.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		cfg.Values[key] = val
	}
	return cfg, scanner.Err()
}

// mergeEnvOverrides lets ROOTBOX_*, R2_* and a few well-known variables of the
// (already filtered) environment override file values.
func mergeEnvOverrides(cfg *Config, env map[string]string) {
	for k, v := range env {
		if strings.HasPrefix(k, "ROOTBOX_") || strings.HasPrefix(k, "R2_") {
			cfg.Values[k] = v
		}
	}
	for _, k := range []string{"STACK", "CRAN_MIRROR", "BUILDER_VERSION"} {
		if v, ok := env[k]; ok && v != "" {
			cfg.Values[k] = v
		}
	}
}

// Get returns the value for key or def when unset.
func (c *Config) Get(key, def string) string {
	if v := strings.TrimSpace(c.Values[key]); v != "" {
		return v
	}
	return def
}

// Bool treats "1", "true" and "yes" as enabled.
func (c *Config) Bool(key string) bool {
	switch strings.ToLower(c.Values[key]) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Int returns def when the key is unset or not a number.
func (c *Config) Int(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.Values[key]))
	if err != nil {
		return def
	}
	return n
}

// Duration accepts Go durations ("90s") or plain seconds ("90").
func (c *Config) Duration(key string) time.Duration {
	raw := strings.TrimSpace(c.Values[key])
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	logger.Warn("ignoring unparsable duration", "key", key, "value", raw)
	return 0
}

// List splits a comma separated value.
func (c *Config) List(key, def string) []string {
	var out []string
	for _, item := range strings.Split(c.Get(key, def), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
