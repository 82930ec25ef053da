package rootbox

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// DefaultDenyPattern blocks variables that would let the application hijack the
// build itself: the search path, dynamic linker controls and git working directories.
const DefaultDenyPattern = `^(PATH|GIT_DIR|CPATH|CPPFLAGS|LD_PRELOAD|LIBRARY_PATH|LD_LIBRARY_PATH|JAVA_OPTS|JAVA_TOOL_OPTIONS)$`

var defaultDeny = regexp.MustCompile(DefaultDenyPattern)

// EnvFilter decides which env dir entries are imported.
// The default deny set always applies, on top of Deny.
type EnvFilter struct {
	Allow *regexp.Regexp
	Deny  *regexp.Regexp
}

// NewEnvFilter compiles the optional allow/deny patterns. Empty means default.
func NewEnvFilter(allow, deny string) (EnvFilter, error) {
	var f EnvFilter
	if allow != "" {
		re, err := regexp.Compile(allow)
		if err != nil {
			return f, &ConfigurationError{Reason: fmt.Sprintf("invalid env allow pattern %q: %v", allow, err)}
		}
		f.Allow = re
	}
	if deny != "" {
		re, err := regexp.Compile(deny)
		if err != nil {
			return f, &ConfigurationError{Reason: fmt.Sprintf("invalid env deny pattern %q: %v", deny, err)}
		}
		f.Deny = re
	}
	return f, nil
}

// Admits reports whether a variable name passes the filter.
func (f EnvFilter) Admits(name string) bool {
	if defaultDeny.MatchString(name) {
		return false
	}
	if f.Deny != nil && f.Deny.MatchString(name) {
		return false
	}
	if f.Allow != nil {
		return f.Allow.MatchString(name)
	}
	return true
}

// ImportEnvDir reads one variable per regular file of envDir.
// The file name is the variable name and the trimmed first line its value.
// A missing envDir imports nothing.
func ImportEnvDir(envDir string, filter EnvFilter) (map[string]string, error) {
	vars := make(map[string]string)
	entries, err := os.ReadDir(envDir)
	if err != nil {
		if os.IsNotExist(err) {
			return vars, nil
		}
		return nil, fmt.Errorf("read env dir %s: %w", envDir, err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !filter.Admits(name) {
			debugf("Skipping env var %s (filtered)\n", name)
			continue
		}
		value, err := firstLine(filepath.Join(envDir, name))
		if err != nil {
			return nil, fmt.Errorf("read env var %s: %w", name, err)
		}
		vars[name] = value
	}
	return vars, nil
}

// exportEnv sets the imported variables on the process, in a stable order.
func exportEnv(vars map[string]string) error {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := os.Setenv(k, vars[k]); err != nil {
			return fmt.Errorf("export %s: %w", k, err)
		}
	}
	return nil
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", scanner.Err()
}
