package rootbox

import (
	"errors"
	"fmt"
)

// ConfigurationError is reported before the sandbox or network is touched:
// unsupported platform, missing version file, bad filter patterns.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// FetchError means the runtime artifact could not be retrieved and no cache entry existed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch runtime from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RewriteError marks the sandbox unusable: a control file is missing or unwritable.
type RewriteError struct {
	Path string
	Err  error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("failed to relocate sandbox control file %s: %v", e.Path, e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }

// DependencyInstallError carries the package manager output verbatim.
type DependencyInstallError struct {
	Step     string
	ExitCode int
	Output   string
}

func (e *DependencyInstallError) Error() string {
	return fmt.Sprintf("apt-get %s failed with exit code %d", e.Step, e.ExitCode)
}

// InitScriptError is returned when the sentinel is absent after the init script ran.
type InitScriptError struct {
	ExitCode int
	Output   string
}

func (e *InitScriptError) Error() string {
	return fmt.Sprintf("init script did not complete (exit code %d, no success marker)", e.ExitCode)
}

// CacheWriteWarning is never returned as an error; the build still succeeds.
type CacheWriteWarning struct {
	Key string
	Err error
}

func (w CacheWriteWarning) log() {
	logger.Warn("cache not written, next build will provision from scratch", "key", w.Key, "err", w.Err)
}

// capturedOutput returns the command output carried by a fatal error, if any.
func capturedOutput(err error) (string, bool) {
	var depErr *DependencyInstallError
	if errors.As(err, &depErr) {
		return depErr.Output, true
	}
	var initErr *InitScriptError
	if errors.As(err, &initErr) {
		return initErr.Output, true
	}
	return "", false
}
