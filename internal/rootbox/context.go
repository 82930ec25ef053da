package rootbox

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// BuildContext is created once per invocation and passed by value to every component.
type BuildContext struct {
	BuildDir       string
	CacheDir       string
	EnvDir         string
	PlatformID     string
	RuntimeVersion string
	BuilderVersion string
	MirrorURL      string
	// DeployDir is where BuildDir will live at run time.
	DeployDir string
}

// RootDir is the SandboxRoot at its current (build-time) location.
func (bc BuildContext) RootDir() string { return filepath.Join(bc.BuildDir, rootDirName) }

// ToolsDir is the ToolRoot at its current (build-time) location.
func (bc BuildContext) ToolsDir() string { return filepath.Join(bc.BuildDir, toolsDirName) }

// SandboxAppDir is BuildDir as seen from inside the sandbox.
func (bc BuildContext) SandboxAppDir() string { return bc.BuildDir }

// path joins a file name onto BuildDir.
func (bc BuildContext) path(name string) string { return filepath.Join(bc.BuildDir, name) }

// newBuildContext resolves the three positional directories and the settings
// a build needs. It does not check preconditions; see validateBuildContext.
func newBuildContext(buildDir, cacheDir, envDir string, cfg *Config) (BuildContext, error) {
	var bc BuildContext
	for _, d := range []struct {
		dst *string
		src string
	}{{&bc.BuildDir, buildDir}, {&bc.CacheDir, cacheDir}, {&bc.EnvDir, envDir}} {
		if d.src == "" {
			return bc, &ConfigurationError{Reason: "build, cache and env directories are all required"}
		}
		abs, err := filepath.Abs(d.src)
		if err != nil {
			return bc, fmt.Errorf("resolve %s: %w", d.src, err)
		}
		*d.dst = abs
	}

	bc.PlatformID = cfg.Get("STACK", "")
	bc.BuilderVersion = cfg.Get("BUILDER_VERSION", builderVersion)
	bc.MirrorURL = strings.TrimRight(cfg.Get("CRAN_MIRROR", defaultCRANMirror), "/")
	bc.DeployDir = filepath.Clean(cfg.Get("ROOTBOX_DEPLOY_DIR", defaultDeployDir))

	if v, err := readVersionFile(bc.path(VersionFile)); err == nil {
		bc.RuntimeVersion = v
	} else if !os.IsNotExist(err) {
		return bc, fmt.Errorf("read %s: %w", VersionFile, err)
	}
	return bc, nil
}

// readVersionFile returns the first non-empty line of the version pin file.
func readVersionFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", nil
}

// validateBuildContext enforces the preconditions checked before any network or sandbox activity.
func validateBuildContext(bc BuildContext, supported []string) error {
	if bc.PlatformID == "" {
		return &ConfigurationError{Reason: "platform identifier (STACK) is not set"}
	}
	if !slices.Contains(supported, bc.PlatformID) {
		return &ConfigurationError{Reason: fmt.Sprintf("unsupported platform %q (supported: %s)",
			bc.PlatformID, strings.Join(supported, ", "))}
	}
	if bc.RuntimeVersion == "" {
		return &ConfigurationError{Reason: fmt.Sprintf("no R version pinned: create %s containing e.g. 4.0.2", VersionFile)}
	}
	if !filepath.IsAbs(bc.DeployDir) {
		return &ConfigurationError{Reason: fmt.Sprintf("deploy directory %q must be absolute", bc.DeployDir)}
	}
	return nil
}
