package rootbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// testContext returns a valid BuildContext rooted in fresh temp dirs.
func testContext(t *testing.T) BuildContext {
	t.Helper()
	base := t.TempDir()
	bc := BuildContext{
		BuildDir:       filepath.Join(base, "build"),
		CacheDir:       filepath.Join(base, "cache"),
		EnvDir:         filepath.Join(base, "env"),
		PlatformID:     "heroku-22",
		RuntimeVersion: "4.0.2",
		BuilderVersion: "20",
		MirrorURL:      defaultCRANMirror,
		DeployDir:      "/app",
	}
	require.NoError(t, os.MkdirAll(bc.BuildDir, 0o755))
	writeTestFile(t, bc.path(VersionFile), "4.0.2\n")
	return bc
}

// fakeSandbox records commands and answers them with canned results.
type fakeSandbox struct {
	mu       sync.Mutex
	commands []Command
	controls []string
	// respond decides the result of each command; nil means exit 0.
	respond func(cmd Command) Result
}

func (s *fakeSandbox) Run(_ context.Context, cmd Command) (Result, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
	if s.respond == nil {
		return Result{}, nil
	}
	return s.respond(cmd), nil
}

func (s *fakeSandbox) ControlFiles() ([]string, error) { return s.controls, nil }

func (s *fakeSandbox) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	for i, c := range s.commands {
		out[i] = strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
	}
	return out
}

// fakeFetcher materializes a minimal deploy-form runtime tree whose control
// files reference the deploy directory.
type fakeFetcher struct {
	calls int
	err   error
}

var fakeControlFiles = []string{
	".tools/usr/bin/fakechroot",
	".root/etc/ld.so.conf.d/rootbox.conf",
}

func (f *fakeFetcher) Fetch(_ context.Context, bc BuildContext, destDir string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, rel := range fakeControlFiles {
		p := filepath.Join(destDir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		body := "FAKECHROOT_BASE=" + bc.DeployDir + "/.root\nlibs=" + bc.DeployDir + "/.tools/usr/lib\n"
		if err := os.WriteFile(p, []byte(body), 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(destDir, rootDirName, "R-version"), []byte(bc.RuntimeVersion), 0o644)
}
