package rootbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
)

// Command is run as if the process root were the sandbox root.
// Dir and every path in Args are paths as seen from inside the sandbox.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  map[string]string
}

func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Result of a sandboxed command. TimedOut results carry exit code 124.
type Result struct {
	ExitCode int
	Output   string
	TimedOut bool
}

// Sandbox is the privilege-free "run as root R" capability.
// Run returns an error only when the command could not be run at all;
// a non-zero exit is reported in the Result.
type Sandbox interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	// ControlFiles lists the files (relative to the build directory) that embed
	// the sandbox location and must be relocated with it.
	ControlFiles() ([]string, error)
}

// defaultControlFiles are the fakechroot/fakeroot files carrying absolute paths.
var defaultControlFiles = []string{
	".tools/usr/bin/fakechroot",
	".tools/usr/bin/fakeroot",
	".tools/usr/bin/ldd.fakechroot",
	".tools/etc/fakechroot/chroot.env",
	".root/etc/ld.so.conf.d/rootbox.conf",
}

// controlFilesManifest, when shipped inside the ToolRoot, replaces defaultControlFiles.
const controlFilesManifest = ".tools/etc/rootbox/relocate.list"

const timeoutExitCode = 124

// FakechrootSandbox runs commands through fakechroot + fakeroot + chroot shipped in ToolRoot.
type FakechrootSandbox struct {
	BuildDir string
	Exec     *Executor
	// ExcludePaths stay host paths inside the chroot (the app dir, /dev, /proc).
	ExcludePaths []string
}

// NewFakechrootSandbox prepares a sandbox for the tree under bc.BuildDir.
func NewFakechrootSandbox(bc BuildContext, exec *Executor) *FakechrootSandbox {
	return &FakechrootSandbox{
		BuildDir:     bc.BuildDir,
		Exec:         exec,
		ExcludePaths: []string{"/dev", "/proc", "/sys", bc.SandboxAppDir()},
	}
}

func (s *FakechrootSandbox) rootDir() string  { return filepath.Join(s.BuildDir, rootDirName) }
func (s *FakechrootSandbox) toolsDir() string { return filepath.Join(s.BuildDir, toolsDirName) }

// ControlFiles reads the relocation manifest from the ToolRoot, falling back to the defaults.
func (s *FakechrootSandbox) ControlFiles() ([]string, error) {
	return readControlFiles(s.BuildDir)
}

func readControlFiles(buildDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(buildDir, controlFilesManifest))
	if err != nil {
		if os.IsNotExist(err) {
			return defaultControlFiles, nil
		}
		return nil, err
	}
	defer f.Close()

	var files []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if filepath.IsAbs(line) || strings.HasPrefix(filepath.Clean(line), "..") {
			return nil, fmt.Errorf("%s: control file %q must be relative to the build dir", controlFilesManifest, line)
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// argv builds: fakechroot fakeroot chroot <root> /usr/bin/env -i ... /bin/sh -c 'cd <dir> && exec <cmd>'
func (s *FakechrootSandbox) argv(cmd Command) []string {
	bin := filepath.Join(s.toolsDir(), "usr", "bin")
	inner := "exec " + cmd.String()
	if cmd.Dir != "" {
		inner = "cd " + shellquote.Join(cmd.Dir) + " && " + inner
	}

	args := []string{
		filepath.Join(bin, "fakechroot"),
		filepath.Join(bin, "fakeroot"),
		"chroot", s.rootDir(),
		"/usr/bin/env", "-i",
	}
	args = append(args, sandboxEnv(cmd)...)
	return append(args, "/bin/sh", "-c", inner)
}

// sandboxEnv is the complete environment seen inside the sandbox, sorted for stable argv.
func sandboxEnv(cmd Command) []string {
	env := map[string]string{
		"PATH":            "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME":            cmd.Dir,
		"LANG":            "C.UTF-8",
		"DEBIAN_FRONTEND": "noninteractive",
	}
	if env["HOME"] == "" {
		env["HOME"] = "/root"
	}
	for k, v := range cmd.Env {
		env[k] = v
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// hostEnv is the environment of the fakechroot launcher itself.
func (s *FakechrootSandbox) hostEnv() []string {
	bin := filepath.Join(s.toolsDir(), "usr", "bin")
	return []string{
		"PATH=" + bin + ":/usr/sbin:/usr/bin:/sbin:/bin",
		"FAKECHROOT_EXCLUDE_PATH=" + strings.Join(s.ExcludePaths, ":"),
		"FAKECHROOT_ELFLOADER=" + filepath.Join(s.rootDir(), "lib64", "ld-linux-x86-64.so.2"),
		"LD_LIBRARY_PATH=" + filepath.Join(s.toolsDir(), "usr", "lib", "x86_64-linux-gnu", "fakechroot") +
			":" + filepath.Join(s.toolsDir(), "usr", "lib", "x86_64-linux-gnu", "libfakeroot"),
	}
}

// Run executes cmd in the sandbox and captures stdout and stderr merged.
func (s *FakechrootSandbox) Run(ctx context.Context, cmd Command) (Result, error) {
	argv := s.argv(cmd)
	debugf("[sandbox] %s\n", shellquote.Join(argv...))

	var out lockedBuffer
	c := exec.Command(argv[0], argv[1:]...)
	c.Env = s.hostEnv()
	c.Stdout = &out
	c.Stderr = &out

	runner := *s.Exec
	runner.Context = ctx
	err := runner.Run(c)

	res := Result{Output: out.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(err, errTimedOut):
		res.ExitCode = timeoutExitCode
		res.TimedOut = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("sandboxed %s: %w", cmd.Name, err)
	}
	return res, nil
}

// lockedBuffer lets exec write stdout and stderr into one buffer safely.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
