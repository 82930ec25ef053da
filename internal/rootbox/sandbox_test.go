package rootbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installFakeLauncher replaces fakechroot with a script, so Run can be
// exercised without the real tool.
func installFakeLauncher(t *testing.T, bc BuildContext, script string) {
	t.Helper()
	p := filepath.Join(bc.ToolsDir(), "usr", "bin", "fakechroot")
	writeTestFile(t, p, "#!/bin/sh\n"+script+"\n")
	require.NoError(t, os.Chmod(p, 0o755))
}

func TestFakechrootSandboxArgv(t *testing.T) {
	bc := testContext(t)
	sb := NewFakechrootSandbox(bc, NewExecutor(context.Background(), 0))

	argv := sb.argv(Command{
		Name: "apt-get",
		Args: []string{"install", "-y", "lib with space"},
		Dir:  "/app",
		Env:  map[string]string{"CRAN_MIRROR": "https://cran.example.org"},
	})

	bin := filepath.Join(bc.ToolsDir(), "usr", "bin")
	assert.Equal(t, []string{filepath.Join(bin, "fakechroot"), filepath.Join(bin, "fakeroot"), "chroot", bc.RootDir(), "/usr/bin/env", "-i"}, argv[:6])
	assert.Contains(t, argv, "CRAN_MIRROR=https://cran.example.org")
	assert.Contains(t, argv, "HOME=/app")
	assert.Contains(t, argv, "DEBIAN_FRONTEND=noninteractive")
	assert.Equal(t, []string{"/bin/sh", "-c", "cd /app && exec apt-get install -y 'lib with space'"}, argv[len(argv)-3:])
}

func TestFakechrootSandboxExcludesAppDir(t *testing.T) {
	bc := testContext(t)
	sb := NewFakechrootSandbox(bc, NewExecutor(context.Background(), 0))

	assert.Contains(t, sb.hostEnv(), "FAKECHROOT_EXCLUDE_PATH=/dev:/proc:/sys:"+bc.BuildDir)
}

func TestFakechrootSandboxRunPropagatesExitCode(t *testing.T) {
	bc := testContext(t)
	installFakeLauncher(t, bc, `echo "launched $2 $3"; echo "to stderr" >&2; exit 7`)
	sb := NewFakechrootSandbox(bc, NewExecutor(context.Background(), 0))

	res, err := sb.Run(context.Background(), Command{Name: "true"})

	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Contains(t, res.Output, "launched chroot "+bc.RootDir())
	assert.Contains(t, res.Output, "to stderr")
}

func TestFakechrootSandboxRunTimeout(t *testing.T) {
	bc := testContext(t)
	installFakeLauncher(t, bc, "sleep 10")
	sb := NewFakechrootSandbox(bc, NewExecutor(context.Background(), 100*time.Millisecond))

	res, err := sb.Run(context.Background(), Command{Name: "true"})

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, timeoutExitCode, res.ExitCode)
}

func TestFakechrootSandboxRunMissingLauncher(t *testing.T) {
	bc := testContext(t)
	sb := NewFakechrootSandbox(bc, NewExecutor(context.Background(), 0))

	_, err := sb.Run(context.Background(), Command{Name: "true"})
	assert.Error(t, err)
}

func TestControlFilesManifest(t *testing.T) {
	bc := testContext(t)
	sb := NewFakechrootSandbox(bc, nil)

	files, err := sb.ControlFiles()
	require.NoError(t, err)
	assert.Equal(t, defaultControlFiles, files)

	writeTestFile(t, filepath.Join(bc.BuildDir, controlFilesManifest), "# shipped by the runtime\n.tools/usr/bin/fakechroot\n\n.root/etc/profile\n")
	files, err = sb.ControlFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{".tools/usr/bin/fakechroot", ".root/etc/profile"}, files)

	writeTestFile(t, filepath.Join(bc.BuildDir, controlFilesManifest), "/etc/passwd\n")
	_, err = sb.ControlFiles()
	assert.Error(t, err)
}
