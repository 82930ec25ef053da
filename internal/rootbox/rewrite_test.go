package rootbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewritePathsRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
		content  string
	}{
		{"deploy to build", "/app/", "/tmp/build_123/", "root=/app/.root\nlib=/app/.tools/lib:/app/.tools/lib64\n"},
		{"longer to shorter", "/tmp/build_abcdef/", "/a/", "x /tmp/build_abcdef/.root y"},
		{"prefix absent", "/nowhere/", "/else/", "nothing to see\n"},
		{"binary content", "/app/", "/build/", "\x00\x01/app/bin\x00/app/lib\xff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			a := filepath.Join(dir, "a.env")
			b := filepath.Join(dir, "sub", "b.sh")
			writeTestFile(t, a, tt.content)
			writeTestFile(t, b, tt.content+tt.content)

			require.NoError(t, RewritePaths(tt.old, tt.new, []string{a, b}))
			require.NoError(t, RewritePaths(tt.new, tt.old, []string{a, b}))

			assert.Equal(t, tt.content, readTestFile(t, a))
			assert.Equal(t, tt.content+tt.content, readTestFile(t, b))
		})
	}
}

func TestRewritePathsReplacesEveryOccurrence(t *testing.T) {
	p := filepath.Join(t.TempDir(), "chroot.env")
	writeTestFile(t, p, "A=/app/.root B=/app/.tools C=/application")

	require.NoError(t, RewritePaths("/app/", "/build/", []string{p}))

	assert.Equal(t, "A=/build/.root B=/build/.tools C=/application", readTestFile(t, p))
}

func TestRewritePathsPreservesMode(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fakechroot")
	writeTestFile(t, p, "#!/bin/sh\nexec /app/.tools/bin/x\n")
	require.NoError(t, os.Chmod(p, 0o755))

	require.NoError(t, RewritePaths("/app/", "/b/", []string{p}))

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestRewritePathsMissingFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "gone")

	err := RewritePaths("/app/", "/b/", []string{missing})

	var rerr *RewriteError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, missing, rerr.Path)
	assert.True(t, os.IsNotExist(errors.Unwrap(err)))
}

func TestRewritePathsRejectsDirectory(t *testing.T) {
	dir := t.TempDir()

	err := RewritePaths("/app/", "/b/", []string{dir})

	var rerr *RewriteError
	assert.True(t, errors.As(err, &rerr))
}

func TestRelocationApply(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, ".tools/etc/chroot.env"), "root=/app/.root\n")

	r := Relocation{From: "/app", To: base}
	require.NoError(t, r.Apply(base, []string{".tools/etc/chroot.env"}))
	assert.Equal(t, "root="+base+"/.root\n", readTestFile(t, filepath.Join(base, ".tools/etc/chroot.env")))

	require.NoError(t, r.Reverse().Apply(base, []string{".tools/etc/chroot.env"}))
	assert.Equal(t, "root=/app/.root\n", readTestFile(t, filepath.Join(base, ".tools/etc/chroot.env")))
}

func TestRelocationSameDirChecksControlFiles(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, "chroot.env"), "root=/app/.root\n")

	r := Relocation{From: "/app", To: "/app/"}
	require.NoError(t, r.Apply(base, []string{"chroot.env"}))
	assert.Equal(t, "root=/app/.root\n", readTestFile(t, filepath.Join(base, "chroot.env")))

	err := r.Apply(base, []string{"chroot.env", "does/not/exist"})
	var rerr *RewriteError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, filepath.Join(base, "does/not/exist"), rerr.Path)
}

func TestRelocationRewritesBareAndQuotedDir(t *testing.T) {
	base := t.TempDir()
	env := filepath.Join(base, ".tools/etc/fakechroot/chroot.env")
	content := "FAKECHROOT_EXCLUDE_PATH=/dev:/proc:/app\n" +
		"FAKECHROOT_BASE=\"/app\"\n" +
		"LIBS='/app':/app/.tools/lib\n" +
		"ROOT=/app\n" +
		"KEEP=/application:/srv/app:/app.bak\n" +
		"/app"

	writeTestFile(t, env, content)
	r := Relocation{From: "/app", To: base}
	require.NoError(t, r.Apply(base, []string{".tools/etc/fakechroot/chroot.env"}))

	got := readTestFile(t, env)
	assert.Equal(t, "FAKECHROOT_EXCLUDE_PATH=/dev:/proc:"+base+"\n"+
		"FAKECHROOT_BASE=\""+base+"\"\n"+
		"LIBS='"+base+"':"+base+"/.tools/lib\n"+
		"ROOT="+base+"\n"+
		"KEEP=/application:/srv/app:/app.bak\n"+
		base, got)
	assert.NotContains(t, got, ":/app\n")
	assert.NotContains(t, got, "\"/app\"")

	require.NoError(t, r.Reverse().Apply(base, []string{".tools/etc/fakechroot/chroot.env"}))
	assert.Equal(t, content, readTestFile(t, env))
}
