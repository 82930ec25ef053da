package rootbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFilterAdmits(t *testing.T) {
	tests := []struct {
		name        string
		allow, deny string
		admitted    []string
		notAdmitted []string
	}{
		{
			name:        "defaults",
			admitted:    []string{"DATABASE_URL", "CRAN_MIRROR", "PATHS", "MY_PATH"},
			notAdmitted: []string{"PATH", "LD_PRELOAD", "LD_LIBRARY_PATH", "GIT_DIR", "CPATH", "JAVA_OPTS"},
		},
		{
			name:        "allow everything cannot re-admit the default deny set",
			allow:       ".*",
			admitted:    []string{"FOO"},
			notAdmitted: []string{"PATH", "LD_PRELOAD", "GIT_DIR"},
		},
		{
			name:        "explicit allow of a denied name",
			allow:       "^(PATH|LD_PRELOAD|FOO)$",
			admitted:    []string{"FOO"},
			notAdmitted: []string{"PATH", "LD_PRELOAD", "BAR"},
		},
		{
			name:        "configured deny adds to defaults",
			deny:        "^SECRET_",
			admitted:    []string{"PUBLIC_KEY"},
			notAdmitted: []string{"SECRET_TOKEN", "PATH"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewEnvFilter(tt.allow, tt.deny)
			require.NoError(t, err)
			for _, name := range tt.admitted {
				assert.True(t, f.Admits(name), name)
			}
			for _, name := range tt.notAdmitted {
				assert.False(t, f.Admits(name), name)
			}
		})
	}
}

func TestNewEnvFilterInvalidPattern(t *testing.T) {
	_, err := NewEnvFilter("(", "")
	var cerr *ConfigurationError
	assert.True(t, errors.As(err, &cerr))

	_, err = NewEnvFilter("", "[")
	assert.True(t, errors.As(err, &cerr))
}

func TestImportEnvDir(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "STACK"), "heroku-22\n")
	writeTestFile(t, filepath.Join(dir, "MULTI"), "  first line  \nsecond line\n")
	writeTestFile(t, filepath.Join(dir, "EMPTY"), "")
	writeTestFile(t, filepath.Join(dir, "PATH"), "/evil/bin\n")
	writeTestFile(t, filepath.Join(dir, "LD_PRELOAD"), "/evil.so")
	writeTestFile(t, filepath.Join(dir, "nested", "INNER"), "x")
	require.NoError(t, os.Symlink(filepath.Join(dir, "STACK"), filepath.Join(dir, "LINKED")))

	f, err := NewEnvFilter("", "")
	require.NoError(t, err)
	vars, err := ImportEnvDir(dir, f)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"STACK": "heroku-22",
		"MULTI": "first line",
		"EMPTY": "",
	}, vars)
}

func TestImportEnvDirMissingIsNoop(t *testing.T) {
	vars, err := ImportEnvDir(filepath.Join(t.TempDir(), "absent"), EnvFilter{})
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestExportEnv(t *testing.T) {
	t.Setenv("ROOTBOX_TEST_EXPORTED", "")
	require.NoError(t, exportEnv(map[string]string{"ROOTBOX_TEST_EXPORTED": "yes"}))
	assert.Equal(t, "yes", os.Getenv("ROOTBOX_TEST_EXPORTED"))
}
