package rootbox

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"github.com/ulikunitz/xz"
)

const failureLogName = "last-failure.log.xz"

func failureLogPath(cacheDir string) string {
	return filepath.Join(cacheDir, "rootbox", failureLogName)
}

// saveFailureLog keeps the output of a failed build for "rootbox log".
func saveFailureLog(cacheDir string, cause error, output string) error {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		return err
	}
	fmt.Fprintf(xw, "# rootbox %s, %s\n# %v\n\n", version, time.Now().UTC().Format(time.RFC3339), cause)
	if _, err := io.WriteString(xw, output); err != nil {
		return err
	}
	if err := xw.Close(); err != nil {
		return err
	}

	path := failureLogPath(cacheDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// readFailureLog returns the last saved failure output.
func readFailureLog(cacheDir string) (string, error) {
	f, err := os.Open(failureLogPath(cacheDir))
	if err != nil {
		return "", err
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("decompress failure log: %w", err)
	}
	data, err := io.ReadAll(xr)
	if err != nil {
		return "", fmt.Errorf("decompress failure log: %w", err)
	}
	return string(data), nil
}

func clearFailureLog(cacheDir string) {
	if err := os.Remove(failureLogPath(cacheDir)); err != nil && !os.IsNotExist(err) {
		debugf("Could not remove old failure log: %v\n", err)
	}
}
