package rootbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
)

// CacheStore restores and saves archived sandboxes.
// A miss is (false, nil); corrupt archives are misses too.
type CacheStore interface {
	Restore(ctx context.Context, key CacheKey, destDir string) (bool, error)
	Save(ctx context.Context, key CacheKey, srcDirs []string) error
}

// RemoteStore is an optional second tier holding the same archive files.
type RemoteStore interface {
	Download(ctx context.Context, key CacheKey, destPath string) (bool, error)
	Upload(ctx context.Context, key CacheKey, srcPath string) error
}

// LocalCache keeps one <key>.tar.zst per key in Dir.
type LocalCache struct {
	Dir string
}

// NewLocalCache places the archives under <cacheDir>/rootbox.
func NewLocalCache(cacheDir string) *LocalCache {
	return &LocalCache{Dir: filepath.Join(cacheDir, "rootbox")}
}

// ArchivePath is where the archive for key lives.
func (c *LocalCache) ArchivePath(key CacheKey) string {
	return filepath.Join(c.Dir, key.ArchiveName())
}

// Restore extracts the archive into a staging directory inside destDir and only
// then moves its top-level entries into place, so a truncated archive never
// leaves a half-restored tree behind.
func (c *LocalCache) Restore(ctx context.Context, key CacheKey, destDir string) (bool, error) {
	archive := c.ArchivePath(key)
	if !fileExists(archive) {
		debugf("No cached sandbox at %s\n", archive)
		return false, nil
	}

	lock, err := lockShared(archive)
	if err != nil {
		logger.Warn("cannot lock cache archive, treating as miss", "archive", archive, "err", err)
		return false, nil
	}
	defer lock.Release()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", destDir, err)
	}
	staging, err := os.MkdirTemp(destDir, ".rootbox-restore-")
	if err != nil {
		return false, fmt.Errorf("create restore staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	f, err := os.Open(archive)
	if err != nil {
		logger.Warn("cannot open cache archive, treating as miss", "archive", archive, "err", err)
		return false, nil
	}
	err = extractCacheArchive(f, staging)
	f.Close()
	if err != nil {
		logger.Warn("cache archive is corrupt, treating as miss", "archive", archive, "err", err)
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		logger.Warn("cache archive is empty, treating as miss", "archive", archive)
		return false, nil
	}
	for _, e := range entries {
		target := filepath.Join(destDir, e.Name())
		if err := os.RemoveAll(target); err != nil {
			return false, fmt.Errorf("clear %s before restore: %w", target, err)
		}
		if err := os.Rename(filepath.Join(staging, e.Name()), target); err != nil {
			return false, fmt.Errorf("move restored %s into place: %w", e.Name(), err)
		}
	}
	return true, nil
}

// Save archives exactly srcDirs (which must share one parent directory) and
// atomically replaces any previous archive for key while holding its lock.
func (c *LocalCache) Save(ctx context.Context, key CacheKey, srcDirs []string) error {
	if len(srcDirs) == 0 {
		return errors.New("nothing to cache")
	}
	baseDir := filepath.Dir(filepath.Clean(srcDirs[0]))
	names := make([]string, len(srcDirs))
	for i, d := range srcDirs {
		d = filepath.Clean(d)
		if filepath.Dir(d) != baseDir {
			return fmt.Errorf("cached directories must share a parent: %s is not in %s", d, baseDir)
		}
		names[i] = filepath.Base(d)
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", c.Dir, err)
	}
	archive := c.ArchivePath(key)
	lock, err := lockExclusive(archive)
	if err != nil {
		return err
	}
	defer lock.Release()

	pending, err := renameio.TempFile(c.Dir, archive)
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}
	defer pending.Cleanup()

	start := time.Now()
	if err := writeArchive(pending, baseDir, names); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pending.Chmod(0o644); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", archive, err)
	}
	logger.Debug("cache archive written", "archive", archive, "took", time.Since(start).Round(time.Millisecond))

	c.pruneExcept(key)
	return nil
}

// pruneExcept drops archives of other keys; a newer runtime or builder makes them unreachable.
func (c *LocalCache) pruneExcept(key CacheKey) {
	matches, err := filepath.Glob(filepath.Join(c.Dir, "*.tar.zst"))
	if err != nil {
		return
	}
	keep := c.ArchivePath(key)
	for _, m := range matches {
		if m == keep {
			continue
		}
		debugf("Pruning stale cache archive %s\n", m)
		_ = os.Remove(m)
		_ = os.Remove(m + ".lock")
	}
}

// Purge removes every cached archive and returns how many were deleted.
func (c *LocalCache) Purge() (int, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".tar.zst") && !strings.HasSuffix(name, ".lock") {
			continue
		}
		if err := os.Remove(filepath.Join(c.Dir, name)); err != nil {
			return n, err
		}
		if strings.HasSuffix(name, ".tar.zst") {
			n++
		}
	}
	return n, nil
}

// TieredCache consults the remote store after a local miss and
// publishes every local save to it. Remote failures only warn.
type TieredCache struct {
	Local  *LocalCache
	Remote RemoteStore
}

func (t *TieredCache) Restore(ctx context.Context, key CacheKey, destDir string) (bool, error) {
	hit, err := t.Local.Restore(ctx, key, destDir)
	if hit || err != nil || t.Remote == nil {
		return hit, err
	}

	if err := os.MkdirAll(t.Local.Dir, 0o755); err != nil {
		return false, fmt.Errorf("create cache dir %s: %w", t.Local.Dir, err)
	}
	found, err := t.Remote.Download(ctx, key, t.Local.ArchivePath(key))
	if err != nil {
		logger.Warn("remote cache unavailable", "key", key, "err", err)
		return false, nil
	}
	if !found {
		logger.Debug("remote cache miss", "key", key)
		return false, nil
	}
	step("Downloaded cached sandbox from remote cache")
	return t.Local.Restore(ctx, key, destDir)
}

func (t *TieredCache) Save(ctx context.Context, key CacheKey, srcDirs []string) error {
	if err := t.Local.Save(ctx, key, srcDirs); err != nil {
		return err
	}
	if t.Remote == nil {
		return nil
	}
	if err := t.Remote.Upload(ctx, key, t.Local.ArchivePath(key)); err != nil {
		logger.Warn("remote cache upload failed", "key", key, "err", err)
	}
	return nil
}
