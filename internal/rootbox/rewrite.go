package rootbox

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
)

// Relocation moves the embedded location of the sandbox from one absolute directory to another.
type Relocation struct {
	From string
	To   string
}

// Reverse returns the relocation in the opposite direction.
func (r Relocation) Reverse() Relocation { return Relocation{From: r.To, To: r.From} }

// Apply rewrites the control files (relative to baseDir) for this relocation.
// Identical directories still require every control file to be present.
func (r Relocation) Apply(baseDir string, controlFiles []string) error {
	files := make([]string, len(controlFiles))
	for i, rel := range controlFiles {
		files[i] = filepath.Join(baseDir, rel)
	}
	return RewritePaths(r.From, r.To, files)
}

// RewritePaths replaces every occurrence of the directory oldPrefix with newPrefix in
// each file. An occurrence counts only on a path boundary: /app matches in "/app",
// "/app/lib", "/app:" or "'/app'" but not in "/application" or "/srv/app".
// A missing file is fatal: the sandbox cannot work without its control files.
func RewritePaths(oldPrefix, newPrefix string, files []string) error {
	oldB, newB := []byte(trimDirSlash(oldPrefix)), []byte(trimDirSlash(newPrefix))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return &RewriteError{Path: path, Err: err}
		}
		if !info.Mode().IsRegular() {
			return &RewriteError{Path: path, Err: os.ErrInvalid}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return &RewriteError{Path: path, Err: err}
		}
		if bytes.Equal(oldB, newB) {
			continue
		}
		out, n := replaceDir(data, oldB, newB)
		if n == 0 {
			continue
		}
		if err := renameio.WriteFile(path, out, info.Mode().Perm()); err != nil {
			return &RewriteError{Path: path, Err: err}
		}
		debugf("Rewrote %d occurrence(s) in %s: %s -> %s\n", n, path, oldPrefix, newPrefix)
	}
	return nil
}

// trimDirSlash drops trailing separators, keeping "/" itself.
func trimDirSlash(p string) string {
	if t := strings.TrimRight(p, "/"); t != "" {
		return t
	}
	return p
}

// replaceDir replaces the boundary-delimited occurrences of old and returns how many it replaced.
func replaceDir(data, old, new []byte) ([]byte, int) {
	var out bytes.Buffer
	n, i := 0, 0
	for {
		j := bytes.Index(data[i:], old)
		if j < 0 {
			break
		}
		at := i + j
		end := at + len(old)
		if (at > 0 && isPathByte(data[at-1])) || (end < len(data) && isNameByte(data[end])) {
			out.Write(data[i : at+1])
			i = at + 1
			continue
		}
		out.Write(data[i:at])
		out.Write(new)
		i = end
		n++
	}
	if n == 0 {
		return data, 0
	}
	out.Write(data[i:])
	return out.Bytes(), n
}

// isNameByte reports bytes that continue a path component.
func isNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	return b == '.' || b == '_' || b == '-' || b == '+' || b == '~'
}

// isPathByte reports bytes that may precede a directory name inside a longer path.
func isPathByte(b byte) bool { return b == '/' || isNameByte(b) }
