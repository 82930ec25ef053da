package rootbox

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// CacheKey addresses one archived sandbox.
type CacheKey string

// ComputeCacheKey is a pure function of platform, runtime version and builder version.
// Each component is length-prefixed so ("a-b","c") and ("a","b-c") never collide.
func ComputeCacheKey(bc BuildContext) CacheKey {
	h := blake3.New(32, nil)
	for _, part := range []string{bc.PlatformID, bc.RuntimeVersion, bc.BuilderVersion} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return CacheKey(fmt.Sprintf("%s-%s-%s-%s",
		sanitizeKeyPart(bc.PlatformID), sanitizeKeyPart(bc.RuntimeVersion),
		sanitizeKeyPart(bc.BuilderVersion), sum[:16]))
}

// ArchiveName is the file (and object) name of the archive for this key.
func (k CacheKey) ArchiveName() string { return string(k) + ".tar.zst" }

// sanitizeKeyPart keeps the readable prefix safe for file and object names.
func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			return r
		}
		return '_'
	}, s)
}
