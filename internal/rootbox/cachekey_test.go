package rootbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeCacheKeyIsPure(t *testing.T) {
	base := BuildContext{PlatformID: "heroku-22", RuntimeVersion: "4.0.2", BuilderVersion: "20"}

	same := base
	same.BuildDir = "/elsewhere"
	same.MirrorURL = "https://other.example"
	assert.Equal(t, ComputeCacheKey(base), ComputeCacheKey(same), "only the triple feeds the key")

	changes := map[string]func(*BuildContext){
		"platform": func(bc *BuildContext) { bc.PlatformID = "heroku-24" },
		"runtime":  func(bc *BuildContext) { bc.RuntimeVersion = "4.0.3" },
		"builder":  func(bc *BuildContext) { bc.BuilderVersion = "21" },
	}
	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			other := base
			change(&other)
			assert.NotEqual(t, ComputeCacheKey(base), ComputeCacheKey(other))
		})
	}
}

func TestComputeCacheKeyNoBoundaryCollision(t *testing.T) {
	a := BuildContext{PlatformID: "a-b", RuntimeVersion: "c", BuilderVersion: "1"}
	b := BuildContext{PlatformID: "a", RuntimeVersion: "b-c", BuilderVersion: "1"}
	assert.NotEqual(t, ComputeCacheKey(a), ComputeCacheKey(b))
}

func TestCacheKeyArchiveName(t *testing.T) {
	key := ComputeCacheKey(BuildContext{PlatformID: "heroku-22", RuntimeVersion: "4.0.2", BuilderVersion: "20"})
	assert.Regexp(t, `^heroku_22-4\.0\.2-20-[0-9a-f]{16}\.tar\.zst$`, key.ArchiveName())
}
