package rootbox

import (
	"embed"
	"os"
	"runtime"

	charmlog "github.com/charmbracelet/log"
	"github.com/gookit/color"
)

// Global variables
var (
	Debug          bool
	version        = "dev" // overridden at build time
	arch           = runtime.GOARCH
	buildDate      = "unknown" // overridden at build time
	builderVersion = "20"      // cache generation of the prebuilt runtime trees; overridden at build time

	//go:embed assets/*
	embeddedAssets embed.FS
)

// Well-known file names inside the build directory.
const (
	VersionFile      = ".r-version"
	ManifestFile     = "Aptfile"
	InitScriptFile   = "init.R"
	ConfigFileName   = ".rootbox.conf"
	SentinelFile     = ".rootbox-init-success"
	InitWrapperFile  = ".rootbox-init.sh"
	rootDirName      = ".root"
	toolsDirName     = ".tools"
	defaultDeployDir = "/app"
)

// color helpers
var (
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// logger carries structured records (warnings, timings) next to the colored step output.
var logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	Prefix: "rootbox",
})

// setDebug toggles debugf output and the structured logger level together.
func setDebug(on bool) {
	Debug = on
	if on {
		logger.SetLevel(charmlog.DebugLevel)
		return
	}
	logger.SetLevel(charmlog.InfoLevel)
}
