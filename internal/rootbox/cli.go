package rootbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/pflag"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage")

// printHelp prints the commands table
func printHelp(w io.Writer) {
	fmt.Fprintln(w, colSuccess.Sprintf("Usage: rootbox <command> [arguments]"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, color.Info.Sprintf("Available Commands:"))

	cmds := []struct {
		Cmd  string
		Args string
		Desc string
	}{
		{"build", "<buildDir> <cacheDir> <envDir>", "Provision the R sandbox (also the default)"},
		{"detect", "<buildDir>", "Exit 0 if the app wants an R sandbox"},
		{"key", "<buildDir> [envDir]", "Print the cache key for the app's inputs"},
		{"log", "<cacheDir>", "Show the output of the last failed build"},
		{"purge", "[--yes] <cacheDir>", "Remove cached sandbox archives"},
		{"version", "", "Version information"},
	}

	width := 0
	for _, c := range cmds {
		if n := len(c.Cmd) + len(c.Args) + 1; n > width {
			width = n
		}
	}
	for _, c := range cmds {
		usage := c.Cmd + " " + c.Args
		fmt.Fprintf(w, "  %s %s%s%s\n", color.Bold.Sprint(c.Cmd), color.Cyan.Sprint(c.Args),
			strings.Repeat(" ", width+4-len(usage)), color.Info.Sprint(c.Desc))
	}
	fmt.Fprintln(w)
}

// Main is the CLI entrypoint for cmd/rootbox.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Cancelling build\n", sig)
			cancel()

			// A second signal, or a stuck sandboxed command, forces the exit.
			select {
			case <-sigs:
				color.Danger.Println("Second interrupt received. Forcing immediate exit.")
			case <-time.After(10 * time.Second):
				color.Danger.Println("Graceful shutdown timeout. Exiting.")
			}
			os.Exit(130)
		case <-ctx.Done():
		}
	}()

	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run dispatches one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printHelp(stderr)
		return exitUsage
	}

	var err error
	switch args[0] {
	case "build":
		err = runBuild(ctx, args[1:], stderr)
	case "detect":
		err = runDetect(args[1:], stdout, stderr)
	case "key":
		err = runKey(args[1:], stdout, stderr)
	case "log":
		err = runLog(args[1:], stdout, stderr)
	case "purge":
		err = runPurge(args[1:], stdin, stdout, stderr)
	case "version", "--version":
		fmt.Fprintln(stdout, colNote.Sprintf("rootbox %s (%s) built %s", version, arch, buildDate))
	case "help", "--help", "-h":
		printHelp(stdout)
	default:
		// bin/compile style: rootbox <buildDir> <cacheDir> <envDir>
		if !strings.HasPrefix(args[0], "-") && len(args) >= 3 {
			err = runBuild(ctx, args, stderr)
			break
		}
		fmt.Fprintln(stderr, colError.Sprintf("Unknown command: %s", args[0]))
		printHelp(stderr)
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage), errors.Is(err, pflag.ErrHelp):
		return exitUsage
	}
	reportError(stderr, err)
	return exitFailure
}

// reportError prints the diagnostic and, for failed sandbox commands, their output.
func reportError(w io.Writer, err error) {
	var silent silentError
	if errors.As(err, &silent) {
		return
	}
	if output, ok := capturedOutput(err); ok && output != "" {
		fmt.Fprintln(w, colNote.Sprintf("----- captured output -----"))
		fmt.Fprint(w, output)
		if !strings.HasSuffix(output, "\n") {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, colNote.Sprintf("---------------------------"))
	}
	fmt.Fprintln(w, colError.Sprintf("rootbox: %v", err))
}

// silentError sets a non-zero exit code without printing anything.
type silentError struct{ msg string }

func (e silentError) Error() string { return e.msg }

func newFlagSet(name, usage string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: rootbox %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// loadInputs reads the build directory config and the env dir, exports the
// admitted variables and lets them override the config.
func loadInputs(buildDir, envDir string) (*Config, error) {
	cfg, err := loadConfig(filepath.Join(buildDir, ConfigFileName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ConfigFileName, err)
	}
	mergeEnvOverrides(cfg, processEnv())

	filter, err := NewEnvFilter(cfg.Get("ROOTBOX_ENV_ALLOW", ""), cfg.Get("ROOTBOX_ENV_DENY", ""))
	if err != nil {
		return nil, err
	}
	if envDir != "" {
		vars, err := ImportEnvDir(envDir, filter)
		if err != nil {
			return nil, err
		}
		if err := exportEnv(vars); err != nil {
			return nil, err
		}
		mergeEnvOverrides(cfg, vars)
	}
	if cfg.Bool("ROOTBOX_DEBUG") {
		setDebug(true)
	}
	return cfg, nil
}

func processEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func runBuild(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("build", "<buildDir> <cacheDir> <envDir>", stderr)
	debug := fs.BoolP("debug", "d", false, "Print sandbox commands and their output")
	exportFlag := fs.String("export-file", "", "Where to write the environment declarations (\"none\" to skip)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return errUsage
	}
	if *debug {
		setDebug(true)
	}
	buildDir, cacheDir, envDir := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	cfg, err := loadInputs(buildDir, envDir)
	if err != nil {
		return err
	}
	bc, err := newBuildContext(buildDir, cacheDir, envDir, cfg)
	if err != nil {
		return err
	}

	local := NewLocalCache(bc.CacheDir)
	var store CacheStore = local
	if r2Configured(cfg) {
		remote, err := NewR2Client(ctx, cfg)
		if err != nil {
			logger.Warn("remote cache disabled", "err", err)
		} else {
			store = &TieredCache{Local: local, Remote: remote}
		}
	}

	sandbox := NewFakechrootSandbox(bc, NewExecutor(ctx, cfg.Duration("ROOTBOX_COMMAND_TIMEOUT")))
	orch := NewOrchestrator(store, sandbox, NewHTTPFetcher(cfg, local.Dir),
		cfg.List("ROOTBOX_SUPPORTED_PLATFORMS", defaultSupportedPlatforms))
	orch.ExportFile = resolveExportFile(*exportFlag, cfg)

	start := time.Now()
	if err := orch.Build(ctx, bc); err != nil {
		return err
	}
	step("R %s sandbox ready in %s", bc.RuntimeVersion, time.Since(start).Round(time.Second))
	return nil
}

// resolveExportFile picks the flag, then ROOTBOX_EXPORT_FILE, then <exe dir>/../export.
func resolveExportFile(flagValue string, cfg *Config) string {
	p := flagValue
	if p == "" {
		p = cfg.Get("ROOTBOX_EXPORT_FILE", "")
	}
	if p == "none" {
		return ""
	}
	if p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "..", "export")
}

func runDetect(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("detect", "<buildDir>", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	for _, name := range []string{VersionFile, InitScriptFile, ManifestFile} {
		if fileExists(filepath.Join(fs.Arg(0), name)) {
			fmt.Fprintln(stdout, "R")
			return nil
		}
	}
	return silentError{msg: "no R application detected"}
}

func runKey(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("key", "<buildDir> [envDir]", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return errUsage
	}
	buildDir, envDir := fs.Arg(0), fs.Arg(1)

	cfg, err := loadInputs(buildDir, envDir)
	if err != nil {
		return err
	}
	placeholder := os.TempDir()
	if envDir == "" {
		envDir = placeholder
	}
	bc, err := newBuildContext(buildDir, placeholder, envDir, cfg)
	if err != nil {
		return err
	}
	if err := validateBuildContext(bc, cfg.List("ROOTBOX_SUPPORTED_PLATFORMS", defaultSupportedPlatforms)); err != nil {
		return err
	}
	fmt.Fprintln(stdout, ComputeCacheKey(bc))
	return nil
}

func runLog(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("log", "<cacheDir>", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	text, err := readFailureLog(fs.Arg(0))
	if os.IsNotExist(err) {
		return errors.New("no failed build recorded in this cache")
	}
	if err != nil {
		return err
	}
	return showLog(stdout, "rootbox: last failed build", text)
}
