package rootbox

import (
	"context"
	"fmt"
	"os"

	"github.com/google/renameio"
)

// InitState is the outcome of the init script step.
type InitState int

const (
	InitNotRun InitState = iota
	InitSucceeded
	InitFailed
)

func (s InitState) String() string {
	switch s {
	case InitSucceeded:
		return "succeeded"
	case InitFailed:
		return "failed"
	}
	return "not run"
}

// InitResult records what the init script did. ExitCode is informational:
// State is decided by the sentinel file alone.
type InitResult struct {
	State    InitState
	ExitCode int
	Output   string
}

// InitRunner runs the application's init.R inside the sandbox.
type InitRunner struct {
	Sandbox Sandbox
}

type initWrapperData struct {
	Script   string
	AppDir   string
	Mirror   string
	Sentinel string
}

// Run executes the init script through a generated wrapper. The script succeeded
// if and only if the wrapper left the sentinel behind, whatever its exit code.
func (r *InitRunner) Run(ctx context.Context, bc BuildContext) (InitResult, error) {
	script := bc.path(InitScriptFile)
	if !fileExists(script) {
		debugf("No %s, skipping init script\n", InitScriptFile)
		return InitResult{State: InitNotRun}, nil
	}

	sentinel := bc.path(SentinelFile)
	wrapper := bc.path(InitWrapperFile)
	if err := os.Remove(sentinel); err != nil && !os.IsNotExist(err) {
		return InitResult{}, fmt.Errorf("remove stale %s: %w", SentinelFile, err)
	}

	appDir := bc.SandboxAppDir()
	body, err := renderAsset("init-wrapper.sh.tmpl", initWrapperData{
		Script:   appDir + "/" + InitScriptFile,
		AppDir:   appDir,
		Mirror:   bc.MirrorURL,
		Sentinel: appDir + "/" + SentinelFile,
	})
	if err != nil {
		return InitResult{}, err
	}
	if err := renameio.WriteFile(wrapper, body, 0o755); err != nil {
		return InitResult{}, fmt.Errorf("write %s: %w", InitWrapperFile, err)
	}

	step("Running %s", InitScriptFile)
	res, err := r.Sandbox.Run(ctx, Command{
		Name: "/bin/sh",
		Args: []string{appDir + "/" + InitWrapperFile},
		Dir:  appDir,
		Env:  map[string]string{"CRAN_MIRROR": bc.MirrorURL},
	})
	if err != nil {
		return InitResult{}, err
	}

	result := InitResult{ExitCode: res.ExitCode, Output: res.Output}
	if !fileExists(sentinel) {
		result.State = InitFailed
		return result, &InitScriptError{ExitCode: res.ExitCode, Output: res.Output}
	}

	result.State = InitSucceeded
	if res.ExitCode != 0 {
		logger.Warn("init script left its success marker but exited non-zero", "exit", res.ExitCode)
	}
	for _, p := range []string{sentinel, wrapper} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return result, fmt.Errorf("clean up %s: %w", p, err)
		}
	}
	debugf("%s output:\n%s\n", InitScriptFile, res.Output)
	return result, nil
}
