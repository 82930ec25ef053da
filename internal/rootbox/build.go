package rootbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"
)

// Phase is one step of a build, in the order they run.
type Phase string

const (
	PhaseValidate      Phase = "validate"
	PhaseFetch         Phase = "fetch"
	PhaseVirtualizeIn  Phase = "virtualize-in"
	PhaseInstall       Phase = "install"
	PhaseInit          Phase = "init"
	PhaseVirtualizeOut Phase = "virtualize-out"
	PhaseCache         Phase = "cache"
	PhaseOutputs       Phase = "outputs"
	PhaseDone          Phase = "done"
)

// Orchestrator sequences one build. Phases never overlap: each one mutates
// the sandbox tree the next one works on.
type Orchestrator struct {
	Cache     CacheStore
	Sandbox   Sandbox
	Fetcher   Fetcher
	Installer *DependencyInstaller
	Init      *InitRunner
	// Supported lists the accepted platform identifiers.
	Supported []string
	// ExportFile receives the declarations fragment; empty skips it.
	ExportFile string

	phases   []Phase
	cacheHit bool
}

// NewOrchestrator wires the installer and init runner to the same sandbox.
func NewOrchestrator(cache CacheStore, sandbox Sandbox, fetcher Fetcher, supported []string) *Orchestrator {
	return &Orchestrator{
		Cache:     cache,
		Sandbox:   sandbox,
		Fetcher:   fetcher,
		Installer: &DependencyInstaller{Sandbox: sandbox},
		Init:      &InitRunner{Sandbox: sandbox},
		Supported: supported,
	}
}

// Phases returns the phases entered so far, including the one that failed.
func (o *Orchestrator) Phases() []Phase { return slices.Clone(o.phases) }

// CacheHit reports whether the sandbox was restored from the cache.
func (o *Orchestrator) CacheHit() bool { return o.cacheHit }

func (o *Orchestrator) enter(ctx context.Context, p Phase) error {
	o.phases = append(o.phases, p)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("build aborted before %s: %w", p, err)
	}
	debugf("[phase] %s\n", p)
	return nil
}

// Build provisions the sandbox for bc. The configuration is validated before
// the network or the sandbox is touched, and the cache is only written once
// dependencies and the init script completed.
func (o *Orchestrator) Build(ctx context.Context, bc BuildContext) (err error) {
	o.phases = o.phases[:0]
	o.cacheHit = false
	start := time.Now()

	if err := o.enter(ctx, PhaseValidate); err != nil {
		return err
	}
	if err := validateBuildContext(bc, o.Supported); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			o.recordFailure(bc, err)
		} else {
			clearFailureLog(bc.CacheDir)
		}
	}()

	key := ComputeCacheKey(bc)
	step("Provisioning R %s for %s (cache key %s)", bc.RuntimeVersion, bc.PlatformID, key)

	if err := o.enter(ctx, PhaseFetch); err != nil {
		return err
	}
	if err := o.materialize(ctx, bc, key); err != nil {
		return err
	}

	controlFiles, err := o.Sandbox.ControlFiles()
	if err != nil {
		return &RewriteError{Path: controlFilesManifest, Err: err}
	}
	toBuildDir := Relocation{From: bc.DeployDir, To: bc.BuildDir}

	if err := o.enter(ctx, PhaseVirtualizeIn); err != nil {
		return err
	}
	if err := toBuildDir.Apply(bc.BuildDir, controlFiles); err != nil {
		return err
	}

	if err := o.enter(ctx, PhaseInstall); err != nil {
		return err
	}
	pkgs, err := ReadDependencyManifest(bc.path(ManifestFile))
	if err != nil {
		return fmt.Errorf("read %s: %w", ManifestFile, err)
	}
	if err := o.Installer.InstallAll(ctx, bc, pkgs); err != nil {
		return err
	}

	if err := o.enter(ctx, PhaseInit); err != nil {
		return err
	}
	if _, err := o.Init.Run(ctx, bc); err != nil {
		return err
	}

	if err := o.enter(ctx, PhaseVirtualizeOut); err != nil {
		return err
	}
	if err := toBuildDir.Reverse().Apply(bc.BuildDir, controlFiles); err != nil {
		return err
	}

	if err := o.enter(ctx, PhaseCache); err != nil {
		return err
	}
	if err := o.Cache.Save(ctx, key, []string{bc.RootDir(), bc.ToolsDir()}); err != nil {
		CacheWriteWarning{Key: string(key), Err: err}.log()
	} else {
		step("Cached sandbox for next build")
	}

	if err := o.enter(ctx, PhaseOutputs); err != nil {
		return err
	}
	if err := WriteOutputs(bc, o.ExportFile); err != nil {
		return err
	}

	o.phases = append(o.phases, PhaseDone)
	logger.Debug("build finished", "key", key, "cache_hit", o.cacheHit, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// materialize leaves .root and .tools in deploy form under BuildDir, from the
// cache when possible and from the artifact server otherwise.
func (o *Orchestrator) materialize(ctx context.Context, bc BuildContext, key CacheKey) error {
	if err := clearSandboxTree(bc); err != nil {
		return err
	}

	hit, err := o.Cache.Restore(ctx, key, bc.BuildDir)
	if err != nil {
		return fmt.Errorf("restore cached sandbox: %w", err)
	}
	if hit && !sandboxTreeComplete(bc) {
		logger.Warn("cached sandbox is incomplete, treating as miss", "key", key)
		if err := clearSandboxTree(bc); err != nil {
			return err
		}
		hit = false
	}
	if hit {
		o.cacheHit = true
		step("Restored R %s from cache", bc.RuntimeVersion)
		return nil
	}

	if err := o.Fetcher.Fetch(ctx, bc, bc.BuildDir); err != nil {
		return err
	}
	if !sandboxTreeComplete(bc) {
		return errors.New("fetched runtime is incomplete: .root or .tools is missing")
	}
	return nil
}

func clearSandboxTree(bc BuildContext) error {
	for _, d := range []string{bc.RootDir(), bc.ToolsDir()} {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("clear %s: %w", d, err)
		}
	}
	return nil
}

func sandboxTreeComplete(bc BuildContext) bool {
	return dirExists(bc.RootDir()) && dirExists(bc.ToolsDir())
}

// recordFailure keeps the captured output of a fatal build step for "rootbox log".
func (o *Orchestrator) recordFailure(bc BuildContext, cause error) {
	output, ok := capturedOutput(cause)
	if !ok {
		output = cause.Error() + "\n"
	}
	if err := saveFailureLog(bc.CacheDir, cause, output); err != nil {
		logger.Debug("could not save failure log", "err", err)
	}
}
