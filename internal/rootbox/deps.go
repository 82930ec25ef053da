package rootbox

import (
	"bufio"
	"context"
	"os"
	"strings"
)

// ReadDependencyManifest returns the package names listed in the Aptfile, one per
// line, in order. Blank lines and # comments are skipped. An absent manifest lists nothing.
func ReadDependencyManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var pkgs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		pkgs = append(pkgs, line)
	}
	return pkgs, scanner.Err()
}

// DependencyInstaller installs native packages inside the sandbox with apt-get.
type DependencyInstaller struct {
	Sandbox Sandbox
}

// InstallAll refreshes the index, installs every package in a single apt-get
// call and prunes the package caches. With no packages it runs nothing.
func (d *DependencyInstaller) InstallAll(ctx context.Context, bc BuildContext, packages []string) error {
	if len(packages) == 0 {
		debugf("No %s entries, skipping native dependencies\n", ManifestFile)
		return nil
	}

	step("Installing %d native package(s): %s", len(packages), strings.Join(packages, " "))

	if err := d.run(ctx, bc, "update", Command{
		Name: "apt-get",
		Args: []string{"update", "-q"},
	}); err != nil {
		return err
	}

	args := append([]string{"install", "-y", "-q", "--no-install-recommends"}, packages...)
	if err := d.run(ctx, bc, "install", Command{Name: "apt-get", Args: args}); err != nil {
		return err
	}

	cleanup := Command{
		Name: "/bin/sh",
		Args: []string{"-c", "apt-get clean && rm -rf /var/lib/apt/lists/*"},
	}
	if err := d.run(ctx, bc, "clean", cleanup); err != nil {
		logger.Warn("apt cache cleanup failed, sandbox is larger than necessary", "err", err)
	}
	return nil
}

func (d *DependencyInstaller) run(ctx context.Context, bc BuildContext, stepName string, cmd Command) error {
	cmd.Dir = bc.SandboxAppDir()
	res, err := d.Sandbox.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &DependencyInstallError{Step: stepName, ExitCode: res.ExitCode, Output: res.Output}
	}
	debugf("apt-get %s output:\n%s\n", stepName, res.Output)
	return nil
}
