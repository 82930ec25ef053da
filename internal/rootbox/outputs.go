package rootbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// entryPoints get a bin/ wrapper that runs them inside the sandbox.
var entryPoints = []string{"R", "Rscript"}

type wrapperData struct {
	Name      string
	Version   string
	DeployDir string
	Mirror    string
}

type envFragmentData struct {
	PlatformID     string
	ToolsDir       string
	RootDir        string
	Mirror         string
	RuntimeVersion string
	BuilderVersion string
}

// WriteOutputs writes the run-time artifacts into the build directory and,
// when exportFile is set, the declarations fragment for later build stages.
func WriteOutputs(bc BuildContext, exportFile string) error {
	binDir := bc.path("bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}
	for _, name := range entryPoints {
		body, err := renderAsset("wrapper.sh.tmpl", wrapperData{
			Name:      name,
			Version:   version,
			DeployDir: bc.DeployDir,
			Mirror:    bc.MirrorURL,
		})
		if err != nil {
			return err
		}
		if err := renameio.WriteFile(filepath.Join(binDir, name), body, 0o755); err != nil {
			return fmt.Errorf("write bin/%s: %w", name, err)
		}
	}

	profileDir := bc.path(".profile.d")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return err
	}
	profile, err := renderAsset("profile.sh.tmpl", envFragmentData{
		Mirror:         bc.MirrorURL,
		RuntimeVersion: bc.RuntimeVersion,
	})
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(profileDir, "rootbox.sh"), profile, 0o644); err != nil {
		return fmt.Errorf("write profile fragment: %w", err)
	}

	if err := installDefaultNginxConfig(bc); err != nil {
		return err
	}

	if exportFile == "" {
		return nil
	}
	return writeExportFile(bc, exportFile)
}

// installDefaultNginxConfig never overwrites a config the application ships.
func installDefaultNginxConfig(bc BuildContext) error {
	dest := bc.path(filepath.Join("config", "nginx.conf.erb"))
	if _, err := os.Lstat(dest); err == nil {
		debugf("Keeping application nginx config %s\n", dest)
		return nil
	}
	data, err := embeddedAssets.ReadFile("assets/nginx.conf.erb")
	if err != nil {
		return fmt.Errorf("read embedded nginx.conf.erb: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write default nginx config: %w", err)
	}
	debugf("Installed default nginx config at %s\n", dest)
	return nil
}

func writeExportFile(bc BuildContext, path string) error {
	body, err := renderAsset("export.sh.tmpl", envFragmentData{
		PlatformID:     bc.PlatformID,
		ToolsDir:       bc.ToolsDir(),
		RootDir:        bc.RootDir(),
		Mirror:         bc.MirrorURL,
		RuntimeVersion: bc.RuntimeVersion,
		BuilderVersion: bc.BuilderVersion,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write export file %s: %w", path, err)
	}
	return nil
}
