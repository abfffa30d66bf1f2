package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/config"
)

// Scripts are the wrapper scripts the composite steps invoke.
var Scripts = []string{"setup-bastion.sh", "teardown-bastion.sh"}

// ScriptsDir is the directory holding Scripts, relative to the action root.
const ScriptsDir = "scripts"

// CheckLayout verifies the files action.yaml depends on: every script in
// Scripts exists under root/scripts and is executable, and the cloud-init
// fragment directory exists. All problems are reported together.
func CheckLayout(root string) error {
	var errs []error

	scripts := filepath.Join(root, ScriptsDir)
	if err := checkDir(scripts); err != nil {
		errs = append(errs, err)
	} else {
		for _, name := range Scripts {
			if err := checkExecutable(filepath.Join(scripts, name)); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := checkDir(filepath.Join(root, config.DefaultCloudInitDir)); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", bastion.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
