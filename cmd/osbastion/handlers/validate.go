package handlers

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/manifest"
)

// Validate handles the validate command. It checks the manifest and the
// files it references and, when withInputs is set, that the current inputs
// form a usable spec for the selected operation.
func Validate(in *config.Inputs, manifestPath string, withInputs bool, o Overrides, w io.Writer) error {
	action, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	if err := manifest.CheckLayout(filepath.Dir(manifestPath)); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s is valid (%d inputs, %d outputs)\n",
		okStyle.Render("✓"), manifestPath, len(action.Inputs), len(action.Outputs))

	if !withInputs {
		return nil
	}

	in = in.WithDefaults(action.Defaults())
	if err := action.CheckInputs(in); err != nil {
		return err
	}
	load := config.LoadSpec
	if in.Get("operation") == config.OperationDestroy {
		load = config.LoadAccessSpec
	}
	spec, err := load(in, o.specFile(in))
	if err != nil {
		return err
	}
	if _, err := loadSettings(in, spec.Name, o); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s inputs are valid for %s of bastion %s\n",
		okStyle.Render("✓"), in.Get("operation"), spec.Name)
	return nil
}
