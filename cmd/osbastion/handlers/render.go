package handlers

import (
	"fmt"
	"io"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/config"
)

// RenderCloudInit handles the render-cloud-init command: it prints the
// user-data document setup-bastion would send, without any cloud access.
func RenderCloudInit(in *config.Inputs, o Overrides, w io.Writer) error {
	spec, err := config.ResolveSpec(in, o.specFile(in))
	if err != nil {
		return err
	}
	if spec.SSHPublicKey == "" {
		return fmt.Errorf("%w: ssh_public_key is required to render user-data", bastion.ErrInvalidConfig)
	}

	dir := o.CloudInitDir
	if dir == "" {
		s, err := config.LoadSettings(in, spec.Name)
		if err != nil {
			return err
		}
		dir = s.CloudInitDir
	}

	doc, err := renderUserData(spec, dir)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, doc)
	return err
}
