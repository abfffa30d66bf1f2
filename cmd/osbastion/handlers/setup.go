package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloudinit"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/provisioning"
	"github.com/imamik/osbastion/internal/util/keygen"
	"github.com/imamik/osbastion/internal/util/naming"
)

// newProbers builds the readiness probes. Replaced in tests.
var newProbers = provisioning.DefaultProbers

// Setup handles the setup-bastion command.
//
// It resolves the bastion spec, generates an ephemeral key pair when no
// public key was given, renders the cloud-init document and drives the
// controller to Ready. Step outputs are written whether or not it succeeds.
// A failed run has already been torn down by the controller.
func Setup(ctx context.Context, in *config.Inputs, o Overrides, stdout io.Writer) error {
	spec, err := config.LoadSpec(in, o.specFile(in))
	if err != nil {
		return err
	}
	settings, err := loadSettings(in, spec.Name, o)
	if err != nil {
		return err
	}
	timeouts := loadTimeouts()

	var privateKey []byte
	var privateKeyPath string
	if spec.SSHPublicKey == "" {
		privateKeyPath = filepath.Join(filepath.Dir(settings.LedgerPath), naming.PrivateKeyFile(spec.Name))
		kp, err := ensureKeyPair(privateKeyPath, keygen.Algorithm(settings.KeyType), spec.Name)
		if err != nil {
			return err
		}
		spec.SSHPublicKey = kp.AuthorizedKey()
		privateKey = kp.PrivateKey
	}

	userData, err := renderUserData(spec, settings.CloudInitDir)
	if err != nil {
		return err
	}

	var keyForProbe []byte
	if settings.WaitForCloudInit {
		keyForProbe = privateKey
		if keyForProbe == nil {
			logger.Info("Not waiting for cloud-init: no private key for the supplied public key")
		}
	}
	probers := newProbers(timeouts, spec.LoginUser(), keyForProbe)

	s, err := openSession(ctx, spec, settings, timeouts, probers)
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info("Provisioning bastion", "name", spec.Name, "provider", spec.Provider, "region", spec.Region,
		"ledger", settings.LedgerPath)

	res, provisionErr := s.ctrl.Provision(ctx, provisioning.Request{
		Spec:           spec,
		UserData:       userData,
		PrivateKeyPath: privateKeyPath,
	})

	outs := []output{
		{Name: "state", Value: string(s.ctrl.State())},
		{Name: "ledger_path", Value: settings.LedgerPath},
	}
	if res != nil {
		outs = append(outs,
			output{Name: "address", Value: res.Address},
			output{Name: "server_id", Value: res.ServerID},
		)
	}
	if privateKeyPath != "" && provisionErr == nil {
		outs = append(outs, output{Name: "private_key_path", Value: privateKeyPath})
	}
	if err := writeOutputs(settings.OutputFile, outs); err != nil {
		return errors.Join(provisionErr, err)
	}

	if provisionErr != nil {
		if s.ctrl.State() == bastion.StateDestroyed {
			removePrivateKey(privateKeyPath)
		}
		var pe *provisioning.ProvisionError
		if errors.As(provisionErr, &pe) && pe.Teardown != nil {
			var te *bastion.TeardownError
			if errors.As(pe.Teardown, &te) {
				fmt.Fprint(stdout, renderLeaks(te.Leaks))
			}
		}
		return provisionErr
	}

	if res.AlreadyReady {
		fmt.Fprintf(stdout, "Bastion %s is already ready at %s\n", spec.Name, res.Address)
	} else {
		fmt.Fprintf(stdout, "Bastion %s is ready at %s\n", spec.Name, res.Address)
	}
	if privateKeyPath != "" {
		fmt.Fprintf(stdout, "  ssh -i %s %s@%s\n", privateKeyPath, spec.LoginUser(), res.Address)
	}
	return nil
}

// ensureKeyPair reuses the key at path from an interrupted run, so the
// keypair adopted from the cloud still matches, or generates a new one.
func ensureKeyPair(path string, alg keygen.Algorithm, comment string) (*keygen.KeyPair, error) {
	if _, err := os.Stat(path); err == nil {
		kp, err := keygen.LoadPrivateKey(path)
		if err != nil {
			return nil, err
		}
		logger.V(1).Info("Reusing key pair", "path", path)
		return kp, nil
	}

	kp, err := keygen.Generate(alg, comment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bastion.ErrInvalidConfig, err)
	}
	if err := kp.WritePrivateKey(path); err != nil {
		return nil, err
	}
	logger.Info("Generated ephemeral key pair", "path", path, "type", string(alg))
	return kp, nil
}

// renderUserData builds the cloud-init document for spec from the fragments
// in dir.
func renderUserData(spec *bastion.Spec, dir string) (string, error) {
	fragments, err := cloudinit.LoadFragments(dir)
	if err != nil {
		return "", err
	}
	return cloudinit.Render(cloudinit.Config{
		Hostname:       spec.Name,
		User:           spec.LoginUser(),
		AuthorizedKeys: []string{spec.SSHPublicKey},
		AllowedCIDRs:   spec.AllowedCIDRs,
		Fragments:      fragments,
	})
}
