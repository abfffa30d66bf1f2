package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/provisioning"
)

// ErrAborted is returned when the user declines the teardown prompt.
var ErrAborted = errors.New("teardown aborted")

// confirmTeardown asks before deleting anything. Replaced in tests.
var confirmTeardown = func(name string) (bool, error) {
	confirm := false
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Tear down bastion %q?", name)).
			Description("Every resource recorded in its ledger will be deleted. This cannot be undone.").
			Affirmative("Yes, tear down").
			Negative("Cancel").
			Value(&confirm),
	)).WithAccessible(os.Getenv("ACCESSIBLE") != "").Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return confirm, err
}

// Teardown handles the teardown-bastion command.
//
// It only needs credentials and the ledger: resources are deleted from the
// ledger in reverse creation order, optionally preceded by a sweep for
// unrecorded resources under the bastion's names. Leaks are reported and
// reflected in the returned *bastion.TeardownError.
func Teardown(ctx context.Context, in *config.Inputs, o Overrides, yes bool, stdout io.Writer) error {
	spec, err := config.LoadAccessSpec(in, o.specFile(in))
	if err != nil {
		return err
	}
	settings, err := loadSettings(in, spec.Name, o)
	if err != nil {
		return err
	}

	if !yes && isTerminal() {
		ok, err := confirmTeardown(spec.Name)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAborted
		}
	}

	s, err := openSession(ctx, spec, settings, loadTimeouts(), nil)
	if err != nil {
		return err
	}
	defer s.Close()

	doc := s.ledger.Document()
	name := doc.Bastion
	if name == "" {
		name = spec.Name
	}
	logger.Info("Tearing down bastion", "name", name, "state", string(s.ctrl.State()),
		"resources", len(doc.Resources), "sweep", settings.Sweep, "ledger", settings.LedgerPath)

	report, teardownErr := s.ctrl.Teardown(ctx, provisioning.TeardownOptions{
		Sweep: settings.Sweep,
		Name:  spec.Name,
	})
	renderTeardownReport(stdout, name, report)

	if s.ctrl.State() == bastion.StateDestroyed {
		removePrivateKey(doc.PrivateKeyPath)
	}

	outs := []output{
		{Name: "state", Value: string(s.ctrl.State())},
		{Name: "ledger_path", Value: settings.LedgerPath},
	}
	if err := writeOutputs(settings.OutputFile, outs); err != nil {
		return errors.Join(teardownErr, err)
	}
	return teardownErr
}

// removePrivateKey deletes an ephemeral key once nothing uses it.
func removePrivateKey(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Error(err, "failed to remove ephemeral private key", "path", path)
	}
}
