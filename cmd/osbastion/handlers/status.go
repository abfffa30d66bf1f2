package handlers

import (
	"encoding/json"
	"fmt"
	"io"

	"sigs.k8s.io/yaml"

	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/ledger"
)

// Status output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Status handles the status command. It reads the ledger without taking
// the lock, so it can run while another invocation holds it.
func Status(in *config.Inputs, ledgerPath, format string, w io.Writer) error {
	if ledgerPath == "" {
		s, err := config.LoadSettings(in, config.BastionName(in))
		if err != nil {
			return err
		}
		ledgerPath = s.LedgerPath
	}

	doc, err := ledger.Load(ledgerPath)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode ledger: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode ledger: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatText, "":
		printStatus(w, ledgerPath, doc)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want %s, %s or %s)", format, FormatText, FormatJSON, FormatYAML)
	}
}

func printStatus(w io.Writer, path string, doc *ledger.Document) {
	state := string(doc.State)
	if state == "" {
		state = "-"
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Bastion %s", doc.Bastion)))
	fmt.Fprintf(w, "  %-10s %s\n", "state", state)
	fmt.Fprintf(w, "  %-10s %s\n", "provider", doc.Provider)
	if doc.Region != "" {
		fmt.Fprintf(w, "  %-10s %s\n", "region", doc.Region)
	}
	if doc.Address != "" {
		fmt.Fprintf(w, "  %-10s %s\n", "address", doc.Address)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "run", doc.RunID)
	fmt.Fprintf(w, "  %-10s %s\n", "ledger", path)
	if len(doc.Resources) == 0 {
		fmt.Fprintf(w, "  %s\n", dimStyle.Render("no resources recorded"))
		return
	}
	fmt.Fprintln(w, "  resources:")
	for _, r := range doc.Resources {
		fmt.Fprintf(w, "    %-14s %-24s %s\n", r.Kind, r.Name, dimStyle.Render(r.ProviderID))
	}
}
