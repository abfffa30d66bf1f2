package handlers

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/provisioning"
)

var (
	colorGreen = lipgloss.Color("#22c55e")
	colorRed   = lipgloss.Color("#ef4444")
	colorDim   = lipgloss.Color("#6b7280")
	colorWhite = lipgloss.Color("#f9fafb")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	leakStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
)

// renderTeardownReport prints what teardown deleted and, prominently,
// every resource it had to give up on.
func renderTeardownReport(w io.Writer, name string, report *provisioning.TeardownReport) {
	if report == nil {
		return
	}

	state := string(report.State)
	if state == "" {
		state = "nothing recorded"
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Teardown of %s: %s", name, state)))
	for _, rec := range report.Swept {
		fmt.Fprintf(w, "  %s %s %s\n", okStyle.Render("swept  "), rec.Kind, dimStyle.Render(rec.ProviderID))
	}
	for _, rec := range report.Deleted {
		fmt.Fprintf(w, "  %s %s %s\n", okStyle.Render("deleted"), rec.Kind, dimStyle.Render(rec.ProviderID))
	}
	if len(report.Leaks) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, renderLeaks(report.Leaks))
	}
}

// renderLeaks formats leaked resources for manual cleanup.
func renderLeaks(leaks []bastion.Leak) string {
	var b strings.Builder
	b.WriteString(leakStyle.Render(fmt.Sprintf("%d resource(s) leaked and need manual cleanup:", len(leaks))))
	b.WriteString("\n")
	for _, l := range leaks {
		id := l.Record.ProviderID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(&b, "  %s %-14s name=%s id=%s\n", leakStyle.Render("✗"), l.Record.Kind, l.Record.Name, id)
		fmt.Fprintf(&b, "    %s\n", dimStyle.Render(fmt.Sprintf("after %d attempt(s): %v", l.Attempts, l.Err)))
	}
	return b.String()
}
