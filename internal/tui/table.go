package tui

import (
	"fmt"
	"io"
	"strings"

	"pyvm/internal/manager"
)

// Column defines a single column in a rendered table.
type Column struct {
	Header string
	Width  int
}

var versionColumns = []Column{
	{Header: "VERSION", Width: 10},
	{Header: "INSTALLED", Width: 20},
	{Header: "CHECKSUM", Width: 24},
}

// RenderVersions writes the installed versions as a table, marking the active
// one with "(current)".
func RenderVersions(w io.Writer, listing manager.Listing) {
	if len(listing.Versions) == 0 {
		fmt.Fprintln(w, "No versions installed.")
		return
	}

	headers := make([]string, len(versionColumns))
	for i, col := range versionColumns {
		headers[i] = HeaderStyle.Render(pad(col.Header, col.Width))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(headers, "  "), " "))

	for _, rec := range listing.Versions {
		fields := []string{
			pad(rec.ID, versionColumns[0].Width),
			pad(NonEmptyOrDash(rec.InstalledAt), versionColumns[1].Width),
			pad(TruncateWithEllipsis(NonEmptyOrDash(rec.Checksum), versionColumns[2].Width), versionColumns[2].Width),
		}
		line := strings.TrimRight(strings.Join(fields, "  "), " ")
		if rec.ID == listing.Active {
			line += "  " + CurrentStyle.Render("(current)")
		}
		fmt.Fprintln(w, line)
	}
}

// RenderDoctor writes a doctor report.
func RenderDoctor(w io.Writer, report manager.Report) {
	fmt.Fprintf(w, "Root:    %s\n", report.Root)
	fmt.Fprintf(w, "Active:  %s\n", NonEmptyOrDash(report.Active))
	fmt.Fprintf(w, "Path:    %s\n", NonEmptyOrDash(strings.Join(report.PathEntries, ", ")))
	fmt.Fprintf(w, "Versions: %s\n", NonEmptyOrDash(strings.Join(report.Installed, ", ")))
	if report.Healthy() {
		fmt.Fprintln(w, CurrentStyle.Render("No problems found."))
		return
	}
	fmt.Fprintln(w)
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "%s %s: %s\n", WarningStyle.Render(pad("["+issue.Kind+"]", 18)), issue.Subject, issue.Detail)
	}
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// NonEmptyOrDash returns "-" for empty/whitespace strings.
func NonEmptyOrDash(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}

// TruncateWithEllipsis truncates a string and adds "..." if it exceeds max length.
func TruncateWithEllipsis(value string, max int) string {
	if max <= 0 {
		return ""
	}
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
