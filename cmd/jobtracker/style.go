package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobtracker/internal/model"
	"github.com/amishk599/jobtracker/internal/tracker"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // bright blue

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	titleStyle = lipgloss.NewStyle().
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func printRecords(w io.Writer, heading string, records []model.StoredRecord) {
	fmt.Fprintln(w, headerStyle.Render(heading))
	if len(records) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  (none)"))
		return
	}
	for _, r := range records {
		printRecord(w, r.ID, r.JobRecord)
	}
}

func printRecord(w io.Writer, id model.RecordID, r model.JobRecord) {
	line := titleStyle.Render(r.Title) + " at " + r.Organisation
	if id != "" {
		line = dimStyle.Render("#"+string(id)) + " " + line
	}
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "  %s %s  %s %s\n",
		labelStyle.Render("grade"), r.Grade,
		labelStyle.Render("pay"), fmt.Sprintf("$%.0f - $%.0f", r.Remuneration.Min, r.Remuneration.Max),
	)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("where"), strings.Join(r.Locations, "; "))
	fmt.Fprintf(w, "  %s %s → %s (%d days)\n", labelStyle.Render("open"), r.StartDate, r.CloseDate, r.DurationDays)
	fmt.Fprintf(w, "  %s\n", dimStyle.Render(r.SourceURI))
}

func printReport(w io.Writer, report tracker.Report) {
	if report.Empty() {
		fmt.Fprintln(w, warnStyle.Render("No postings matched."))
		return
	}
	printRecords(w, "Current postings", report.Results)

	summary := fmt.Sprintf("found %d  inserted %d  retired %d", report.Found, report.Inserted, report.Retired)
	if n := len(report.Failed); n > 0 {
		summary += "  " + warnStyle.Render(fmt.Sprintf("failed %d", n))
	}
	fmt.Fprintln(w, summaryStyle.Render(okStyle.Render("cycle "+report.CycleID)+"\n"+summary))
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  %s %s: %s\n", warnStyle.Render("✗"), f.ExternalID, f.Error)
	}
}
