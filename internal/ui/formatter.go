package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"regtest/internal/domain"
)

// Formatter formats and displays output
type Formatter struct {
	out io.Writer
}

// NewFormatter creates a new Formatter
func NewFormatter(out io.Writer) *Formatter {
	return &Formatter{out: out}
}

// PrintSummary prints the table of tests that did not pass followed by the
// one-line summary.
func (f *Formatter) PrintSummary(stats domain.Stats, elapsed time.Duration, problems []*domain.TestResult) {
	fmt.Fprint(f.out, "\n")
	if len(problems) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(f.out)
		t.SetTitle("Tests that did not pass")
		t.AppendHeader(table.Row{"ID", "STATUS", "REASON", "DURATION"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "ID", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
			{Name: "REASON", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
			{Name: "DURATION", Align: text.AlignRight},
		})
		for _, res := range problems {
			t.AppendRow(table.Row{res.ID, res.Status.Kind.String(), res.Status.Reason, formatDuration(res.Elapsed())})
		}
		t.AppendFooter(table.Row{"TOTAL", stats.Total(), "", formatDuration(elapsed)})
		t.SetStyle(table.StyleRounded)
		t.Render()
	}

	switch {
	case stats.Error > 0:
		color.New(color.FgMagenta, color.Bold).Fprintln(f.out, stats.Summary())
	case stats.Failed > 0:
		color.New(color.FgRed, color.Bold).Fprintln(f.out, stats.Summary())
	default:
		color.New(color.FgGreen, color.Bold).Fprintln(f.out, stats.Summary())
	}
	fmt.Fprintf(f.out, "Duration: %s\n", elapsed.Round(time.Millisecond))
}

// PrintResult prints a stored result with all of its sections.
func (f *Formatter) PrintResult(res *domain.TestResult) {
	statusColor(res.Status).Fprintf(f.out, "%s: %s\n", res.ID, res.Status)
	if res.Title != "" {
		fmt.Fprintf(f.out, "  title:    %s\n", res.Title)
	}
	if len(res.Keywords) > 0 {
		fmt.Fprintf(f.out, "  keywords: %s\n", strings.Join(res.Keywords, " "))
	}
	fmt.Fprintf(f.out, "  worker:   %d\n", res.WorkerID)
	fmt.Fprintf(f.out, "  started:  %s\n", res.Start.Format(time.RFC3339))
	fmt.Fprintf(f.out, "  elapsed:  %s\n", formatDuration(res.Elapsed()))

	for i, s := range res.Sections {
		fmt.Fprint(f.out, "\n")
		color.New(color.FgCyan).Fprintf(f.out, "--- section %d: %s ---\n", i+1, sectionTitle(s))
		for _, m := range s.Messages {
			fmt.Fprintf(f.out, "  %s\n", m)
		}
		if s.Stdout != "" {
			color.New(color.FgYellow).Fprintln(f.out, "  stdout:")
			fmt.Fprint(f.out, indent(s.Stdout, "    "))
		}
		if s.Stderr != "" {
			color.New(color.FgYellow).Fprintln(f.out, "  stderr:")
			fmt.Fprint(f.out, indent(s.Stderr, "    "))
		}
		statusColor(s.Status).Fprintf(f.out, "  result: %s\n", s.Status)
	}
}

// PrintTests lists test descriptions, optionally with their action lines.
func (f *Formatter) PrintTests(tests []domain.TestDescription, withActions bool) {
	for _, td := range tests {
		if td.Title != "" {
			fmt.Fprintf(f.out, "%s  %s\n", td.ID, color.New(color.Faint).Sprint(td.Title))
		} else {
			fmt.Fprintln(f.out, td.ID)
		}
		if withActions {
			for _, a := range td.Actions {
				fmt.Fprintf(f.out, "    %s\n", a)
			}
		}
	}
	color.New(color.FgCyan).Fprintf(f.out, "\n%d test(s)\n", len(tests))
}

func statusColor(st domain.Status) *color.Color {
	switch st.Kind {
	case domain.Passed:
		return color.New(color.FgGreen)
	case domain.Failed:
		return color.New(color.FgRed)
	case domain.Error:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgYellow)
	}
}

func sectionTitle(s *domain.Section) string {
	return domain.ActionSpec{Name: s.Action, Options: s.Options, Args: s.Args}.String()
}

func indent(s, prefix string) string {
	s = strings.TrimRight(s, "\n")
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix) + "\n"
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
