package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"regtest/internal/domain"
)

// Viewer displays test results in an interactive TUI
type Viewer interface {
	View(results []*domain.TestResult) error
}

// ResultViewer browses stored results that did not pass: the list of tests
// on the left, the selected test's sections on the right.
type ResultViewer struct {
	runID string
}

var _ Viewer = (*ResultViewer)(nil)

// NewResultViewer creates a viewer; runID labels the header.
func NewResultViewer(runID string) *ResultViewer {
	return &ResultViewer{runID: runID}
}

// View displays the results until the user exits with q or Ctrl+C.
func (rv *ResultViewer) View(results []*domain.TestResult) error {
	if len(results) == 0 {
		color.Green("✓ No failed tests found!")
		return nil
	}

	app := tview.NewApplication()

	list := tview.NewList().
		ShowSecondaryText(false).
		SetHighlightFullLine(true)
	for i, res := range results {
		list.AddItem(listItemText(i, res), "", 0, nil)
	}
	list.SetMainTextColor(tview.Styles.PrimaryTextColor).
		SetSelectedTextColor(tcell.ColorWhite).
		SetSelectedBackgroundColor(tcell.ColorDarkCyan).
		SetSecondaryTextColor(tview.Styles.SecondaryTextColor)

	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetWordWrap(false)

	detailsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetWordWrap(true)

	// Create a container with right padding for the details view
	detailsContainer := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(detailsView, 0, 1, false).
		AddItem(tview.NewBox(), 2, 0, false)

	rightSide := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(statsView, 3, 0, false).
		AddItem(detailsContainer, 0, 1, false)

	flex := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(list, 0, 1, true).
		AddItem(rightSide, 0, 2, false)

	headerView := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true).
		SetText(rv.header(results))

	updateDetails := func() {
		index := list.GetCurrentItem()
		if index >= 0 && index < len(results) {
			statsView.SetText(formatResultStats(results[index]))
			detailsView.SetText(formatResultDetails(results[index])).ScrollToBeginning()
		}
	}

	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEnter, tcell.KeyRight:
			app.SetFocus(detailsView)
			return nil
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
		}
		return event
	})

	detailsView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyLeft, tcell.KeyEsc:
			app.SetFocus(list)
			return nil
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		}
		return event
	})

	list.SetChangedFunc(func(int, string, string, rune) {
		updateDetails()
	})
	updateDetails()

	mainLayout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(headerView, 1, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(flex, 0, 1, true)

	if err := app.SetRoot(mainLayout, true).SetFocus(list).Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func (rv *ResultViewer) header(results []*domain.TestResult) string {
	run := ""
	if rv.runID != "" {
		run = " | run " + rv.runID
	}
	return fmt.Sprintf(" Results (%d not passed%s) | ↑↓ navigate, → details, ← back, q to exit ", len(results), run)
}

func listItemText(index int, res *domain.TestResult) string {
	return fmt.Sprintf("[yellow]%d.[%s] %s[white]", index+1, tagColor(res.Status), tview.Escape(res.ID))
}

// formatResultStats formats the header line of a result using tview color
// tags.
func formatResultStats(res *domain.TestResult) string {
	return fmt.Sprintf("[cyan]test:[white] [yellow]%s[white]\n[cyan]status:[white] [%s]%s[white]  [cyan]elapsed:[white] %s",
		tview.Escape(res.ID), tagColor(res.Status), tview.Escape(res.Status.String()), formatDuration(res.Elapsed()))
}

// formatResultDetails renders every section of a result with tview color
// tags; captured output is escaped.
func formatResultDetails(res *domain.TestResult) string {
	var b strings.Builder
	if res.Title != "" {
		fmt.Fprintf(&b, "[cyan]%s[white]\n\n", tview.Escape(res.Title))
	}
	for i, s := range res.Sections {
		fmt.Fprintf(&b, "[%s]■ %d. %s[white]\n", tagColor(s.Status), i+1, tview.Escape(sectionTitle(s)))
		for _, m := range s.Messages {
			fmt.Fprintf(&b, "  [gray]%s[white]\n", tview.Escape(m))
		}
		if s.Stdout != "" {
			fmt.Fprintf(&b, "[yellow]stdout:[white]\n%s", tview.Escape(indent(s.Stdout, "  ")))
		}
		if s.Stderr != "" {
			fmt.Fprintf(&b, "[yellow]stderr:[white]\n%s", tview.Escape(indent(s.Stderr, "  ")))
		}
		fmt.Fprintf(&b, "[%s]%s[white]\n\n", tagColor(s.Status), tview.Escape(s.Status.String()))
	}
	return b.String()
}

func tagColor(st domain.Status) string {
	switch st.Kind {
	case domain.Passed:
		return "green"
	case domain.Failed:
		return "red"
	case domain.Error:
		return "fuchsia"
	default:
		return "gray"
	}
}
