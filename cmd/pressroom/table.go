package main

import (
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var stageCaser = cases.Title(language.English)

// stageLabel renders a stage name for human output: "qa" -> "Qa",
// "draft_review" -> "Draft Review".
func stageLabel(stage string) string {
	return stageCaser.String(strings.ReplaceAll(stage, "_", " "))
}

// newTable returns a table writer tuned for the current output: styled boxes
// on a TTY, plain separators when piped.
func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
		tw.Style().Options.DrawBorder = false
		tw.Style().Options.SeparateColumns = true
		tw.Style().Format.Header = text.FormatUpper
	}
	return tw
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
