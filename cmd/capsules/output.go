package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/capsules-dev/capsules/internal/errors"
)

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// table is the tabular rendering of a command's result.
type table struct {
	headers []string
	rows    [][]string
	// status is the index of a column whose values get colored, or -1.
	status int
}

// render writes v in the format selected by --output. tbl is only called for
// table output.
func render(c *cli.Context, v any, tbl func() table) error {
	w := c.App.Writer
	switch c.String("output") {
	case formatJSON:
		return outputJSON(w, v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		t := tbl()
		_, err := io.WriteString(w, renderTable(w, t))
		return err
	}
}

// outputJSON marshals v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var cErr *errors.CapsuleError
	if stderrors.As(err, &cErr) {
		msg := fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message)
		if cmd, ok := cErr.Details["command"].(string); ok && cErr.Code == errors.ErrCommandFailed {
			msg += "\n  command: " + cmd
		}
		return cli.Exit(msg, 1)
	}
	return cli.Exit(err.Error(), 1)
}

var statusColors = map[string]lipgloss.Color{
	"running":          "2",
	"exited":           "1",
	"created":          "3",
	"paused":           "3",
	"succeeded":        "2",
	"failed":           "1",
	"abandoned":        "3",
	"storage-only":     "1",
	"resource-only":    "1",
	"storage+resource": "2",
}

// renderTable lays t out in padded columns. Styles degrade to plain text when
// w is not a terminal.
func renderTable(w io.Writer, t table) string {
	if len(t.rows) == 0 {
		return "(none)\n"
	}
	r := lipgloss.NewRenderer(w)
	headerStyle := r.NewStyle().Bold(true)

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style func(i int, cell string) lipgloss.Style) {
		for i, cell := range cells {
			s := style(i, cell)
			if i < len(cells)-1 {
				s = s.Width(widths[i] + 2)
			}
			b.WriteString(s.Render(cell))
		}
		b.WriteString("\n")
	}

	line(t.headers, func(int, string) lipgloss.Style { return headerStyle })
	for _, row := range t.rows {
		line(row, func(i int, cell string) lipgloss.Style {
			s := r.NewStyle()
			if i == t.status {
				if color, ok := statusColors[cell]; ok {
					s = s.Foreground(color)
				}
			}
			return s
		})
	}
	return b.String()
}
