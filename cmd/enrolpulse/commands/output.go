package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/teranos/enrolpulse/errors"
)

// FormatError renders err with its hints for the terminal.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(err.Error())
	for _, hint := range errors.GetAllHints(err) {
		b.WriteString("\nHint: ")
		b.WriteString(hint)
	}
	return b.String()
}

// PrintError writes err to w the way every command reports failure.
func PrintError(w io.Writer, err error) {
	fmt.Fprint(w, pterm.Error.Sprintln(FormatError(err)))
}

func renderTable(w io.Writer, data pterm.TableData) error {
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	fmt.Fprintln(w, table)
	return nil
}

// writeFormatted encodes v as json or yaml. "table" is handled by callers.
func writeFormatted(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal JSON")
		}
		fmt.Fprintln(w, string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to marshal YAML")
		}
		fmt.Fprint(w, string(data))
	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: table, json, yaml)", format)
	}
	return nil
}
