// Package display renders command output as tables for people or JSON for
// scripts.
package display

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/croplink/errors"
)

// JSONFlag is the flag name commands register to request JSON output
const JSONFlag = "json"

// ShouldOutputJSON reports whether cmd was asked for JSON, via its own
// --json flag or a persistent one on the root command.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	if f := cmd.Flags().Lookup(JSONFlag); f != nil && f.Changed {
		on, _ := cmd.Flags().GetBool(JSONFlag)
		return on
	}
	if f := cmd.Root().PersistentFlags().Lookup(JSONFlag); f != nil {
		on, _ := cmd.Root().PersistentFlags().GetBool(JSONFlag)
		return on
	}
	return false
}

// JSON writes v to w as indented JSON.
func JSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// Table writes data to w with the first row as header.
func Table(w io.Writer, data pterm.TableData) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
