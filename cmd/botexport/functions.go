package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/botexport"
)

var functionsCmd = &cobra.Command{
	Use:     "functions",
	Aliases: []string{"list"},
	Short:   "List export steps and actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		printFunctions(cmd.OutOrStdout())
		return nil
	},
}

func printFunctions(w io.Writer) {
	s := newStyles(w)

	_, _ = fmt.Fprintln(w, s.title.Render("Export steps"))
	var rows [][]string
	for _, st := range botexport.Steps() {
		access := "public"
		if st.RequiresToken {
			access = "token"
		}
		rows = append(rows, []string{s.name.Render(st.Name), st.Group, access, st.Description})
	}
	s.table(w, []string{"STEP", "GROUP", "NEEDS", "DESCRIPTION"}, rows)

	_, _ = fmt.Fprintln(w, s.title.Render("Actions"))
	rows = rows[:0]
	for _, a := range botexport.Actions() {
		req := strings.Join(a.Requires, ", ")
		if req == "" {
			req = "-"
		}
		rows = append(rows, []string{s.name.Render(a.Name), req, a.Description})
	}
	s.table(w, []string{"ACTION", "REQUIRES", "DESCRIPTION"}, rows)
	_, _ = fmt.Fprintln(w, s.muted.Render(`Select steps with "export --only <step|group>"; run actions with "action <name> key=value ..."`))
}
