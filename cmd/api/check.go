package main

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the startup dependency checks and exit",
	Long:  `Runs the same checks as serve and prints the report. Exits non-zero when a fatal check fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		report, checkErr := a.checkDependencies(cmd.Context())

		if asJSON {
			out, err := sonic.ConfigDefault.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(out))
		} else {
			for _, c := range report.Checks {
				status := "ok"
				switch {
				case c.Skipped:
					status = "skipped"
				case !c.OK:
					status = "FAILED"
				}
				fmt.Fprintf(os.Stdout, "%-26s %-8s %-8s %s\n", c.Name, status, c.Severity, c.Detail)
			}
		}
		return checkErr
	},
}

func init() {
	checkCmd.Flags().Bool("json", false, "print the report as JSON")
}
