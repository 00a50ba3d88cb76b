package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"hotpatch/internal/classify"
	"hotpatch/internal/diag"
)

var policyCmd = &cobra.Command{
	Use:   "policy [file]",
	Short: "Show the effective severity policy",
	Long: `Show the severity assigned to each diagnostic code. With a file
argument the YAML overrides are validated and merged over the defaults;
without one the built-in defaults are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPolicy,
}

func init() {
	rootCmd.AddCommand(policyCmd)
}

func runPolicy(cmd *cobra.Command, args []string) error {
	policy := classify.DefaultPolicy()
	if len(args) == 1 {
		loaded, err := classify.LoadPolicy(args[0])
		if err != nil {
			return err
		}
		policy = loaded
	}

	var codes []string
	for code := range policy {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	for _, code := range codes {
		fmt.Printf("%-28s %s\n", code, policy.SeverityOf(diag.Code(code)))
	}
	return nil
}
