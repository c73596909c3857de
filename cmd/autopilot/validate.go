package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/autopilot/pkg/diffplan"
)

func newValidateCmd(a *app) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a diff plan without generating anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(a, planPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&planPath, "diff-plan", "d", "", "path to the diff plan (JSON or YAML)")
	_ = cmd.MarkFlagRequired("diff-plan")
	return cmd
}

func runValidate(a *app, planPath string, out io.Writer) error {
	plan, err := diffplan.Load(planPath)
	if err != nil {
		return classify(err)
	}
	if err := plan.Validate(); err != nil {
		return classify(err)
	}

	threshold := a.cfg.Autopilot.ConfidenceThreshold
	fmt.Fprintf(out, "Diff plan %s is valid\n", plan.ID())
	fmt.Fprintf(out, "  repo:       %s\n", plan.Repo)
	fmt.Fprintf(out, "  language:   %s\n", plan.Language())
	fmt.Fprintf(out, "  archetypes: %s\n", strings.Join(plan.Archetypes, ", "))
	fmt.Fprintf(out, "  gaps:       %d\n", len(plan.Gaps))
	fmt.Fprintf(out, "  confidence: %.2f (threshold %v)\n", plan.ConfidenceValue(), threshold)
	if plan.ConfidenceValue() < threshold {
		fmt.Fprintln(out, "  note: below threshold, generate will skip this plan")
	}
	return nil
}
