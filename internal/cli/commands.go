package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/salesqa/salesqa/internal/pipeline"
)

func addResetFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("reset", true, "reload both tables from CSV first (overrides RESET_ON_START)")
}

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Reload the sales and payments tables from CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline(false, nil)
			if err != nil {
				return err
			}
			stats, err := p.Load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range stats {
				color.New(color.FgGreen).Fprintf(out, "loaded %-9s", s.Table)
				fmt.Fprintf(out, " %d rows from %s (%s)\n", s.Rows, s.Source, s.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the data quality checks and print the report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.prepare(cmd)
			if err != nil {
				return err
			}
			rep, err := p.Check(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	addResetFlag(cmd)
	return cmd
}

func (a *app) reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile payments against sales and print the discrepancies as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.prepare(cmd)
			if err != nil {
				return err
			}
			disc, err := p.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), disc)
		},
	}
	addResetFlag(cmd)
	return cmd
}

func (a *app) correctCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "correct",
		Short: "Apply the default corrections to the sales table and print the counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline(false, nil)
			if err != nil {
				return err
			}
			counts := p.Correct(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), counts); err != nil {
				return err
			}
			if failed := counts.Failures(); len(failed) > 0 {
				return fmt.Errorf("corrections failed: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: load, check, reconcile, report and correct",
		Args:  cobra.NoArgs,
		Example: `  salesqa run
  salesqa run --reset=false --correct=false
  salesqa run --format json,html --rules rules.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline(true, nil)
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	addResetFlag(cmd)
	cmd.Flags().Bool("correct", true, "apply corrections after reporting (overrides AUTO_CORRECT)")
	return cmd
}

// prepare builds a pipeline without sinks and reloads the tables first
// when reset is configured.
func (a *app) prepare(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	p, err := a.pipeline(false, nil)
	if err != nil {
		return nil, err
	}
	if a.cfg.Data.ResetOnStart {
		if _, err := p.Load(cmd.Context()); err != nil {
			return nil, err
		}
	}
	return p, nil
}
