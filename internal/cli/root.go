// Package cli implements the salesqa command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/salesqa/salesqa/internal/config"
	"github.com/salesqa/salesqa/internal/logging"
	"github.com/salesqa/salesqa/internal/metrics"
	"github.com/salesqa/salesqa/internal/pipeline"
	"github.com/salesqa/salesqa/internal/report"
)

// app holds state shared by every command: flag overrides and the
// configuration they were applied to.
type app struct {
	rulesFile string
	logLevel  string
	formats   []string

	cfg *config.Config
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:               "salesqa",
		Short:             "Sales data quality checks and payment reconciliation",
		Long:              color.CyanString("salesqa - validate sales data, reconcile payments and fix what can be fixed"),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.rulesFile, "rules", "", "YAML rule file (overrides RULES_FILE)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	pf.StringSliceVar(&a.formats, "format", nil, "report formats: json, csv, excel, html (overrides REPORT_FORMATS)")

	root.AddCommand(
		a.loadCmd(),
		a.checkCmd(),
		a.reconcileCmd(),
		a.correctCmd(),
		a.runCmd(),
		a.serveCmd(),
	)
	return root
}

// setup loads the environment configuration, applies flag overrides,
// validates the result and configures logging on stderr.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("rules") {
		cfg.Checks.RulesFile = a.rulesFile
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("format") {
		cfg.Report.Formats = a.formats
	}
	if flags.Lookup("reset") != nil && flags.Changed("reset") {
		cfg.Data.ResetOnStart, _ = flags.GetBool("reset")
	}
	if flags.Lookup("correct") != nil && flags.Changed("correct") {
		cfg.Correction.Auto, _ = flags.GetBool("correct")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	a.cfg = cfg
	return nil
}

// pipeline builds a pipeline from the configuration. Sinks are attached
// only when render is set; m may be nil.
func (a *app) pipeline(render bool, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	rs, err := a.cfg.RuleSet()
	if err != nil {
		return nil, err
	}

	var sinks []report.Sink
	if render {
		if sinks, err = report.New(a.cfg.Report.Dir, a.cfg.Report.Formats); err != nil {
			return nil, err
		}
	}

	opts := a.cfg.PipelineOptions()
	opts.Metrics = m
	return pipeline.New(opts, a.cfg.Database.Opener(), rs, sinks...), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
