// Paygrid - Payroll rules as configuration, payslips as a service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command paygridctl validates, exports and evaluates payroll
// configurations offline, without a running server.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:          "paygridctl",
		Short:        "Validate, export and evaluate payroll configurations",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newValidateCmd(),
		newExportCmd(),
		newEvaluateCmd(),
		newBracketsCmd(),
		newPayslipCmd(),
	)
	return root
}

// errIssues is returned when validation finds errors; the issues are
// already printed.
var errIssues = errors.New("configuration has errors")
