package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/export"
	"github.com/opensource-finance/paygrid/internal/payslip"
	"github.com/opensource-finance/paygrid/internal/rules"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.json>",
		Short: "Report errors and warnings in a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := export.ReadFile(args[0])
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), cfg)
		},
	}
}

func runValidate(w io.Writer, cfg *domain.PayrollConfiguration) error {
	issues := rules.ValidateConfiguration(cfg)
	for _, issue := range issues {
		fmt.Fprintln(w, issue.String())
	}
	if rules.HasErrors(issues) {
		return errIssues
	}
	fmt.Fprintf(w, "ok: %d earnings, %d deductions, %d warnings\n",
		len(cfg.Earnings),
		len(cfg.MandatoryDeductions)+len(cfg.VoluntaryDeductions)+len(cfg.PostTaxDeductions),
		len(issues),
	)
	return nil
}

func newExportCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export <config.json>",
		Short: "Validate a configuration and write its canonical export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := export.ReadFile(args[0])
			if err != nil {
				return err
			}
			if rules.HasErrors(rules.ValidateConfiguration(cfg)) {
				return runValidate(cmd.ErrOrStderr(), cfg)
			}
			path, err := export.WriteFile(dir, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "output directory")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	var (
		rulesPath  string
		recordPath string
		strict     bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate an IF/ELSE-IF/ELSE rule chain against a record",
		RunE: func(cmd *cobra.Command, args []string) error {
			var chain []domain.ConditionalRule
			if err := readJSON(rulesPath, &chain); err != nil {
				return err
			}
			record, err := readRecord(recordPath)
			if err != nil {
				return err
			}

			result, err := rules.Evaluator{StrictFields: strict}.Chain(chain, record)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "JSON file holding the rule chain")
	cmd.Flags().StringVar(&recordPath, "record", "", "JSON or YAML record file")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on conditions over missing fields")
	cmd.MarkFlagRequired("rules")
	cmd.MarkFlagRequired("record")
	return cmd
}

func newBracketsCmd() *cobra.Command {
	var (
		path   string
		amount float64
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "brackets",
		Short: "Apply a bracket scale to an amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			var brackets []domain.TaxBracket
			if err := readJSON(path, &brackets); err != nil {
				return err
			}
			result, err := rules.ApplyBrackets(brackets, amount, domain.BracketMode(mode))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "JSON file holding the brackets")
	cmd.Flags().Float64VarP(&amount, "amount", "a", 0, "amount to apply the scale to")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(domain.ModeMarginal), "marginal or slab")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newPayslipCmd() *cobra.Command {
	var (
		recordsPath string
		strict      bool
		summary     bool
	)

	cmd := &cobra.Command{
		Use:   "payslip <config.json>",
		Short: "Compute payslips for one or more records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := export.ReadFile(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(recordsPath)
			if err != nil {
				return err
			}
			records, err := export.DecodeRecords(data, export.FormatOf(recordsPath))
			if err != nil {
				return err
			}

			slips, err := computePayslips(cmd, cfg, records, strict)
			if err != nil {
				return err
			}
			if summary {
				printSummary(cmd.OutOrStdout(), slips)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), slips)
		},
	}
	cmd.Flags().StringVar(&recordsPath, "records", "", "JSON or YAML file with one record or a list")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on conditions over missing fields")
	cmd.Flags().BoolVar(&summary, "summary", false, "print one line per payslip instead of JSON")
	cmd.MarkFlagRequired("records")
	return cmd
}

func computePayslips(cmd *cobra.Command, cfg *domain.PayrollConfiguration, records []domain.Record, strict bool) ([]*domain.Payslip, error) {
	formulas, err := rules.NewFormulaEngine(0)
	if err != nil {
		return nil, err
	}
	defer formulas.Close()

	processor := payslip.NewProcessor(formulas)
	processor.Evaluator.StrictFields = strict

	slips := make([]*domain.Payslip, 0, len(records))
	for i, record := range records {
		slip, err := processor.Process(cmd.Context(), &payslip.PayslipInput{
			ConfigurationID: cfg.ID,
			Config:          cfg,
			Record:          record,
			StartTime:       time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		for _, warning := range slip.Warnings {
			slog.Warn("payslip warning", "record", i, "warning", warning)
		}
		slips = append(slips, slip)
	}
	return slips, nil
}

func printSummary(w io.Writer, slips []*domain.Payslip) {
	fmt.Fprintf(w, "%-4s %14s %14s %14s %14s %s\n", "#", "GROSS", "TAX", "NET", "EMPLOYER", "CURRENCY")
	for i, s := range slips {
		fmt.Fprintf(w, "%-4d %14.2f %14.2f %14.2f %14.2f %s\n", i, s.GrossEarnings, s.Tax, s.NetPay, s.EmployerCost, s.Currency)
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func readRecord(path string) (domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return export.DecodeRecord(data, export.FormatOf(path))
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
