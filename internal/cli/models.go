package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/plenum/internal/compiler"
)

// ModelsReport is the outcome of validating a model description.
type ModelsReport struct {
	Valid       bool                       `json:"valid"`
	Collections int                        `json:"collections"`
	Fields      int                        `json:"fields"`
	Errors      []compiler.ValidationError `json:"errors,omitempty"`
	Warnings    []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewModelsCommand creates the models command group.
func NewModelsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect the model description",
	}
	cmd.AddCommand(newModelsValidateCommand(rootOpts))
	return cmd
}

func newModelsValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [models.cue|dir]",
		Short: "Compile and check a model description",
		Long: `Compile a CUE model description and check it.

Reports every structural error (unknown targets, relations whose partner
does not point back, equal_fields missing on one side, defaults outside
their enum) and lists cascade-delete loops as warnings. Without an
argument the built-in description is checked.

Exit codes:
  0 - valid (warnings allowed)
  1 - invalid
  2 - command error`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runModelsValidate(rootOpts, path, cmd)
		},
	}
}

func runModelsValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	src, err := LoadModels(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil, nil)
		return WrapExitError(ExitCommandError, "failed to load models", err)
	}
	for _, f := range src.Files {
		formatter.VerboseLog("loaded %s", f)
	}

	specs, err := compiler.CompileModels(src.Value)
	if err != nil {
		var ce *compiler.CompileError
		var details any
		if errors.As(err, &ce) && ce.Pos.IsValid() {
			details = map[string]any{"file": ce.Pos.Filename(), "line": ce.Pos.Line()}
		}
		_ = formatter.Error(ErrCodeModels, err.Error(), details, ModelsReport{})
		return WrapExitError(ExitFailure, "models do not compile", err)
	}

	report := ModelsReport{
		Collections: len(specs),
		Errors:      compiler.Validate(specs),
		Warnings:    compiler.AnalyzeCascades(specs),
	}
	for _, s := range specs {
		report.Fields += len(s.Fields)
	}
	report.Valid = len(report.Errors) == 0

	if !report.Valid {
		if formatter.JSON() {
			_ = formatter.Error(ErrCodeModels, report.Errors[0].Error(), nil, report)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %d error(s)\n", len(report.Errors))
			for _, e := range report.Errors {
				fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
			}
			printWarnings(formatter, report.Warnings)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(report.Errors)))
	}

	text := fmt.Sprintf("✓ %d collections, %d fields", report.Collections, report.Fields)
	if err := formatter.Success(report, text); err != nil {
		return err
	}
	if !formatter.JSON() {
		printWarnings(formatter, report.Warnings)
	}
	return nil
}

func printWarnings(f *OutputFormatter, warnings []compiler.CycleWarning) {
	for _, w := range warnings {
		fmt.Fprintf(f.Writer, "  %s: %s\n", w.Level, w.Message)
	}
}
