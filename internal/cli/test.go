package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/plenum/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern on the file name)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run scenario files",
		Long: `Run YAML scenarios, each against a fresh in-memory store.

A scenario lists initial data, requests with their expected outcome and
assertions on the final state. Directories are searched recursively for
*.yaml and *.yml files. The configured database is not touched.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (invalid paths, etc.)

Examples:
  plenum test ./scenarios
  plenum test ./scenarios --filter "agenda_*"
  plenum test motion_sort.yaml --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var files []string
	for _, arg := range args {
		found, err := findScenarioFiles(arg, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	sum, err := harness.RunFiles(cmd.Context(), files)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario run interrupted", err)
	}

	if formatter.JSON() {
		if sum.Failed > 0 {
			_ = formatter.Error(ErrCodeFailed, fmt.Sprintf("%d of %d scenario(s) failed", sum.Failed, sum.Total), nil, sum)
		} else if err := formatter.Success(sum, ""); err != nil {
			return err
		}
	} else {
		printSummary(formatter, files, sum)
	}

	if sum.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", sum.Failed))
	}
	return nil
}

func printSummary(f *OutputFormatter, files []string, sum *harness.Summary) {
	w := f.Writer
	if sum.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	failed := make(map[string]harness.Failure, len(sum.Failures))
	for _, fl := range sum.Failures {
		failed[fl.Path] = fl
	}
	for _, path := range files {
		fl, bad := failed[path]
		if !bad {
			fmt.Fprintf(w, "✓ %s\n", strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", fl.Scenario)
		for _, e := range fl.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", sum.Passed, sum.Failed, sum.Total)
}

// findScenarioFiles returns the scenario files under path, or path itself
// when it is a file.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(filepath.Base(p), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}
