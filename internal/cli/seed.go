package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/plenum/internal/engine"
	"github.com/roach88/plenum/internal/testutil"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Force bool
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Position  int64  `json:"position"`
	RequestID string `json:"request_id"`
	Instances int    `json:"instances"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <data.yaml>",
		Short: "Load initial data into the store",
		Long: `Write initial instances into the store in one position.

The file maps FQIDs to their fields, the same format scenario files use
for their data section:

  organization/1: {name: Assembly, committee_ids: [1]}
  committee/1:    {name: Plenary, organization_id: 1}

Relations are written as given; both sides must be listed. Seeding refuses
a store that already holds data unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "seed a store that is not empty")

	return cmd
}

func runSeed(opts *SeedOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read seed file", err)
	}
	var fixtures testutil.Fixtures
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse seed file", err)
	}
	if len(fixtures) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s holds no instances", path))
	}
	req, err := fixtures.WriteRequest()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid seed data", err)
	}
	req.RequestID = engine.UUIDv7Generator{}.Generate()
	req.Timestamp = time.Now().Unix()

	st, err := openStore(ctx, opts.Config.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if !opts.Force {
		last, err := st.LastPosition(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read store position", err)
		}
		if last > 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("store is not empty (position %d); use --force", last))
		}
	}

	pos, err := st.Write(ctx, req)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to write seed data", err)
	}
	formatter.VerboseLog("seeded %d instances from %s", len(req.Events), path)

	res := SeedResult{Position: pos, RequestID: req.RequestID, Instances: len(req.Events)}
	return formatter.Success(res, fmt.Sprintf("Seeded %d instances at position %d", res.Instances, res.Position))
}
