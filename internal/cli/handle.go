package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/plenum/internal/engine"
	"github.com/roach88/plenum/internal/ir"
)

// HandleOptions holds flags for the handle command.
type HandleOptions struct {
	*RootOptions
	UserID   int64
	Internal bool
}

// actionCall is one element of a request file, the same shape the HTTP
// routes accept.
type actionCall struct {
	Action string        `json:"action"`
	Data   []ir.IRObject `json:"data"`
}

// NewHandleCommand creates the handle command.
func NewHandleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HandleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "handle <request.json|->",
		Short: "Dispatch one request against the store",
		Long: `Dispatch a request file directly, without the HTTP transport.

The file holds a JSON list of {"action": name, "data": [...]}; "-" reads
from stdin. All actions commit together or not at all.

Exit codes:
  0 - request committed
  1 - request rejected
  2 - command error

Examples:
  plenum handle --db ./plenum.db --user 1 request.json
  echo '[{"action":"tag.create","data":[{"name":"x","meeting_id":1}]}]' | plenum handle --user 1 -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandle(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "acting user id (0 = anonymous)")
	cmd.Flags().BoolVar(&opts.Internal, "internal", false, "allow stack-internal actions")

	return cmd
}

func runHandle(opts *HandleOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	req, err := readRequest(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read request", err)
	}
	req.UserID = opts.UserID
	req.Internal = opts.Internal

	stk, err := openStack(cmd.Context(), opts.Config, nil)
	if err != nil {
		return err
	}
	defer stk.Close()

	res, err := stk.engine.Dispatch(cmd.Context(), req)
	resp := engine.Respond(res, err)
	if !resp.Success {
		_ = formatter.Error(ErrCodeRejected, fmt.Sprintf("%s: %s", resp.Kind, resp.Message), resp.Details, resp)
		return NewExitError(ExitFailure, "request rejected")
	}

	text := resp.Message
	if resp.Position > 0 {
		text = fmt.Sprintf("%s (position %d)", text, resp.Position)
	}
	for i, r := range resp.Results {
		if r == nil {
			continue
		}
		data, _ := json.Marshal(r)
		text += fmt.Sprintf("\n  %s: %s", req.Actions[i].Name, data)
	}
	return formatter.Success(resp, text)
}

func readRequest(path string, stdin io.Reader) (engine.Request, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return engine.Request{}, err
	}

	var calls []actionCall
	if err := json.Unmarshal(data, &calls); err != nil {
		return engine.Request{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(calls) == 0 {
		return engine.Request{}, fmt.Errorf("%s: no actions given", path)
	}
	var req engine.Request
	for i, c := range calls {
		if strings.TrimSpace(c.Action) == "" {
			return engine.Request{}, fmt.Errorf("%s: [%d]: action is required", path, i)
		}
		req.Actions = append(req.Actions, engine.ActionRequest{Name: c.Action, Data: c.Data})
	}
	return req, nil
}
