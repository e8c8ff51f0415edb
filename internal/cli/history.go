package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Positions int
}

// HistoryLine is one rendered history entry.
type HistoryLine struct {
	Position  int64     `json:"position"`
	RequestID string    `json:"request_id"`
	UserID    int64     `json:"user_id"`
	Timestamp int64     `json:"timestamp"`
	Template  string    `json:"template"`
	Args      []ir.FQID `json:"args,omitempty"`
	Text      string    `json:"text"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [fqid]",
		Short: "Show the history of an instance or the latest positions",
		Long: `Show the audit lines recorded for one instance, oldest first, with the
position, request and user that wrote them. Without an FQID the latest
committed positions are listed instead.

Examples:
  plenum history --db ./plenum.db motion/3
  plenum history --db ./plenum.db --positions 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runPositions(opts, cmd)
			}
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Positions, "positions", 20, "number of positions to list without an FQID")

	return cmd
}

func runHistory(opts *HistoryOptions, arg string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	fqid, err := ir.ParseFQID(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid fqid", err)
	}

	st, err := openStore(cmd.Context(), opts.Config.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	records, err := st.History(cmd.Context(), fqid)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	lines := make([]HistoryLine, len(records))
	for i, r := range records {
		lines[i] = historyLine(r)
	}
	if formatter.JSON() {
		return formatter.Success(lines, "")
	}

	w := formatter.Writer
	if len(lines) == 0 {
		fmt.Fprintf(w, "No history for %s.\n", fqid)
		return nil
	}
	fmt.Fprintf(w, "History of %s:\n", fqid)
	for _, l := range lines {
		fmt.Fprintf(w, "  [%d] %s  user %d  %s\n", l.Position, formatTime(l.Timestamp), l.UserID, l.Text)
	}
	return nil
}

func runPositions(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := openStore(cmd.Context(), opts.Config.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	positions, err := st.Positions(cmd.Context(), opts.Positions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read positions", err)
	}
	if formatter.JSON() {
		return formatter.Success(positions, "")
	}
	w := formatter.Writer
	if len(positions) == 0 {
		fmt.Fprintln(w, "No positions committed.")
		return nil
	}
	for _, p := range positions {
		fmt.Fprintf(w, "[%d] %s  user %d  %s\n", p.Position, formatTime(p.Timestamp), p.UserID, p.RequestID)
	}
	return nil
}

func historyLine(r store.HistoryRecord) HistoryLine {
	return HistoryLine{
		Position:  r.Position,
		RequestID: r.RequestID,
		UserID:    r.UserID,
		Timestamp: r.Timestamp,
		Template:  r.Template,
		Args:      r.Args,
		Text:      renderTemplate(r.Template, r.Args),
	}
}

// renderTemplate fills each {} placeholder with the next argument.
func renderTemplate(template string, args []ir.FQID) string {
	var b strings.Builder
	rest := template
	for _, a := range args {
		i := strings.Index(rest, "{}")
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		b.WriteString(string(a))
		rest = rest[i+2:]
	}
	b.WriteString(rest)
	return b.String()
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
