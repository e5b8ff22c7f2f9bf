package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/datascout/internal/checksum"
	"github.com/iambrandonn/datascout/internal/ledger"
	"github.com/iambrandonn/datascout/internal/transcript"
)

var replayCmd = &cobra.Command{
	Use:   "replay <ledger>",
	Short: "Re-reduce the kernel traffic recorded in a session ledger",
	Long: `Read a session event log and run every recorded execution burst through
the classifier and accumulator again, printing the outcome of each. Bursts
that never reached idle are reported as pending; that is where an interrupted
or crashed session stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	l, err := ledger.ReadLedger(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	f := transcript.NewFormatter()

	pending := make(map[string]bool)
	for _, b := range l.Pending() {
		pending[b.ExecutionID] = true
	}

	fmt.Fprintf(out, "Session %s: %d execution(s), %d oracle exchange(s)\n", l.SessionID, len(l.Bursts()), len(l.Oracle))

	if path, sha := l.Dataset(); sha != "" {
		if err := checksum.VerifyFile(path, sha); err != nil {
			fmt.Fprintf(out, "Dataset %s no longer matches the session: %v\n", path, err)
		} else {
			fmt.Fprintf(out, "Dataset %s unchanged since the session\n", path)
		}
	}

	for i, r := range l.Replay() {
		fmt.Fprintf(out, "\n[%d] %s (%d message(s))\n", i+1, r.ExecutionID, len(r.Messages))
		fmt.Fprintln(out, f.FormatCode(r.Code))
		if pending[r.ExecutionID] {
			fmt.Fprintln(out, "  pending: no idle status recorded")
		}
		fmt.Fprintln(out, f.FormatOutcome(r.Outcome))
	}

	return nil
}
