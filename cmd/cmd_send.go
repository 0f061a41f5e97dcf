package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/relay"
)

var sendOutputJSON bool

// SendCmd returns the command that relays a single transfer.
func SendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <senderKeyEncoded|-> <recipient> <amount>",
		Short: "Relay one transfer",
		Long: `Relay one transfer and wait for its outcome.

Pass '-' as the sender to read the secret key from stdin, which keeps it out
of shell history and process listings. The recipient may be an address or a
secret key, in which case its address is used.

Exit codes:
  0  Confirmed
  1  runtime error
  2  usage error
  3  Rejected
  4  Ambiguous (transaction id journaled for reconciliation)

Example:
  relay send - 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin 1500 < sender.key
`,
		Args: exactArgs(3),
		RunE: runSend,
	}
	cmd.Flags().BoolVar(&sendOutputJSON, "json", false, "Print the outcome as JSON")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(strings.TrimSpace(args[2]), 10, 64)
	if err != nil {
		return usageError(fmt.Errorf("amount must be an integer number of base units"))
	}

	sender := args[0]
	if sender == "-" {
		sender, err = keys.ReadSecretLine(cmd.InOrStdin())
		if err != nil {
			return usageError(err)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{relay: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.relay.Run(cmd.Context(), []relay.TransferJob{{
		SenderKeyEncoded: sender,
		Recipient:        args[1],
		AmountUnits:      amount,
	}})
	outcome := result.Outcomes[0]

	if err := printOutcome(cmd.OutOrStdout(), outcome, sendOutputJSON); err != nil {
		return err
	}
	return exitForSummary(result.Summary)
}

func printOutcome(w io.Writer, o relay.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}
	switch o.State {
	case relay.StateConfirmed:
		_, err := fmt.Fprintf(w, "%s %s\n", o.State, o.TransactionID)
		return err
	case relay.StateAmbiguous:
		_, err := fmt.Fprintf(w, "%s %s %s: %s\n", o.State, o.TransactionID, o.ErrorKind, o.Error)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s %s: %s\n", o.State, o.ErrorKind, o.Error)
		return err
	}
}
