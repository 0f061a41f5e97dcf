package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solrelay/transfer-relay/keys"
	"github.com/solrelay/transfer-relay/relay"
)

var (
	batchDefaultAmount int64
	batchSenderKeyFile string
	batchOutputPath    string
)

// BatchCmd returns the command that relays a credential list.
func BatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [file|-]",
		Short: "Relay every transfer in a credential list",
		Long: `Relay every transfer in a credential list file, or stdin when the file is
'-' or omitted.

One transfer per line, blank lines and '#' comments ignored:

  <recipient>
  <recipient> <amount>
  <senderKey> <recipient> <amount>

Lines without a sender use the key from --sender-key-file (or
relay.sender_key_file). Lines without an amount use --default-amount.

The batch result is printed as JSON. The exit code is 4 if any transfer is
Ambiguous, otherwise 3 if any was Rejected, otherwise 0.
`,
		Args: maxArgs(1),
		RunE: runBatch,
	}
	cmd.Flags().Int64Var(&batchDefaultAmount, "default-amount", 0, "Amount for lines without one (overrides relay.default_amount)")
	cmd.Flags().StringVar(&batchSenderKeyFile, "sender-key-file", "", "Sender key file for lines without a sender (overrides relay.sender_key_file)")
	cmd.Flags().StringVarP(&batchOutputPath, "output", "o", "", "Write the result JSON to this file instead of stdout")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("default-amount") {
		cfg.Relay.DefaultAmount = batchDefaultAmount
	}
	if cmd.Flags().Changed("sender-key-file") {
		cfg.Relay.SenderKeyFile = batchSenderKeyFile
	}

	entries, err := readCredentialArg(cmd.InOrStdin(), args)
	if err != nil {
		return usageError(err)
	}

	a, err := newApp(cmd.Context(), cfg, appOptions{relay: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.relay.Run(cmd.Context(), relay.JobsFromEntries(entries, cfg.Relay.DefaultAmount))

	if err := writeJSON(cmd.OutOrStdout(), batchOutputPath, result); err != nil {
		return err
	}
	return exitForSummary(result.Summary)
}

func readCredentialArg(stdin io.Reader, args []string) ([]keys.CredentialEntry, error) {
	if len(args) == 0 || args[0] == "-" {
		entries, err := keys.ParseCredentialList(stdin)
		if err != nil {
			return nil, fmt.Errorf("credential list on stdin: %w", err)
		}
		return entries, nil
	}
	return keys.ReadCredentialFile(args[0])
}

// writeJSON writes v to path with owner-only permissions, or to w when path
// is empty.
func writeJSON(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
