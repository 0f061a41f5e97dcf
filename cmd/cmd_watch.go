package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solrelay/transfer-relay/inbox"
)

var (
	watchDir     string
	watchPattern string
)

// WatchCmd returns the command that relays files dropped into a directory.
func WatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Relay credential lists dropped into an inbox directory",
		Long: `Watch an inbox directory and relay each credential list file placed in it.

Each file is moved to the processed directory before its batch runs, so it
is relayed at most once. The batch result is written to the results
directory as <file>.<batchId>.json. Write files under a name starting with
'.' and rename them into place once complete; hidden files are ignored.

Example:
  relay watch --config relay.yaml --dir /var/spool/relay --pattern '*.txt'
`,
		Args: exactArgs(0),
		RunE: runWatch,
	}
	cmd.Flags().StringVar(&watchDir, "dir", "", "Inbox directory (overrides inbox.dir)")
	cmd.Flags().StringVar(&watchPattern, "pattern", "", "File name pattern (overrides inbox.pattern)")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dir") {
		cfg.Inbox.Dir = watchDir
	}
	if cmd.Flags().Changed("pattern") {
		cfg.Inbox.Pattern = watchPattern
	}
	if cfg.Inbox.Dir == "" {
		return usageError(fmt.Errorf("inbox directory is required (--dir or inbox.dir)"))
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{relay: true, observability: true, component: "watch"})
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := inbox.New(a.logger, inbox.Config{
		Dir:           cfg.Inbox.Dir,
		Pattern:       cfg.Inbox.Pattern,
		ResultsDir:    cfg.GetInboxResultsDir(),
		ProcessedDir:  cfg.GetInboxProcessedDir(),
		DefaultAmount: cfg.Relay.DefaultAmount,
	}, a.relay)
	if err != nil {
		return usageError(err)
	}
	return w.Run(ctx)
}
