package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:       "logs {outbound|replies|attachments}",
	Short:     "Print log records, newest first",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"outbound", "replies", "attachments"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		d, err := buildStoreDeps(ctx, cmd)
		if err != nil {
			return err
		}
		defer d.close(ctx)

		var records any
		switch args[0] {
		case "outbound":
			records, err = d.store.ListOutbound(ctx, limit)
		case "replies":
			records, err = d.store.ListReplies(ctx, limit)
		case "attachments":
			records, err = d.store.ListAttachments(ctx, limit)
		default:
			return fmt.Errorf("unknown log table %q", args[0])
		}
		if err != nil {
			return err
		}

		encoded, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return nil
	},
}

func init() {
	logsCmd.Flags().Int("limit", 500, "maximum number of records to print")
}
