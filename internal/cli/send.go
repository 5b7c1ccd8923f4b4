package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bidflow/mailtrack/internal/recipients"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a tracked batch to the recipients in a CSV file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		batchPath, err := cmd.Flags().GetString("batch")
		if err != nil {
			return err
		}

		batch, err := recipients.LoadCSV(batchPath)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return fmt.Errorf("batch file %q contains no recipients", batchPath)
		}

		d, err := buildSessionDeps(ctx, cmd)
		if err != nil {
			return err
		}
		defer d.close(ctx)

		summary, err := d.service.SendBatch(ctx, batch)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Attempted: %d, sent: %d, failed: %d\n",
			summary.Attempted, summary.Sent, summary.Failed)
		return nil
	},
}

func init() {
	sendCmd.Flags().String("batch", "", "path to the recipient CSV file")
	_ = sendCmd.MarkFlagRequired("batch")
}
