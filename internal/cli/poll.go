package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Scan the configured folders for tracked replies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		d, err := buildSessionDeps(ctx, cmd)
		if err != nil {
			return err
		}
		defer d.close(ctx)

		summary, err := d.service.PollNow(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"Scanned: %d, matched: %d, folders skipped: %d, attachments saved: %d\n",
			summary.Scanned, summary.Matched, summary.FoldersSkipped, summary.AttachmentsSaved)
		return nil
	},
}
