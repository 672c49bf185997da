package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/store"
)

func newReportsCmd() *cobra.Command {
	var (
		limit   int
		kind    string
		payload bool
	)

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List recent error reports from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if !cfg.Store.PersistReports() {
				return fmt.Errorf("error reports are only persisted with store.backend sqlite and store.reports enabled")
			}

			db, err := store.Open(paths.Database(cfg.Store), log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			reports, err := store.NewReportStore(db).List(context.Background(), domain.ErrorKind(kind), limit)
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No error reports.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tPLATFORM\tSTAGE\tEXTERNAL ID\tERROR")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"), r.Kind, r.Platform, r.Stage, r.ExternalID, r.Error)
				if payload && r.Payload != "" {
					fmt.Fprintf(tw, "\t\t\t\t\t%s\n", r.Payload)
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reports to show")
	cmd.Flags().StringVar(&kind, "kind", "", "only show reports of this kind (e.g. unmapped_conversation)")
	cmd.Flags().BoolVar(&payload, "payload", false, "include the stored webhook payload")

	return cmd
}
