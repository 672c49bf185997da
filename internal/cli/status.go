package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/store"
	"github.com/soyeahso/chatbridge/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show chatbridge status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chatbridge %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s async=%v workers=%d\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Async, cfg.Gateway.MaxWorkers)
			if cfg.Gateway.PublicURL != "" {
				fmt.Fprintf(out, "Media:   relayed via %s/media/\n", cfg.Gateway.PublicURL)
			} else {
				fmt.Fprintln(out, "Media:   source URLs passed through")
			}
			fmt.Fprintf(out, "edna:    %s im=%s subject=%d\n", orUnset(cfg.Edna.BaseURL), cfg.Edna.IMType, cfg.Edna.SubjectID)
			fmt.Fprintf(out, "amoCRM:  %s channel=%s enrich=%v\n", orUnset(cfg.AmoCRM.AmojoBaseURL), orUnset(cfg.AmoCRM.ChannelID), cfg.AmoCRM.PhoneEnrichment())
			fmt.Fprintf(out, "Routing: autoCreate=%v deadline=%s attempts=%d\n",
				cfg.Routing.CreateChats(), cfg.Routing.Deadline(), cfg.Routing.Retry.MaxAttempts)
			fmt.Fprintf(out, "Dedup:   %s ttl=%s\n", cfg.Dedup.Backend, cfg.Dedup.TTL())
			fmt.Fprintf(out, "Store:   %s\n", cfg.Store.Backend)

			if cfg.Store.Backend == "sqlite" {
				printStoreSummary(cmd, cfg)
			}

			// Validation
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}

func printStoreSummary(cmd *cobra.Command, cfg config.Config) {
	out := cmd.OutOrStdout()
	dbPath := paths.Database(cfg.Store)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(out, "         %s (not created yet)\n", dbPath)
		return
	}

	db, err := store.Open(dbPath, log)
	if err != nil {
		fmt.Fprintf(out, "         error opening %s: %v\n", dbPath, err)
		return
	}
	defer db.Close()

	ctx := context.Background()
	if n, err := store.NewSQLiteMappingStore(db).Count(ctx); err == nil {
		fmt.Fprintf(out, "         %d conversation mapping(s)\n", n)
	}
	counts, err := store.NewReportStore(db).CountByKind(ctx)
	if err != nil || len(counts) == 0 {
		return
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	fmt.Fprintln(out, "Reports:")
	for _, k := range kinds {
		fmt.Fprintf(out, "  %-24s %d\n", k, counts[domain.ErrorKind(k)])
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}
