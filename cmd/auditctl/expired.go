package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storefront/internal/audit/bootstrap"
	audit "storefront/pkg/platform/audit"
)

func (a *app) expiredCmd() *cobra.Command {
	var (
		at    string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "expired",
		Short: "List records whose retention period has lapsed",
		Long: "Lists the records eligible for purge under the configured retention tiers. Nothing is " +
			"deleted; the output feeds the purge job.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t.UTC()
			}

			cfg, store, closeFn, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			engine, err := bootstrap.NewPolicy(cfg)
			if err != nil {
				return err
			}

			// Nothing younger than the shortest tier can have expired.
			candidates, err := store.Query(ctx, audit.Filter{CreatedTo: now.Add(-engine.ShortestRetention())})
			if err != nil {
				return err
			}

			n := 0
			for _, r := range candidates {
				if !engine.Expired(r, now) {
					continue
				}
				fmt.Fprintf(a.out, "%s %s %s expired %s\n", r.ID, r.Action, r.Entity, engine.ExpiresAt(r).Format(time.RFC3339))
				n++
				if limit > 0 && n == limit {
					break
				}
			}
			fmt.Fprintf(a.out, "%d expired\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate retention at this RFC 3339 time instead of now")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records to list (0 = all)")
	return cmd
}
