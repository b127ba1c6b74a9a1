package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/jobfeed-client/pkg/feed"
	"github.com/Sternrassler/jobfeed-client/pkg/listings"
)

func newPrewarmCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "prewarm",
		Short: "Run one prewarm pass now",
		Long: `Refresh the configured prewarm profiles and the most popular queries whose
cache entries are older than the prewarm freshness window. The pass is
skipped when monthly usage has reached prewarm.budgetThreshold.`,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			report, runErr := a.Prewarmer.RunOnce(cmd.Context())
			if report == nil {
				return runErr
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return runErr
		},
	}
}

func newUsageCommand(rt *runtime) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show this month's upstream usage and the most popular queries",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			status, popular, err := a.Manager.Usage(cmd.Context(), top)
			if err != nil {
				return fmt.Errorf("read usage: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"month":     status.Month,
				"count":     status.Count,
				"limit":     status.Limit,
				"near":      status.Near,
				"remaining": status.Remaining(),
				"popular":   popular,
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of popular queries to list")
	return cmd
}

func newCacheCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached searches",
	}

	var prefix, query string
	var all bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove cached searches",
		Example: `  jobfeed cache purge --query "software developer"
  jobfeed cache purge --prefix "jobs:q=nurse:loc=berlin"
  jobfeed cache purge --all`,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			set := 0
			for _, v := range []bool{prefix != "", query != "", all} {
				if v {
					set++
				}
			}
			if set != 1 {
				return errors.New("exactly one of --prefix, --query or --all is required")
			}
			if query != "" {
				prefix = feed.QueryPrefix(query)
			}

			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			removed, err := a.Manager.Purge(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached searches\n", removed)
			return nil
		},
	}
	purge.Flags().StringVar(&prefix, "prefix", "", "remove keys starting with this prefix")
	purge.Flags().StringVar(&query, "query", "", "remove every cached variant of this query")
	purge.Flags().BoolVar(&all, "all", false, "remove every cached search")

	cmd.AddCommand(purge)
	return cmd
}

func newListingsCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listings",
		Short: "Manage admin listings overlaid on search results",
	}

	var (
		l        listings.Listing
		keywords string
		inactive bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an admin listing",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if strings.TrimSpace(l.Title) == "" {
				return errors.New("--title is required")
			}
			if keywords != "" {
				for _, kw := range strings.Split(keywords, ",") {
					if kw = strings.TrimSpace(kw); kw != "" {
						l.Keywords = append(l.Keywords, kw)
					}
				}
			}
			l.Active = !inactive
			l.EmploymentType = strings.ToUpper(l.EmploymentType)

			a, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			created, err := a.Listings.Create(cmd.Context(), l)
			if err != nil {
				return fmt.Errorf("create listing: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), created)
		},
	}
	f := add.Flags()
	f.StringVar(&l.Title, "title", "", "job title (required)")
	f.StringVar(&l.Company, "company", "", "company name")
	f.StringVar(&l.Location, "location", "", "job location")
	f.BoolVar(&l.Remote, "remote", false, "remote position")
	f.StringVar(&l.EmploymentType, "type", "", "employment type (FULLTIME, PARTTIME, CONTRACTOR, INTERN)")
	f.StringVar(&l.ApplyLink, "apply-link", "", "application URL")
	f.StringVar(&l.Description, "description", "", "job description")
	f.StringVar(&keywords, "keywords", "", "comma separated extra search terms")
	f.BoolVar(&l.Featured, "featured", false, "pin above other results")
	f.BoolVar(&inactive, "inactive", false, "store without showing it yet")

	cmd.AddCommand(add)
	return cmd
}
