package cli

import (
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-customercache/pkg/customers"
	"github.com/illmade-knight/go-customercache/pkg/fetch"
	"github.com/illmade-knight/go-customercache/pkg/store"
	"github.com/spf13/cobra"
)

// servedPage is the page the server reports, else the page that was requested.
func servedPage(requested int, meta store.Meta) int {
	if meta.Page != nil {
		return *meta.Page
	}
	if requested == 0 {
		return fetch.DefaultPage
	}
	return requested
}

func newListCmd(root *rootOptions) *cobra.Command {
	var page, perPage int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch one page of customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess := root.sess
			if perPage == 0 {
				perPage = sess.cfg.PerPage
			}

			result, err := sess.service.FetchAllCustomers(cmd.Context(), customers.ListOptions{Page: page, PerPage: perPage})
			if err != nil {
				return fmt.Errorf("fetching page %d: %w", page, err)
			}

			out := cmd.OutOrStdout()
			for _, rec := range result.Records {
				line, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(line))
			}

			pages, err := sess.service.NumberOfPages(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "page %d of %d\n", servedPage(page, result.Meta), pages)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page to fetch")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "customers per page (defaults to config per_page)")
	return cmd
}
