package cli

import (
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-customercache/pkg/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID...",
		Short: "Fetch customers by id",
		Long: `Fetch customers by id. Ids already in the cache are answered without a request.
Numeric ids are canonicalised, so 07 and 7.0 both fetch customer 7.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := root.sess
			results := make([]store.Record, len(args))

			g, ctx := errgroup.WithContext(cmd.Context())
			for i, arg := range args {
				g.Go(func() error {
					rec, err := sess.service.FetchCustomerByID(ctx, store.ParseID(arg))
					if err != nil {
						return fmt.Errorf("fetching customer %s: %w", arg, err)
					}
					results[i] = rec
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, rec := range results {
				line, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(line))
			}
			return nil
		},
	}
}
