package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-customercache/pkg/customers"
	"github.com/spf13/cobra"
)

func newVerifyCmd(root *rootOptions) *cobra.Command {
	var verifyFile string
	var perPage int

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare every customer the API serves with a verification file",
		Long: `Walk every page of the customers API and compare the result with a
verification file of lines "id,attr=value,...,event=count". Last-updated
timestamps are not compared.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(verifyFile)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			want, err := parseVerifyFile(f)
			if err != nil {
				return err
			}

			got, err := collectAll(cmd, root.sess.service, perPage, len(want))
			if err != nil {
				return err
			}

			if err := compareCustomers(want, got); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "server responses match verification file!")
			return nil
		},
	}

	cmd.Flags().StringVar(&verifyFile, "verify-file", "", "file to verify against")
	cmd.Flags().IntVar(&perPage, "per-page", 10000, "page size used while walking the API")
	_ = cmd.MarkFlagRequired("verify-file")
	return cmd
}

// collectAll fetches pages until one comes back empty. With a page size of
// at least one, no more than expected+1 pages are needed.
func collectAll(cmd *cobra.Command, svc *customers.Service, perPage, expected int) (map[int]*customers.Customer, error) {
	got := make(map[int]*customers.Customer)
	for page := 1; page <= expected+1; page++ {
		result, err := svc.FetchAllCustomers(cmd.Context(), customers.ListOptions{Page: page, PerPage: perPage})
		if err != nil {
			return nil, fmt.Errorf("requesting customers page %d: %w", page, err)
		}
		if len(result.Records) == 0 {
			break
		}
		for _, rec := range result.Records {
			c, err := customers.FromRecord(rec)
			if err != nil {
				return nil, err
			}
			normalize(c)
			got[c.ID] = c
		}
	}
	return got, nil
}

func parseVerifyFile(r io.Reader) (map[int]*customers.Customer, error) {
	want := make(map[int]*customers.Customer)
	scanner := bufio.NewScanner(r)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		c := &customers.Customer{
			Attributes: make(map[string]string),
			Events:     make(map[string]int),
		}
		for i, element := range strings.Split(text, ",") {
			if i == 0 {
				id, err := strconv.Atoi(element)
				if err != nil {
					return nil, fmt.Errorf("line %d of verify file: %w", line, err)
				}
				c.ID = id
				continue
			}
			if element == "" {
				continue
			}

			key, value, ok := strings.Cut(element, "=")
			if !ok {
				return nil, fmt.Errorf("line %d of verify file: malformed element %q", line, element)
			}
			if key == "created_at" {
				c.Attributes[key] = value
				continue
			}
			if count, err := strconv.Atoi(value); err == nil {
				c.Events[key] = count
				continue
			}
			c.Attributes[key] = value
		}
		want[c.ID] = c
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading verify file: %w", err)
	}
	return want, nil
}

func normalize(c *customers.Customer) {
	c.LastUpdated = 0
	if c.Attributes == nil {
		c.Attributes = make(map[string]string)
	}
	if c.Events == nil {
		c.Events = make(map[string]int)
	}
}

func compareCustomers(want, got map[int]*customers.Customer) error {
	var errs []error
	for id, w := range want {
		g, ok := got[id]
		if !ok {
			errs = append(errs, fmt.Errorf("customer %d missing from server responses", id))
			continue
		}
		if !reflect.DeepEqual(w, g) {
			errs = append(errs, fmt.Errorf("customer %d didn't match: got %+v, want %+v", id, *g, *w))
		}
	}
	for id := range got {
		if _, ok := want[id]; !ok {
			errs = append(errs, fmt.Errorf("extra customer %d in server responses", id))
		}
	}
	return errors.Join(errs...)
}
