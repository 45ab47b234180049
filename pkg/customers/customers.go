// Package customers binds the fetch coordinator to the customers API:
//
//	GET /customers?page={page}&per_page={per_page} -> {"customers": [...], "meta": {...}}
//	GET /customers/{id}                            -> {"customer": {...}}
package customers

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-customercache/pkg/fetch"
	"github.com/illmade-knight/go-customercache/pkg/store"
	"github.com/rs/zerolog"
)

// Resource describes the customers endpoints.
var Resource = fetch.Resource{
	Name:    "customers",
	Path:    "/customers",
	ListKey: "customers",
	ItemKey: "customer",
}

// Customer is the typed view of a customer record.
type Customer struct {
	ID          int               `json:"id"`
	Attributes  map[string]string `json:"attributes"`
	Events      map[string]int    `json:"events"`
	LastUpdated int               `json:"last_updated"`
}

// FromRecord decodes a cached record into a Customer.
func FromRecord(rec store.Record) (*Customer, error) {
	var c Customer
	if err := rec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding customer %s: %w", rec.ID, err)
	}
	return &c, nil
}

// ListOptions selects a page. Zero values mean page 1 and 25 per page.
type ListOptions struct {
	Page    int
	PerPage int
}

// Service fetches customers through a shared store.
type Service struct {
	coordinator *fetch.Coordinator
}

// NewService creates a customers Service.
func NewService(getter fetch.Getter, st store.Store, logger zerolog.Logger) (*Service, error) {
	c, err := fetch.NewCoordinator(Resource, getter, st, logger)
	if err != nil {
		return nil, err
	}
	return &Service{coordinator: c}, nil
}

// FetchAllCustomers refreshes the cached customers with one page from the API.
func (s *Service) FetchAllCustomers(ctx context.Context, opts ListOptions) (*fetch.Page, error) {
	page, perPage := opts.Page, opts.PerPage
	if page == 0 {
		page = fetch.DefaultPage
	}
	if perPage == 0 {
		perPage = fetch.DefaultPerPage
	}
	return s.coordinator.FetchAll(ctx, page, perPage)
}

// FetchCustomerByID returns the cached customer record, fetching it on a miss.
func (s *Service) FetchCustomerByID(ctx context.Context, id store.ID) (store.Record, error) {
	return s.coordinator.FetchByID(ctx, id)
}

// NumberOfPages is the page count for the most recently fetched listing.
func (s *Service) NumberOfPages(ctx context.Context) (int, error) {
	return s.coordinator.NumberOfPages(ctx)
}

// Cached returns a snapshot of every cached customer record.
func (s *Service) Cached(ctx context.Context) (store.Collection, error) {
	return s.coordinator.Cached(ctx)
}
