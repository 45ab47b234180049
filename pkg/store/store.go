// Package store provides the session-lifetime entity cache used by the fetch
// coordinators: one collection of records per named resource plus the
// pagination metadata last served for that resource.
package store

import (
	"context"
)

// DefaultPerPage is the page size assumed when metadata does not carry one.
const DefaultPerPage = 25

// Collection maps entity identifiers to records for one resource.
type Collection map[ID]Record

// Store is the contract shared by the in-memory and Redis backends.
// Mutations replace or upsert whole records; nothing is ever evicted.
type Store interface {
	// SetResource replaces the named collection with value.
	SetResource(ctx context.Context, resource string, value Collection) error
	// SetItem inserts or overwrites a single record, leaving the rest untouched.
	SetItem(ctx context.Context, resource string, id ID, item Record) error
	// SetMeta replaces the pagination metadata for a resource.
	SetMeta(ctx context.Context, resource string, meta Meta) error
	// ReplacePage installs a collection and its metadata as one mutation:
	// either both are replaced or neither is.
	ReplacePage(ctx context.Context, resource string, value Collection, meta Meta) error

	// Item returns the cached record and whether it was present.
	Item(ctx context.Context, resource string, id ID) (Record, bool, error)
	// Collection returns a snapshot of the named collection.
	Collection(ctx context.Context, resource string) (Collection, error)
	// Meta returns the metadata for a resource and whether any was set.
	Meta(ctx context.Context, resource string) (Meta, bool, error)

	Close() error
}

// NumberOfPages returns ceil(total / per_page), defaulting total to 0 and
// per_page to DefaultPerPage when absent.
func NumberOfPages(meta Meta) int {
	total := 0
	if meta.Total != nil {
		total = *meta.Total
	}
	perPage := DefaultPerPage
	if meta.PerPage != nil && *meta.PerPage > 0 {
		perPage = *meta.PerPage
	}
	if total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
