// Package fetch coordinates reads from a paginated REST resource with the
// entity store. Page fetches always go to the network and replace the cached
// collection; fetches by id are served from the cache whenever the id is
// present, and only go to the network on a miss.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-customercache/pkg/store"
	"github.com/rs/zerolog"
)

// Paging applied by callers that leave page or per_page unset.
const (
	DefaultPage    = 1
	DefaultPerPage = store.DefaultPerPage
)

// ErrMalformedPayload is returned when a 2xx response does not have the shape
// the resource describes.
var ErrMalformedPayload = errors.New("malformed payload")

// Getter is the HTTP collaborator: a JSON GET against the API.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

// Resource describes where a resource lives and how its payloads are keyed.
type Resource struct {
	// Name is the store key for the collection and its metadata.
	Name string
	// Path is the collection endpoint; single entities live at Path/{id}.
	Path string
	// ListKey names the array of records in a page response.
	ListKey string
	// ItemKey names the record in a single-entity response.
	ItemKey string
}

// Page is a decoded page response. Raw holds the complete payload.
type Page struct {
	Records []store.Record
	Meta    store.Meta
	Raw     json.RawMessage
}

// Coordinator fetches one resource and keeps the store in step with it.
type Coordinator struct {
	resource Resource
	getter   Getter
	store    store.Store
	logger   zerolog.Logger
}

// NewCoordinator creates a Coordinator for res.
func NewCoordinator(res Resource, getter Getter, st store.Store, logger zerolog.Logger) (*Coordinator, error) {
	if getter == nil || st == nil {
		return nil, errors.New("getter and store cannot be nil")
	}
	if res.Name == "" || res.Path == "" || res.ListKey == "" || res.ItemKey == "" {
		return nil, fmt.Errorf("resource %+v is incomplete", res)
	}
	return &Coordinator{
		resource: res,
		getter:   getter,
		store:    st,
		logger:   logger.With().Str("component", "FetchCoordinator").Str("resource", res.Name).Logger(),
	}, nil
}

// Resource returns the description the coordinator was built with.
func (c *Coordinator) Resource() Resource {
	return c.resource
}

// FetchAll requests one page and, on success, replaces the cached collection
// with exactly the returned records and the metadata with the returned
// metadata. page and perPage are passed to the server unchecked.
//
// Transport errors are returned unchanged and leave the store as it was.
func (c *Coordinator) FetchAll(ctx context.Context, page, perPage int) (*Page, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	var raw json.RawMessage
	if err := c.getter.Get(ctx, c.resource.Path, query, &raw); err != nil {
		c.logger.Debug().Err(err).Int("page", page).Msg("Page fetch failed.")
		return nil, err
	}

	result, err := c.decodePage(raw)
	if err != nil {
		return nil, err
	}

	// Records and metadata go in together; a failed write leaves both as they were.
	fresh := make(store.Collection, len(result.Records))
	for _, rec := range result.Records {
		fresh[rec.ID] = rec
	}
	if err := c.store.ReplacePage(ctx, c.resource.Name, fresh, result.Meta); err != nil {
		c.logger.Error().Err(err).Int("page", page).Msg("Failed to cache page.")
		return nil, err
	}

	c.logger.Debug().Int("page", page).Int("records", len(result.Records)).Msg("Page cached.")
	return result, nil
}

// FetchByID returns the cached record for id if there is one, without any
// freshness check. Otherwise it requests Path/{id}, upserts the result and
// returns it. Transport errors are returned unchanged.
func (c *Coordinator) FetchByID(ctx context.Context, id store.ID) (store.Record, error) {
	cached, ok, err := c.store.Item(ctx, c.resource.Name, id)
	if err != nil {
		return store.Record{}, err
	}
	if ok {
		c.logger.Debug().Str("id", id.String()).Msg("Cache hit.")
		return cached, nil
	}
	c.logger.Debug().Str("id", id.String()).Msg("Cache miss. Falling back to source.")

	var body map[string]json.RawMessage
	path := strings.TrimSuffix(c.resource.Path, "/") + "/" + url.PathEscape(id.String())
	if err := c.getter.Get(ctx, path, nil, &body); err != nil {
		return store.Record{}, err
	}

	rec, err := c.decodeItem(body)
	if err != nil {
		return store.Record{}, err
	}
	if rec.ID == "" {
		rec.ID = id
	}

	if err := c.store.SetItem(ctx, c.resource.Name, rec.ID, rec); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

// NumberOfPages derives the page count from the cached metadata.
func (c *Coordinator) NumberOfPages(ctx context.Context) (int, error) {
	meta, _, err := c.store.Meta(ctx, c.resource.Name)
	if err != nil {
		return 0, err
	}
	return store.NumberOfPages(meta), nil
}

// Cached returns a snapshot of the cached collection.
func (c *Coordinator) Cached(ctx context.Context) (store.Collection, error) {
	return c.store.Collection(ctx, c.resource.Name)
}

func (c *Coordinator) decodePage(raw json.RawMessage) (*Page, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	list, ok := body[c.resource.ListKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedPayload, c.resource.ListKey)
	}
	var records []store.Record
	if err := json.Unmarshal(list, &records); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedPayload, c.resource.ListKey, err)
	}
	for i, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("%w: record %d has no id", ErrMalformedPayload, i)
		}
	}

	var meta store.Meta
	if m, ok := body["meta"]; ok && !isNull(m) {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, fmt.Errorf("%w: meta: %v", ErrMalformedPayload, err)
		}
	}

	return &Page{Records: records, Meta: meta, Raw: raw}, nil
}

func (c *Coordinator) decodeItem(body map[string]json.RawMessage) (store.Record, error) {
	item, ok := body[c.resource.ItemKey]
	if !ok || isNull(item) {
		return store.Record{}, fmt.Errorf("%w: missing %q", ErrMalformedPayload, c.resource.ItemKey)
	}
	var rec store.Record
	if err := json.Unmarshal(item, &rec); err != nil {
		return store.Record{}, fmt.Errorf("%w: %q: %v", ErrMalformedPayload, c.resource.ItemKey, err)
	}
	return rec, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
