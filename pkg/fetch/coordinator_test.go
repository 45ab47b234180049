package fetch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-customercache/pkg/fetch"
	"github.com/illmade-knight/go-customercache/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customersResource = fetch.Resource{
	Name:    "customers",
	Path:    "/customers",
	ListKey: "customers",
	ItemKey: "customer",
}

// mockGetter is a test double for fetch.Getter. Bodies are JSON strings that
// are decoded into whatever the coordinator asks for.
type mockGetter struct {
	GetFunc   func(path string, query url.Values) (string, error)
	callCount atomic.Int32
	lastPath  atomic.Value
	lastQuery atomic.Value
}

func (m *mockGetter) Get(_ context.Context, path string, query url.Values, out any) error {
	m.callCount.Add(1)
	m.lastPath.Store(path)
	m.lastQuery.Store(query)
	if m.GetFunc == nil {
		return fmt.Errorf("mock getter not implemented")
	}
	body, err := m.GetFunc(path, query)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), out)
}

func newCoordinator(t *testing.T, getter fetch.Getter) (*fetch.Coordinator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(zerolog.Nop())
	c, err := fetch.NewCoordinator(customersResource, getter, st, zerolog.Nop())
	require.NoError(t, err)
	return c, st
}

func TestNewCoordinator_Validation(t *testing.T) {
	st := store.NewMemoryStore(zerolog.Nop())

	_, err := fetch.NewCoordinator(customersResource, nil, st, zerolog.Nop())
	assert.Error(t, err)

	_, err = fetch.NewCoordinator(fetch.Resource{Name: "customers"}, &mockGetter{}, st, zerolog.Nop())
	assert.Error(t, err)
}

func TestCoordinator_FetchAll(t *testing.T) {
	ctx := context.Background()

	t.Run("Replaces the collection and metadata", func(t *testing.T) {
		// Arrange
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) {
				return `{"customers":[{"id":1},{"id":2},{"id":3}],"meta":{"page":1,"per_page":25,"total":3}}`, nil
			},
		}
		c, st := newCoordinator(t, getter)
		require.NoError(t, st.SetItem(ctx, "customers", "99", store.Record{ID: "99", Raw: []byte(`{"id":99}`)}))

		// Act
		page, err := c.FetchAll(ctx, 1, 25)

		// Assert
		require.NoError(t, err)
		assert.Len(t, page.Records, 3)
		assert.JSONEq(t, `{"customers":[{"id":1},{"id":2},{"id":3}],"meta":{"page":1,"per_page":25,"total":3}}`, string(page.Raw))

		coll, err := c.Cached(ctx)
		require.NoError(t, err)
		assert.Len(t, coll, 3)
		assert.Contains(t, coll, store.ID("1"))
		assert.Contains(t, coll, store.ID("2"))
		assert.Contains(t, coll, store.ID("3"))
		assert.NotContains(t, coll, store.ID("99"), "previously cached records must not survive a refresh")

		pages, err := c.NumberOfPages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, pages)

		assert.Equal(t, "/customers", getter.lastPath.Load())
		query := getter.lastQuery.Load().(url.Values)
		assert.Equal(t, "1", query.Get("page"))
		assert.Equal(t, "25", query.Get("per_page"))
	})

	t.Run("Passes paging through unchecked", func(t *testing.T) {
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) {
				return `{"customers":[],"meta":{"total":0}}`, nil
			},
		}
		c, _ := newCoordinator(t, getter)

		_, err := c.FetchAll(ctx, -3, 0)

		require.NoError(t, err)
		query := getter.lastQuery.Load().(url.Values)
		assert.Equal(t, "-3", query.Get("page"))
		assert.Equal(t, "0", query.Get("per_page"))
	})

	t.Run("Duplicate ids in a page keep the last record", func(t *testing.T) {
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) {
				return `{"customers":[{"id":1,"v":"a"},{"id":"1","v":"b"}],"meta":{"total":2}}`, nil
			},
		}
		c, st := newCoordinator(t, getter)

		_, err := c.FetchAll(ctx, 1, 25)

		require.NoError(t, err)
		rec, ok, err := st.Item(ctx, "customers", "1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"id":"1","v":"b"}`, string(rec.Raw))
	})

	t.Run("Transport failure leaves the store untouched", func(t *testing.T) {
		// Arrange
		expectedErr := errors.New("connection refused")
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) { return "", expectedErr },
		}
		c, st := newCoordinator(t, getter)
		before := store.Collection{"5": {ID: "5", Raw: []byte(`{"id":5}`)}}
		require.NoError(t, st.SetResource(ctx, "customers", before))
		require.NoError(t, st.SetMeta(ctx, "customers", store.NewMeta(2, 10, 50)))

		// Act
		page, err := c.FetchAll(ctx, 1, 25)

		// Assert
		assert.Nil(t, page)
		assert.Same(t, expectedErr, err, "transport errors must be returned unchanged")

		coll, err := st.Collection(ctx, "customers")
		require.NoError(t, err)
		assert.Equal(t, before, coll)
		meta, ok, err := st.Meta(ctx, "customers")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, store.NewMeta(2, 10, 50), meta)
	})

	t.Run("Malformed payload leaves the store untouched", func(t *testing.T) {
		testCases := map[string]string{
			"missing list":      `{"meta":{"total":1}}`,
			"record without id": `{"customers":[{"name":"x"}],"meta":{"total":1}}`,
			"list not array":    `{"customers":{"id":1}}`,
		}
		for name, body := range testCases {
			t.Run(name, func(t *testing.T) {
				getter := &mockGetter{
					GetFunc: func(string, url.Values) (string, error) { return body, nil },
				}
				c, st := newCoordinator(t, getter)
				require.NoError(t, st.SetItem(ctx, "customers", "5", store.Record{ID: "5", Raw: []byte(`{"id":5}`)}))

				_, err := c.FetchAll(ctx, 1, 25)

				require.ErrorIs(t, err, fetch.ErrMalformedPayload)
				coll, err := st.Collection(ctx, "customers")
				require.NoError(t, err)
				assert.Len(t, coll, 1)
			})
		}
	})

	t.Run("Missing meta resets page count", func(t *testing.T) {
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) { return `{"customers":null}`, nil },
		}
		c, st := newCoordinator(t, getter)
		require.NoError(t, st.SetMeta(ctx, "customers", store.NewMeta(1, 25, 101)))

		_, err := c.FetchAll(ctx, 1, 25)

		require.NoError(t, err)
		pages, err := c.NumberOfPages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, pages)
	})
}

func TestCoordinator_FetchByID(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss fetches once and populates the cache", func(t *testing.T) {
		// Arrange
		getter := &mockGetter{
			GetFunc: func(path string, _ url.Values) (string, error) {
				if path == "/customers/7" {
					return `{"customer":{"id":7,"attributes":{"email":"c7@example.com"}}}`, nil
				}
				return "", errors.New("unexpected path " + path)
			},
		}
		c, st := newCoordinator(t, getter)

		// Act 1: first fetch is a miss.
		rec, err := c.FetchByID(ctx, "7")

		// Assert 1
		require.NoError(t, err)
		assert.Equal(t, store.ID("7"), rec.ID)
		assert.Equal(t, int32(1), getter.callCount.Load(), "source should be called once on a miss")
		_, ok, err := st.Item(ctx, "customers", "7")
		require.NoError(t, err)
		assert.True(t, ok)

		// Act 2: second fetch is a hit.
		again, err := c.FetchByID(ctx, "7")

		// Assert 2
		require.NoError(t, err)
		assert.Equal(t, rec, again)
		assert.Equal(t, int32(1), getter.callCount.Load(), "source should NOT be called on a cache hit")
	})

	t.Run("Hit returns the cached value even when stale", func(t *testing.T) {
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) {
				return `{"customer":{"id":3,"v":"fresh"}}`, nil
			},
		}
		c, st := newCoordinator(t, getter)
		stale := store.Record{ID: "3", Raw: []byte(`{"id":3,"v":"stale"}`)}
		require.NoError(t, st.SetItem(ctx, "customers", "3", stale))

		rec, err := c.FetchByID(ctx, "3")

		require.NoError(t, err)
		assert.Equal(t, stale, rec)
		assert.Equal(t, int32(0), getter.callCount.Load())
	})

	t.Run("Failure is returned unchanged and nothing is cached", func(t *testing.T) {
		expectedErr := errors.New("source is down")
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) { return "", expectedErr },
		}
		c, st := newCoordinator(t, getter)

		_, err := c.FetchByID(ctx, "8")

		assert.Same(t, expectedErr, err)
		coll, err := st.Collection(ctx, "customers")
		require.NoError(t, err)
		assert.Empty(t, coll)
	})

	t.Run("Record is keyed by the id the server returns", func(t *testing.T) {
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) {
				return `{"customer":{"id":"cus_1"}}`, nil
			},
		}
		c, st := newCoordinator(t, getter)

		_, err := c.FetchByID(ctx, "alias")

		require.NoError(t, err)
		_, ok, err := st.Item(ctx, "customers", "cus_1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Record without id is keyed by the requested id", func(t *testing.T) {
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) {
				return `{"customer":{"name":"anon"}}`, nil
			},
		}
		c, st := newCoordinator(t, getter)

		rec, err := c.FetchByID(ctx, "11")

		require.NoError(t, err)
		assert.Equal(t, store.ID("11"), rec.ID)
		_, ok, err := st.Item(ctx, "customers", "11")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Missing item key is malformed", func(t *testing.T) {
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) { return `{"other":{}}`, nil },
		}
		c, _ := newCoordinator(t, getter)

		_, err := c.FetchByID(ctx, "1")

		assert.ErrorIs(t, err, fetch.ErrMalformedPayload)
	})

	t.Run("Ids are path escaped", func(t *testing.T) {
		getter := &mockGetter{
			GetFunc: func(string, url.Values) (string, error) { return `{"customer":{"id":"a b"}}`, nil },
		}
		c, _ := newCoordinator(t, getter)

		_, err := c.FetchByID(ctx, "a b")

		require.NoError(t, err)
		assert.Equal(t, "/customers/a%20b", getter.lastPath.Load())
	})
}

// failingStore is a MemoryStore whose writes of page metadata fail.
type failingStore struct {
	*store.MemoryStore
	err error
}

func (f *failingStore) SetMeta(context.Context, string, store.Meta) error {
	return f.err
}

func (f *failingStore) ReplacePage(context.Context, string, store.Collection, store.Meta) error {
	return f.err
}

func TestCoordinator_FetchAll_StoreFailureIsAtomic(t *testing.T) {
	ctx := context.Background()

	// Arrange: a cached page of one record with matching metadata.
	writeErr := errors.New("meta write failed")
	st := &failingStore{MemoryStore: store.NewMemoryStore(zerolog.Nop()), err: writeErr}
	before := store.Collection{"5": {ID: "5", Raw: []byte(`{"id":5}`)}}
	require.NoError(t, st.MemoryStore.SetResource(ctx, "customers", before))
	require.NoError(t, st.MemoryStore.SetMeta(ctx, "customers", store.NewMeta(1, 10, 50)))

	getter := &mockGetter{
		GetFunc: func(string, url.Values) (string, error) {
			return `{"customers":[{"id":1}],"meta":{"page":1,"per_page":25,"total":1}}`, nil
		},
	}
	c, err := fetch.NewCoordinator(customersResource, getter, st, zerolog.Nop())
	require.NoError(t, err)

	// Act
	page, err := c.FetchAll(ctx, 1, 25)

	// Assert: the error surfaces and neither records nor metadata changed.
	assert.Nil(t, page)
	require.ErrorIs(t, err, writeErr)

	coll, err := st.Collection(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, before, coll)
	pages, err := c.NumberOfPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, pages)
}

func TestCoordinator_ConcurrentFetchByID(t *testing.T) {
	ctx := context.Background()
	const callers = 8

	// Every Get waits until all callers have reached the network, so each of
	// them must have seen a miss.
	var arrived atomic.Int32
	release := make(chan struct{})
	getter := &mockGetter{
		GetFunc: func(string, url.Values) (string, error) {
			if arrived.Add(1) == callers {
				close(release)
			}
			select {
			case <-release:
				return `{"customer":{"id":7}}`, nil
			case <-time.After(5 * time.Second):
				return "", errors.New("timed out waiting for concurrent callers")
			}
		},
	}
	c, st := newCoordinator(t, getter)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := c.FetchByID(ctx, "7")
			assert.NoError(t, err)
			assert.Equal(t, store.ID("7"), rec.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(callers), getter.callCount.Load(), "concurrent misses are not deduplicated")
	coll, err := st.Collection(ctx, "customers")
	require.NoError(t, err)
	assert.Len(t, coll, 1)
}

func TestCoordinator_ConcurrentFetchAll(t *testing.T) {
	ctx := context.Background()
	responses := map[string]string{
		"1": `{"customers":[{"id":1},{"id":2}],"meta":{"page":1,"per_page":2,"total":5}}`,
		"2": `{"customers":[{"id":3},{"id":4},{"id":5}],"meta":{"page":2,"per_page":3,"total":5}}`,
	}
	want := map[string][]store.ID{
		"1": {"1", "2"},
		"2": {"3", "4", "5"},
	}
	getter := &mockGetter{
		GetFunc: func(_ string, query url.Values) (string, error) {
			return responses[query.Get("page")], nil
		},
	}
	c, st := newCoordinator(t, getter)

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for _, page := range []int{1, 2} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.FetchAll(ctx, page, 25)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		// The final state is exactly one response: its records and its metadata.
		coll, err := st.Collection(ctx, "customers")
		require.NoError(t, err)
		meta, ok, err := st.Meta(ctx, "customers")
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, meta.Page)

		winner := fmt.Sprint(*meta.Page)
		ids := make([]store.ID, 0, len(coll))
		for id := range coll {
			ids = append(ids, id)
		}
		assert.ElementsMatch(t, want[winner], ids, "round %d: collection must match the page its metadata came from", round)
	}
}
