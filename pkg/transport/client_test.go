package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/illmade-knight/go-customercache/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *transport.Client {
	t.Helper()
	c, err := transport.NewClient(&transport.Config{BaseURL: baseURL, Timeout: 5 * time.Second}, nil, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestClient_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("Decodes a JSON body and forwards the query", func(t *testing.T) {
		var gotPath, gotQuery, gotRequestID string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotRequestID = r.Header.Get(transport.RequestIDHeader)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"ok"}`))
		}))
		t.Cleanup(server.Close)

		c := newTestClient(t, server.URL+"/api/")
		var out struct {
			Name string `json:"name"`
		}
		err := c.Get(ctx, "/customers", url.Values{"page": {"2"}, "per_page": {"10"}}, &out)

		require.NoError(t, err)
		assert.Equal(t, "ok", out.Name)
		assert.Equal(t, "/api/customers", gotPath)
		assert.Equal(t, "page=2&per_page=10", gotQuery)
		assert.NotEmpty(t, gotRequestID)
	})

	t.Run("Non-2xx becomes a StatusError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "customer not found", http.StatusNotFound)
		}))
		t.Cleanup(server.Close)

		c := newTestClient(t, server.URL)
		var out map[string]any
		err := c.Get(ctx, "/customers/9", nil, &out)

		require.Error(t, err)
		var statusErr *transport.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
		assert.Equal(t, "customer not found", statusErr.Body)
		assert.True(t, transport.IsNotFound(err))
	})

	t.Run("Malformed body is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		t.Cleanup(server.Close)

		c := newTestClient(t, server.URL)
		var out map[string]any
		err := c.Get(ctx, "/customers", nil, &out)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding response")
		assert.False(t, transport.IsNotFound(err))
	})

	t.Run("Network failure is returned", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		addr := server.URL
		server.Close()

		c := newTestClient(t, addr)
		var out map[string]any
		assert.Error(t, c.Get(ctx, "/customers", nil, &out))
	})
}

func TestNewClient_Validation(t *testing.T) {
	_, err := transport.NewClient(&transport.Config{}, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = transport.NewClient(&transport.Config{BaseURL: "customers.local"}, nil, zerolog.Nop())
	assert.Error(t, err)
}
