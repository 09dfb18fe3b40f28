package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPResolverLocate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/192.0.2.1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"country_code":"au"}`))
		case "/json/192.0.2.2":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL+"/json/{ip}", nil)
	ctx := context.Background()

	require.Equal(t, Region("AU"), resolver.Locate(ctx, "192.0.2.1"))
	require.Equal(t, RegionUnknown, resolver.Locate(ctx, "192.0.2.2"))
	require.Equal(t, RegionUnknown, resolver.Locate(ctx, "192.0.2.3"))
}

func TestStaticLocate(t *testing.T) {
	t.Parallel()

	static := Static{"192.0.2.1": "AU"}
	require.Equal(t, Region("AU"), static.Locate(context.Background(), "192.0.2.1"))
	require.Equal(t, RegionUnknown, static.Locate(context.Background(), "198.51.100.1"))
}
