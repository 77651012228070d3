//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_LookupPlaces(t *testing.T) {
	c := smokeClient(t)

	places, err := c.LookupPlaces(context.Background(), "Freetown, Sierra Leone")
	require.NoError(t, err)
	require.NotEmpty(t, places)

	p := places[0]
	assert.Contains(t, p.Name, "Freetown")
	assert.Equal(t, "SLE", p.CountryID)
	assert.Len(t, p.Poly, 5)
}

func TestSmoke_LookupPlaces_Country(t *testing.T) {
	c := smokeClient(t)

	places, err := c.LookupPlaces(context.Background(), "Cuba")
	require.NoError(t, err)
	require.NotEmpty(t, places)
	assert.Equal(t, "CUB", places[0].CountryID)
}

func TestSmoke_LookupPlaces_Nonsense(t *testing.T) {
	c := smokeClient(t)

	// Fuzzy matching may still return results for nonsense queries, so we
	// only check the client handles any response without error.
	_, err := c.LookupPlaces(context.Background(), "XYZNONEXISTENT99")
	require.NoError(t, err)
}

func TestSmoke_CachedResolver(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedResolver(c, 10, observability.NewMetricsForTesting())

	r1, err := cached.LookupPlaces(context.Background(), "Havana")
	require.NoError(t, err)
	require.NotEmpty(t, r1)

	r2, err := cached.LookupPlaces(context.Background(), "Havana")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
