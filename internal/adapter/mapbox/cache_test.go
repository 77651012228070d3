package mapbox

import (
	"context"
	"errors"
	"testing"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingResolver struct {
	calls  int
	places []domain.Place
	err    error
}

func (m *countingResolver) LookupPlaces(_ context.Context, _ string) ([]domain.Place, error) {
	m.calls++
	return m.places, m.err
}

// --- CachedResolver tests ---

func TestCachedResolver_CacheHit(t *testing.T) {
	inner := &countingResolver{
		places: []domain.Place{{Name: "Freetown", ID: "place.1", BBox: []float64{-13.3, 8.38, -13.15, 8.5}}},
	}
	cached := NewCachedResolver(inner, 10, testMetrics())

	r1, err := cached.LookupPlaces(context.Background(), "Freetown")
	require.NoError(t, err)
	assert.Equal(t, "Freetown", r1[0].Name)

	r2, err := cached.LookupPlaces(context.Background(), "  freetown ")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	assert.Equal(t, 1, inner.calls, "should only call inner once")
}

func TestCachedResolver_HitsAreCopies(t *testing.T) {
	inner := &countingResolver{
		places: []domain.Place{{Name: "Freetown", BBox: []float64{-13.3, 8.38, -13.15, 8.5}}},
	}
	cached := NewCachedResolver(inner, 10, testMetrics())

	r1, err := cached.LookupPlaces(context.Background(), "Freetown")
	require.NoError(t, err)
	r1[0].Name = "changed"
	r1[0].BBox[0] = 0

	r2, err := cached.LookupPlaces(context.Background(), "Freetown")
	require.NoError(t, err)
	assert.Equal(t, "Freetown", r2[0].Name)
	assert.InDelta(t, -13.3, r2[0].BBox[0], 1e-9)
}

func TestCachedResolver_EmptyAndErrorsNotCached(t *testing.T) {
	inner := &countingResolver{}
	cached := NewCachedResolver(inner, 10, testMetrics())

	_, _ = cached.LookupPlaces(context.Background(), "Atlantis")
	_, _ = cached.LookupPlaces(context.Background(), "Atlantis")
	assert.Equal(t, 2, inner.calls)

	inner.err = errors.New("boom")
	_, err := cached.LookupPlaces(context.Background(), "Freetown")
	require.Error(t, err)
	assert.Zero(t, cached.cache.len())
}

func TestCachedResolver_DifferentKeysMiss(t *testing.T) {
	inner := &countingResolver{places: []domain.Place{{Name: "Place"}}}
	cached := NewCachedResolver(inner, 10, testMetrics())

	_, _ = cached.LookupPlaces(context.Background(), "Freetown")
	_, _ = cached.LookupPlaces(context.Background(), "Havana")

	assert.Equal(t, 2, inner.calls)
}

// --- LRU cache unit tests ---

func placesNamed(name string) []domain.Place {
	return []domain.Place{{Name: name}}
}

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache(3)

	c.put("a", placesNamed("A"))
	c.put("b", placesNamed("B"))

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", result[0].Name)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", placesNamed("A"))
	c.put("b", placesNamed("B"))
	c.put("c", placesNamed("C")) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, "B", result[0].Name)

	result, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", result[0].Name)
	assert.Equal(t, 2, c.len())
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", placesNamed("A"))
	c.put("b", placesNamed("B"))

	c.get("a")

	// "b" is now least recently used.
	c.put("c", placesNamed("C"))

	_, ok := c.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", placesNamed("A1"))
	c.put("a", placesNamed("A2"))

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", result[0].Name)
}
